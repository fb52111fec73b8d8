package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	entryKeyPrefix = "payment:"
	orderKey       = "payments"
)

// RedisStore keeps entries in Redis, one JSON value per entry under a
// well-known key plus a list holding insertion order. Used when several
// clients share one ledger.
type RedisStore struct {
	pool *redis.Pool
	log  *zap.Logger
}

func timeoutDialOptions() []redis.DialOption {
	return []redis.DialOption{
		redis.DialConnectTimeout(5 * time.Second),
		redis.DialReadTimeout(5 * time.Second),
		redis.DialWriteTimeout(5 * time.Second),
	}
}

// NewRedisStore connects a pool to the given address.
func NewRedisStore(addr string, log *zap.Logger) *RedisStore {
	pool := &redis.Pool{
		MaxIdle: 5,
		Dial:    func() (redis.Conn, error) { return redis.Dial("tcp", addr, timeoutDialOptions()...) },
	}
	return &RedisStore{pool: pool, log: log}
}

func (s *RedisStore) Append(e Entry) (string, error) {
	conn := s.pool.Get()
	defer conn.Close()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("cannot marshal ledger entry: %w", err)
	}

	created, err := redis.Int(conn.Do("SETNX", entryKeyPrefix+e.ID, data))
	if err != nil {
		return "", fmt.Errorf("redis set: %w", err)
	}
	if created == 0 {
		return "", fmt.Errorf("ledger entry '%s' already exists", e.ID)
	}

	if _, err := conn.Do("RPUSH", orderKey, e.ID); err != nil {
		return "", fmt.Errorf("redis rpush: %w", err)
	}

	return e.ID, nil
}

func (s *RedisStore) UpdateStatus(id string, status Status, txHash string, details string) {
	conn := s.pool.Get()
	defer conn.Close()

	data, err := redis.Bytes(conn.Do("GET", entryKeyPrefix+id))
	if err != nil {
		if !errors.Is(err, redis.ErrNil) {
			s.log.Error("redis get", zap.String("id", id), zap.Error(err))
		}
		return
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		s.log.Error("corrupt ledger entry", zap.String("id", id), zap.Error(err))
		return
	}
	if e.Status.Terminal() {
		return
	}

	e.Status = status
	if txHash != "" {
		e.TxHash = txHash
	}
	if details != "" {
		e.Details = details
	}

	updated, err := json.Marshal(e)
	if err != nil {
		s.log.Error("cannot marshal ledger entry", zap.String("id", id), zap.Error(err))
		return
	}
	if _, err := conn.Do("SET", entryKeyPrefix+id, updated); err != nil {
		s.log.Error("redis set", zap.String("id", id), zap.Error(err))
	}
}

func (s *RedisStore) List() []Entry {
	conn := s.pool.Get()
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("LRANGE", orderKey, 0, -1))
	if err != nil {
		s.log.Error("redis lrange", zap.Error(err))
		return nil
	}

	out := make([]Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		data, err := redis.Bytes(conn.Do("GET", entryKeyPrefix+ids[i]))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (s *RedisStore) Clear() error {
	conn := s.pool.Get()
	defer conn.Close()

	ids, err := redis.Strings(conn.Do("LRANGE", orderKey, 0, -1))
	if err != nil {
		return fmt.Errorf("redis lrange: %w", err)
	}
	for _, id := range ids {
		if _, err := conn.Do("DEL", entryKeyPrefix+id); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	if _, err := conn.Do("DEL", orderKey); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.pool.Close()
}
