package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"stablepay/pkg/types"
)

const custodyTimeout = 30 * time.Second

// CustodyAdapter is the delegated-custody backend: it authenticates a user
// token against a custody API and proxies all signing server-side. The
// custody service holds the keys; this adapter only drives its REST surface.
type CustodyAdapter struct {
	baseURL    string
	token      string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	log        *zap.Logger
	address    string
	chainID    int
	connected  bool
}

type custodySession struct {
	Address string `json:"address"`
	ChainID int    `json:"chainId"`
}

type custodyError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewCustodyAdapter creates the delegated-custody backend.
func NewCustodyAdapter(baseURL, token string, log *zap.Logger) *CustodyAdapter {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "custody",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &CustodyAdapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: custodyTimeout},
		breaker:    breaker,
		log:        log,
	}
}

func (c *CustodyAdapter) Kind() types.BackendKind { return types.BackendDelegatedCustody }

func (c *CustodyAdapter) ChainID() int { return c.chainID }

func (c *CustodyAdapter) Connect(ctx context.Context) ([]string, error) {
	var session custodySession
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &session); err != nil {
		return nil, err
	}

	c.address = session.Address
	c.chainID = session.ChainID
	c.connected = true

	c.log.Info("custody session established",
		zap.String("address", session.Address),
		zap.Int("chain_id", session.ChainID))

	return []string{session.Address}, nil
}

func (c *CustodyAdapter) Accounts(ctx context.Context) ([]string, error) {
	var resp struct {
		Accounts []string `json:"accounts"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

func (c *CustodyAdapter) Balance(ctx context.Context, address string) (*big.Int, error) {
	if address == "" {
		address = c.address
	}

	var resp struct {
		Balance string `json:"balance"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/accounts/"+address+"/balance", nil, &resp); err != nil {
		return nil, err
	}

	balance, ok := new(big.Int).SetString(resp.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("%w: malformed balance %q", types.ErrNetworkError, resp.Balance)
	}
	return balance, nil
}

func (c *CustodyAdapter) SignAndSend(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	if !c.connected {
		return "", types.ErrNoActiveSession
	}
	if value == nil {
		value = big.NewInt(0)
	}

	req := map[string]any{
		"to":      to,
		"value":   value.String(),
		"data":    fmt.Sprintf("0x%x", data),
		"chainId": c.chainID,
	}

	var resp struct {
		TxHash string `json:"txHash"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/transactions", req, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

func (c *CustodyAdapter) SwitchChain(ctx context.Context, chainID int) error {
	req := map[string]any{"chainId": chainID}

	err := c.do(ctx, http.MethodPost, "/v1/networks/switch", req, nil)
	if err == nil {
		c.chainID = chainID
		return nil
	}
	if !strings.Contains(err.Error(), "unknown_chain") {
		return err
	}

	// The service does not know this chain; register it once, then retry.
	if addErr := c.do(ctx, http.MethodPost, "/v1/networks", req, nil); addErr != nil {
		return fmt.Errorf("%w: chain %d", types.ErrUnsupportedChain, chainID)
	}
	if err := c.do(ctx, http.MethodPost, "/v1/networks/switch", req, nil); err != nil {
		return fmt.Errorf("%w: chain %d", types.ErrUnsupportedChain, chainID)
	}
	c.chainID = chainID
	return nil
}

func (c *CustodyAdapter) Disconnect() {
	if !c.connected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// Best effort; a dead custody service must not block disconnecting.
	_ = c.do(ctx, http.MethodDelete, "/v1/sessions", nil, nil)

	c.connected = false
	c.address = ""
	c.chainID = 0
}

// do runs one authenticated request through the circuit breaker and decodes
// the response, mapping HTTP failures onto the wallet error taxonomy.
func (c *CustodyAdapter) do(ctx context.Context, method, path string, body any, out any) error {
	result, err := c.breaker.Execute(func() (any, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrBackendUnavailable, err)
		}
		defer resp.Body.Close()

		raw, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return raw, nil
		}
		return nil, c.mapStatus(resp.StatusCode, raw)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return fmt.Errorf("%w: custody circuit open", types.ErrBackendUnavailable)
		}
		return err
	}

	if out == nil {
		return nil
	}
	raw := result.([]byte)
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: malformed custody response: %v", types.ErrNetworkError, err)
	}
	return nil
}

func (c *CustodyAdapter) mapStatus(status int, raw []byte) error {
	var ce custodyError
	_ = json.Unmarshal(raw, &ce)

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", types.ErrConnectionRejected, ce.Message)
	case ce.Code == "user_rejected":
		return fmt.Errorf("%w: %s", types.ErrUserRejected, ce.Message)
	case ce.Code == "insufficient_funds":
		return fmt.Errorf("%w: %s", types.ErrInsufficientFunds, ce.Message)
	case ce.Code == "unknown_chain":
		// Recognized by SwitchChain's add-chain fallback.
		return fmt.Errorf("unknown_chain: %s", ce.Message)
	case status >= 500:
		return fmt.Errorf("%w: custody service returned %d", types.ErrBackendUnavailable, status)
	default:
		if ce.Message != "" {
			return fmt.Errorf("%w: custody error (status %d): %s", types.ErrNetworkError, status, ce.Message)
		}
		return fmt.Errorf("%w: custody error (status %d): %s", types.ErrNetworkError, status, string(raw))
	}
}
