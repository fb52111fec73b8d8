package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

const DefaultStorageFileName = ".stablepay-ledger.json"

// FileStore persists entries as an ordered JSON list in a single local file.
type FileStore struct {
	filePath string
	mu       sync.RWMutex
	entries  []Entry
	index    map[string]int
}

// fileLayout is the JSON structure for storage
type fileLayout struct {
	Entries []Entry `json:"entries"`
}

// NewFileStore creates a file-backed store, loading existing entries if the
// file is present.
func NewFileStore(filePath string) (*FileStore, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultStorageFileName)
	}

	store := &FileStore{
		filePath: filePath,
		index:    make(map[string]int),
	}

	if err := store.load(); err != nil {
		// A missing file is fine; it is created on first append.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
	}

	return store, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var layout fileLayout
	if err := json.Unmarshal(data, &layout); err != nil {
		return fmt.Errorf("failed to unmarshal ledger: %w", err)
	}

	s.entries = layout.Entries
	s.index = make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		s.index[e.ID] = i
	}

	return nil
}

// save writes the entry list to disk. Callers must hold at least a read lock.
func (s *FileStore) save() error {
	data, err := json.MarshalIndent(fileLayout{Entries: s.entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Append adds a new entry and returns its id, generating one if unset.
func (s *FileStore) Append(e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, exists := s.index[e.ID]; exists {
		return "", fmt.Errorf("ledger entry '%s' already exists", e.ID)
	}

	s.entries = append(s.entries, e)
	s.index[e.ID] = len(s.entries) - 1

	if err := s.save(); err != nil {
		return "", err
	}
	return e.ID, nil
}

// UpdateStatus finalizes an entry in place. Unknown ids and updates to
// already-terminal entries are no-ops; amount/type/from/to are never touched.
func (s *FileStore) UpdateStatus(id string, status Status, txHash string, details string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.index[id]
	if !exists {
		return
	}
	if s.entries[i].Status.Terminal() {
		return
	}

	s.entries[i].Status = status
	if txHash != "" {
		s.entries[i].TxHash = txHash
	}
	if details != "" {
		s.entries[i].Details = details
	}

	// Persistence failures must not surface into the pipeline path; the
	// in-memory state stays authoritative for this session.
	_ = s.save()
}

// List returns all entries, newest first.
func (s *FileStore) List() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		out = append(out, s.entries[i])
	}
	return out
}

// Get returns a single entry by id.
func (s *FileStore) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, exists := s.index[id]
	if !exists {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Clear removes all entries.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.index = make(map[string]int)
	return s.save()
}

// FilePath returns the storage file path.
func (s *FileStore) FilePath() string {
	return s.filePath
}
