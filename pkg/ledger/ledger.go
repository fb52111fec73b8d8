// Package ledger is the append-only record of every payment attempt and its
// outcome. Entries are created the moment a pipeline run starts and finalized
// exactly once; only status, tx hash and details are mutable after creation.
package ledger

import (
	"time"
)

// Status of a ledger entry.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal returns true for statuses that end an entry's lifecycle.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TxHashPending and TxHashFailed are the literal placeholder hashes used
// before submission and on failure without a known hash.
const (
	TxHashPending = "pending"
	TxHashFailed  = "failed"
)

// Entry is one durable payment record. Consumers must tolerate unknown extra
// fields and missing optional ones; there is no schema versioning.
type Entry struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    Status    `json:"status"`
	Amount    string    `json:"amount"`
	Token     string    `json:"token"`
	USDValue  string    `json:"usd_value,omitempty"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Chain     int       `json:"chain"`
	TxHash    string    `json:"tx_hash"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists ledger entries. Implementations must be safe under
// interleaved calls from concurrently running pipeline runs.
//
// UpdateStatus never returns an error: it is called on the pipeline's
// critical path and an unknown id is a no-op. Once an entry reaches a
// terminal status, further updates are ignored, so repeated finalization is
// harmless. The details argument, when non-empty, records the human-readable
// failure reason.
type Store interface {
	Append(e Entry) (string, error)
	UpdateStatus(id string, status Status, txHash string, details string)
	List() []Entry
	Clear() error
}
