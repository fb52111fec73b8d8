// Package wallet unifies heterogeneous signing backends behind one
// capability interface and owns the single active wallet session.
package wallet

import (
	"context"
	"math/big"

	"stablepay/pkg/types"
)

// Adapter is the capability set every signing/custody backend implements.
// The rest of the system never branches on which backend is active; all
// calls go through the session manager.
type Adapter interface {
	// Kind identifies the backend variant.
	Kind() types.BackendKind

	// Connect establishes the backend session and returns its accounts.
	// Fails with ErrConnectionRejected if the user or backend declines,
	// ErrBackendUnavailable if the backend cannot be reached.
	Connect(ctx context.Context) ([]string, error)

	// Accounts returns the addresses the backend controls.
	Accounts(ctx context.Context) ([]string, error)

	// Balance returns the native balance in base units. Fails with
	// ErrNetworkError on RPC failure; callers may retry.
	Balance(ctx context.Context, address string) (*big.Int, error)

	// SignAndSend signs and broadcasts a transaction, returning its hash.
	// Fails with ErrUserRejected, ErrInsufficientFunds or ErrNetworkError.
	SignAndSend(ctx context.Context, to string, value *big.Int, data []byte) (string, error)

	// SwitchChain moves the backend to the given chain. Backends that do not
	// recognize the chain attempt a one-time add-chain fallback before
	// failing with ErrUnsupportedChain.
	SwitchChain(ctx context.Context, chainID int) error

	// ChainID is the chain the backend is currently on.
	ChainID() int

	// Disconnect tears the backend session down. Always succeeds; idempotent.
	Disconnect()
}
