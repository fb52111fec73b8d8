package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"stablepay/pkg/types"
)

// ErrSessionActive is returned when Connect is called while a session is
// already active. Switching backends is always an explicit
// Disconnect-then-Connect, never an implicit swap.
var ErrSessionActive = errors.New("a wallet session is already active; disconnect first")

// Factory builds an adapter for a backend kind.
type Factory func() (Adapter, error)

// Manager holds the single active wallet session and multiplexes calls to
// whichever adapter backs it. All session mutation goes through here.
//
// mu guards only the session bookkeeping and is never held across a network
// or signing call, so Session readers stay responsive while a signature is
// pending (signing has no software timeout). adapterMu serializes use of the
// active adapter instead.
type Manager struct {
	mu        sync.Mutex
	adapterMu sync.Mutex
	factories map[types.BackendKind]Factory
	adapters  map[types.BackendKind]Adapter
	active    Adapter
	session   types.WalletSession
	log       *zap.Logger
}

// NewManager creates a session manager over the given backend factories.
func NewManager(factories map[types.BackendKind]Factory, log *zap.Logger) *Manager {
	return &Manager{
		factories: factories,
		adapters:  make(map[types.BackendKind]Adapter),
		log:       log,
	}
}

// Connect initializes the adapter for the given backend (idempotent if the
// adapter already exists), connects it, and stores address and detected
// chain. On failure the session stays disconnected and the triggering error
// is surfaced unchanged. A second Connect without an intervening Disconnect
// is rejected with ErrSessionActive.
func (m *Manager) Connect(ctx context.Context, kind types.BackendKind) (types.WalletSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session.Connected {
		return m.session, ErrSessionActive
	}

	adapter, ok := m.adapters[kind]
	if !ok {
		factory, ok := m.factories[kind]
		if !ok {
			return m.session, fmt.Errorf("unknown wallet backend: %q", kind)
		}
		built, err := factory()
		if err != nil {
			return m.session, err
		}
		adapter = built
		m.adapters[kind] = adapter
	}

	accounts, err := adapter.Connect(ctx)
	if err != nil {
		return m.session, err
	}
	if len(accounts) == 0 {
		adapter.Disconnect()
		return m.session, fmt.Errorf("%w: backend returned no accounts", types.ErrConnectionRejected)
	}

	m.active = adapter
	m.session = types.WalletSession{
		Backend:   kind,
		Address:   accounts[0],
		ChainID:   adapter.ChainID(),
		Connected: true,
	}

	m.log.Info("wallet connected",
		zap.String("backend", string(kind)),
		zap.String("address", m.session.Address),
		zap.Int("chain_id", m.session.ChainID))

	return m.session, nil
}

// Disconnect tears down the active adapter and resets the session. Always
// succeeds; a no-op when nothing is connected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		m.active.Disconnect()
		m.active = nil
	}
	m.session = types.WalletSession{}
}

// Session returns a copy of the current session state.
func (m *Manager) Session() types.WalletSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// activeAdapter snapshots the active adapter and session under the lock.
func (m *Manager) activeAdapter() (Adapter, types.WalletSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.session
}

// setChainID records a chain switch, unless the session moved on (the
// adapter was disconnected while its call was in flight).
func (m *Manager) setChainID(adapter Adapter, chainID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == adapter {
		m.session.ChainID = chainID
	}
}

// SwitchChain delegates to the active adapter.
func (m *Manager) SwitchChain(ctx context.Context, chainID int) error {
	adapter, _ := m.activeAdapter()
	if adapter == nil {
		return types.ErrNoActiveSession
	}

	m.adapterMu.Lock()
	defer m.adapterMu.Unlock()

	if err := adapter.SwitchChain(ctx, chainID); err != nil {
		return err
	}
	m.setChainID(adapter, chainID)
	return nil
}

// Balance returns the active account's native balance.
func (m *Manager) Balance(ctx context.Context) (*big.Int, error) {
	adapter, session := m.activeAdapter()
	if adapter == nil {
		return nil, types.ErrNoActiveSession
	}
	return adapter.Balance(ctx, session.Address)
}

// Execute signs and sends one execution step through the active adapter,
// switching the backend to the step's chain first when needed. The signing
// call can block for as long as the human or custody backend takes; it runs
// under adapterMu only, so Session and other readers never wait on it.
func (m *Manager) Execute(ctx context.Context, step types.ExecutionStep) (string, error) {
	adapter, _ := m.activeAdapter()
	if adapter == nil {
		return "", types.ErrNoActiveSession
	}

	value := big.NewInt(0)
	if step.Value != "" {
		parsed, ok := new(big.Int).SetString(step.Value, 10)
		if !ok {
			return "", fmt.Errorf("malformed step value: %q", step.Value)
		}
		value = parsed
	}

	var data []byte
	if step.CallData != "" {
		decoded, err := hexutil.Decode(ensureHexPrefix(step.CallData))
		if err != nil {
			return "", fmt.Errorf("malformed step calldata: %w", err)
		}
		data = decoded
	}

	m.adapterMu.Lock()
	defer m.adapterMu.Unlock()

	if step.ChainID != 0 && step.ChainID != adapter.ChainID() {
		if err := adapter.SwitchChain(ctx, step.ChainID); err != nil {
			return "", err
		}
		m.setChainID(adapter, step.ChainID)
	}

	return adapter.SignAndSend(ctx, step.To, value, data)
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}
