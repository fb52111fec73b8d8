package wallet

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stablepay/pkg/types"
)

// fakeAdapter satisfies the full capability set in memory.
type fakeAdapter struct {
	kind        types.BackendKind
	accounts    []string
	chainID     int
	connectErr  error
	sendErr     error
	sentTo      []string
	sentData    [][]byte
	switchedTo  []int
	disconnects int

	// When set, SignAndSend signals signStarted and parks on signRelease,
	// standing in for a signature waiting on a human.
	signStarted chan struct{}
	signRelease chan struct{}
}

func (f *fakeAdapter) Kind() types.BackendKind { return f.kind }

func (f *fakeAdapter) Connect(ctx context.Context) ([]string, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return f.accounts, nil
}

func (f *fakeAdapter) Accounts(ctx context.Context) ([]string, error) { return f.accounts, nil }

func (f *fakeAdapter) Balance(ctx context.Context, address string) (*big.Int, error) {
	return big.NewInt(1e18), nil
}

func (f *fakeAdapter) SignAndSend(ctx context.Context, to string, value *big.Int, data []byte) (string, error) {
	if f.signStarted != nil {
		close(f.signStarted)
	}
	if f.signRelease != nil {
		<-f.signRelease
	}
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sentTo = append(f.sentTo, to)
	f.sentData = append(f.sentData, data)
	return "0xhash", nil
}

func (f *fakeAdapter) SwitchChain(ctx context.Context, chainID int) error {
	f.switchedTo = append(f.switchedTo, chainID)
	f.chainID = chainID
	return nil
}

func (f *fakeAdapter) ChainID() int { return f.chainID }

func (f *fakeAdapter) Disconnect() { f.disconnects++ }

func newTestManager(adapters ...*fakeAdapter) *Manager {
	factories := make(map[types.BackendKind]Factory)
	for _, a := range adapters {
		a := a
		factories[a.kind] = func() (Adapter, error) { return a, nil }
	}
	return NewManager(factories, zap.NewNop())
}

func TestManagerConnect(t *testing.T) {
	local := &fakeAdapter{
		kind:     types.BackendLocalSigner,
		accounts: []string{"0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"},
		chainID:  1,
	}
	mgr := newTestManager(local)

	session, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)
	assert.True(t, session.Connected)
	assert.Equal(t, types.BackendLocalSigner, session.Backend)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", session.Address)
	assert.Equal(t, 1, session.ChainID)
}

func TestManagerConnectFailureLeavesNoSession(t *testing.T) {
	local := &fakeAdapter{
		kind:       types.BackendLocalSigner,
		connectErr: types.ErrConnectionRejected,
	}
	mgr := newTestManager(local)

	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.ErrorIs(t, err, types.ErrConnectionRejected)

	session := mgr.Session()
	assert.False(t, session.Connected)
	assert.Equal(t, types.BackendNone, session.Backend)
}

func TestManagerAtMostOneActiveSession(t *testing.T) {
	local := &fakeAdapter{kind: types.BackendLocalSigner, accounts: []string{"0xaaa"}, chainID: 1}
	custody := &fakeAdapter{kind: types.BackendDelegatedCustody, accounts: []string{"0xbbb"}, chainID: 1}
	mgr := newTestManager(local, custody)

	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)

	// Second connect without an intervening disconnect is rejected; the
	// session still reflects exactly the first backend.
	_, err = mgr.Connect(context.Background(), types.BackendDelegatedCustody)
	require.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, types.BackendLocalSigner, mgr.Session().Backend)

	// Explicit disconnect + connect switches backends.
	mgr.Disconnect()
	_, err = mgr.Connect(context.Background(), types.BackendDelegatedCustody)
	require.NoError(t, err)
	assert.Equal(t, types.BackendDelegatedCustody, mgr.Session().Backend)
	assert.Equal(t, 1, local.disconnects)
}

func TestManagerDisconnectIdempotent(t *testing.T) {
	local := &fakeAdapter{kind: types.BackendLocalSigner, accounts: []string{"0xaaa"}, chainID: 1}
	mgr := newTestManager(local)

	mgr.Disconnect() // no session yet: still fine
	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)
	mgr.Disconnect()
	mgr.Disconnect()

	assert.False(t, mgr.Session().Connected)
}

func TestManagerNoActiveSession(t *testing.T) {
	mgr := newTestManager()

	_, err := mgr.Execute(context.Background(), types.ExecutionStep{To: "0xabc"})
	assert.ErrorIs(t, err, types.ErrNoActiveSession)

	err = mgr.SwitchChain(context.Background(), 137)
	assert.ErrorIs(t, err, types.ErrNoActiveSession)

	_, err = mgr.Balance(context.Background())
	assert.ErrorIs(t, err, types.ErrNoActiveSession)
}

func TestManagerExecuteSwitchesChain(t *testing.T) {
	local := &fakeAdapter{kind: types.BackendLocalSigner, accounts: []string{"0xaaa"}, chainID: 1}
	mgr := newTestManager(local)

	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)

	step := types.ExecutionStep{
		Kind:     types.StepSwap,
		ChainID:  137,
		To:       "0x70997970C51812dc3A010C7d01b50e0d17dc79C8",
		CallData: "0xdeadbeef",
		Value:    "1000",
	}
	hash, err := mgr.Execute(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, "0xhash", hash)
	assert.Equal(t, []int{137}, local.switchedTo)
	assert.Equal(t, 137, mgr.Session().ChainID)
	require.Len(t, local.sentData, 1)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, local.sentData[0])
}

func TestManagerSessionReadableWhileSigning(t *testing.T) {
	local := &fakeAdapter{
		kind:        types.BackendLocalSigner,
		accounts:    []string{"0xaaa"},
		chainID:     1,
		signStarted: make(chan struct{}),
		signRelease: make(chan struct{}),
	}
	mgr := newTestManager(local)

	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)

	execDone := make(chan struct{})
	go func() {
		defer close(execDone)
		_, _ = mgr.Execute(context.Background(), types.ExecutionStep{ChainID: 1, To: "0xabc"})
	}()
	<-local.signStarted

	// Signing has no software timeout; session reads must not wait on it.
	sessionRead := make(chan types.WalletSession, 1)
	go func() { sessionRead <- mgr.Session() }()

	select {
	case session := <-sessionRead:
		assert.True(t, session.Connected)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Session blocked while a signature was in flight")
	}

	close(local.signRelease)
	<-execDone
}

func TestManagerExecutePropagatesWalletError(t *testing.T) {
	local := &fakeAdapter{
		kind:     types.BackendLocalSigner,
		accounts: []string{"0xaaa"},
		chainID:  1,
		sendErr:  types.ErrUserRejected,
	}
	mgr := newTestManager(local)

	_, err := mgr.Connect(context.Background(), types.BackendLocalSigner)
	require.NoError(t, err)

	_, err = mgr.Execute(context.Background(), types.ExecutionStep{ChainID: 1, To: "0xabc"})
	assert.ErrorIs(t, err, types.ErrUserRejected)
}
