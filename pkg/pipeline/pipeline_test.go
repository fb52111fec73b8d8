package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stablepay/pkg/bridge"
	"stablepay/pkg/ledger"
	"stablepay/pkg/types"
)

// fakeWallet scripts SignAndSend outcomes per step.
type fakeWallet struct {
	session  types.WalletSession
	hashes   []string
	errs     []error
	executed []types.ExecutionStep
}

func (f *fakeWallet) Session() types.WalletSession { return f.session }

func (f *fakeWallet) Execute(ctx context.Context, step types.ExecutionStep) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	i := len(f.executed)
	f.executed = append(f.executed, step)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.hashes) {
		return f.hashes[i], nil
	}
	return "0xdefault", nil
}

// fakeQuoter returns scripted quotes in order, repeating the last one.
type fakeQuoter struct {
	quotes []*types.Quote
	err    error
	calls  int
}

func (f *fakeQuoter) GetQuote(ctx context.Context, intent *types.PaymentIntent, sender string) (*types.Quote, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls - 1
	if i >= len(f.quotes) {
		i = len(f.quotes) - 1
	}
	return f.quotes[i], nil
}

// fakeTracker returns scripted transfer snapshots in order, repeating the
// last one forever.
type fakeTracker struct {
	transfers []bridge.Transfer
	calls     int
}

func (f *fakeTracker) TrackTransfer(ctx context.Context, fromChain, toChain int, txHash string) (bridge.Transfer, error) {
	f.calls++
	i := f.calls - 1
	if i >= len(f.transfers) {
		i = len(f.transfers) - 1
	}
	return f.transfers[i], nil
}

func testIntent(t *testing.T) *types.PaymentIntent {
	t.Helper()
	intent, err := types.NewPaymentIntent(1, "ETH", decimal.RequireFromString("0.5"),
		137, "0xABCabcABCabcABCabcABCabcABCabcABCabcABCa")
	require.NoError(t, err)
	return intent
}

func crossChainQuote(intent *types.PaymentIntent) *types.Quote {
	return &types.Quote{
		IntentID:       intent.ID,
		ExpectedOutput: decimal.RequireFromString("975.00"),
		ETA:            10 * time.Millisecond,
		Steps: []types.ExecutionStep{
			{Kind: types.StepSwap, ChainID: 1, To: "0x1111", CallData: "0xdeadbeef"},
			{Kind: types.StepBridge, ChainID: 1, To: "0x2222", CallData: "0xfeedface"},
		},
		FetchedAt: time.Now(),
	}
}

func sameChainQuote(intent *types.PaymentIntent) *types.Quote {
	return &types.Quote{
		IntentID:       intent.ID,
		ExpectedOutput: decimal.RequireFromString("975.00"),
		ETA:            5 * time.Millisecond,
		Steps: []types.ExecutionStep{
			{Kind: types.StepSwap, ChainID: 1, To: "0x1111", CallData: "0xdeadbeef"},
		},
		FetchedAt: time.Now(),
	}
}

func fastConfig() Config {
	return Config{
		QuoteTTL:           time.Minute,
		PollInterval:       time.Millisecond,
		BridgeWaitMultiple: 4,
		BridgeWaitMin:      50 * time.Millisecond,
		BridgeWaitMax:      200 * time.Millisecond,
	}
}

func newTestPipeline(t *testing.T, w Wallet, q Quoter, tr Tracker, opts ...Option) (*Pipeline, *ledger.FileStore) {
	t.Helper()
	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)
	return New(w, q, tr, store, fastConfig(), zap.NewNop(), opts...), store
}

func connectedWallet() *fakeWallet {
	return &fakeWallet{
		session: types.WalletSession{
			Backend:   types.BackendLocalSigner,
			Address:   "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
			ChainID:   1,
			Connected: true,
		},
		hashes: []string{"0xswap", "0xburn"},
	}
}

func TestProcessCrossChainPayment(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}
	tracker := &fakeTracker{transfers: []bridge.Transfer{
		{Status: types.TransferPending},
		{Status: types.TransferDone, Receiving: bridge.Leg{TxHash: "0xmint", Amount: "975000000"}},
	}}

	var seen []State
	p, store := newTestPipeline(t, wallet, quoter, tracker,
		WithOnTransition(func(run *Run, from State) { seen = append(seen, run.State) }))

	run, err := p.Process(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, run.State)
	assert.Equal(t, []State{StateQuoting, StateAwaitingSignature, StateSubmitted, StateBridging, StateConfirmed}, seen)
	assert.Equal(t, []string{"0xswap", "0xburn"}, run.TxHashes)
	assert.Equal(t, 1, run.CurrentStep)

	entry, ok := store.Get(intent.ID.String())
	require.True(t, ok)
	assert.Equal(t, ledger.StatusCompleted, entry.Status)
	assert.Equal(t, "0xmint", entry.TxHash) // bridge's reported destination hash
	assert.Equal(t, "0.5", entry.Amount)
	assert.Equal(t, wallet.session.Address, entry.From)
}

func TestProcessSameChainSkipsBridging(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{sameChainQuote(intent)}}
	tracker := &fakeTracker{}

	var seen []State
	p, store := newTestPipeline(t, wallet, quoter, tracker,
		WithOnTransition(func(run *Run, from State) { seen = append(seen, run.State) }))

	run, err := p.Process(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, StateConfirmed, run.State)
	assert.NotContains(t, seen, StateBridging)
	assert.Zero(t, tracker.calls)

	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, ledger.StatusCompleted, entry.Status)
	assert.Equal(t, "0xswap", entry.TxHash)
}

func TestProcessNoRouteFound(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{err: types.ErrNoRouteFound}

	p, store := newTestPipeline(t, wallet, quoter, &fakeTracker{})

	run, err := p.Process(context.Background(), intent)
	require.ErrorIs(t, err, types.ErrNoRouteFound)

	assert.Equal(t, StateFailed, run.State)
	assert.Empty(t, wallet.executed) // no wallet interaction ever occurs

	entry, ok := store.Get(intent.ID.String())
	require.True(t, ok)
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, ledger.TxHashFailed, entry.TxHash)
	assert.Equal(t, "NoRouteFound", entry.Details)
}

func TestProcessSignatureRejected(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	wallet.errs = []error{types.ErrUserRejected}
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}
	tracker := &fakeTracker{}

	var seen []State
	p, store := newTestPipeline(t, wallet, quoter, tracker,
		WithOnTransition(func(run *Run, from State) { seen = append(seen, run.State) }))

	run, err := p.Process(context.Background(), intent)
	require.ErrorIs(t, err, types.ErrUserRejected)

	assert.Equal(t, StateFailed, run.State)
	assert.NotContains(t, seen, StateBridging)
	assert.Zero(t, tracker.calls)

	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, "UserRejected", entry.Details)
}

func TestProcessBridgeTimeout(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}
	// The tracker never reaches a terminal status.
	tracker := &fakeTracker{transfers: []bridge.Transfer{{Status: types.TransferPending}}}

	p, store := newTestPipeline(t, wallet, quoter, tracker)

	done := make(chan struct{})
	var run *Run
	var err error
	go func() {
		run, err = p.Process(context.Background(), intent)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline hung past the bridge wait ceiling")
	}

	require.ErrorIs(t, err, types.ErrBridgeTimeout)
	assert.Equal(t, StateFailed, run.State)

	// Funds in flight stay traceable: the burn hash is recorded, not the
	// failed placeholder.
	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, "0xburn", entry.TxHash)
	assert.Equal(t, "BridgeTimeout", entry.Details)
}

func TestProcessBridgeReportsFailure(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}
	tracker := &fakeTracker{transfers: []bridge.Transfer{{Status: types.TransferFailed}}}

	p, store := newTestPipeline(t, wallet, quoter, tracker)

	run, err := p.Process(context.Background(), intent)
	require.Error(t, err)
	assert.Equal(t, StateFailed, run.State)

	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, ledger.StatusFailed, entry.Status)
	assert.Equal(t, "0xburn", entry.TxHash)
}

func TestProcessPartialKeepsPolling(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}
	tracker := &fakeTracker{transfers: []bridge.Transfer{
		{Status: types.TransferPartial, Sending: bridge.Leg{TxHash: "0xburn"}},
		{Status: types.TransferPartial, Sending: bridge.Leg{TxHash: "0xburn"}},
		{Status: types.TransferDone, Receiving: bridge.Leg{TxHash: "0xmint"}},
	}}

	p, _ := newTestPipeline(t, wallet, quoter, tracker)

	run, err := p.Process(context.Background(), intent)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, run.State)
	assert.GreaterOrEqual(t, tracker.calls, 3)
}

func TestProcessRequotesStaleQuote(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()

	stale := crossChainQuote(intent)
	stale.FetchedAt = time.Now().Add(-time.Hour)
	fresh := crossChainQuote(intent)

	quoter := &fakeQuoter{quotes: []*types.Quote{stale, fresh}}
	tracker := &fakeTracker{transfers: []bridge.Transfer{{Status: types.TransferDone, Receiving: bridge.Leg{TxHash: "0xmint"}}}}

	p, _ := newTestPipeline(t, wallet, quoter, tracker)

	run, err := p.Process(context.Background(), intent)
	require.NoError(t, err)

	// The stale quote was never executed; a second fetch happened first.
	assert.Equal(t, 2, quoter.calls)
	assert.Equal(t, StateConfirmed, run.State)
	assert.Same(t, fresh, run.Quote)
}

func TestProcessCancelledBeforeSubmission(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{crossChainQuote(intent)}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, store := newTestPipeline(t, wallet, quoter, &fakeTracker{})

	run, err := p.Process(ctx, intent)
	require.ErrorIs(t, err, types.ErrUserCancelled)

	assert.Equal(t, StateFailed, run.State)
	assert.Empty(t, wallet.executed)

	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, "UserCancelled", entry.Details)
	assert.Equal(t, ledger.TxHashFailed, entry.TxHash)
}

func TestProcessEmptyStepListIsNoRoute(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	empty := &types.Quote{IntentID: intent.ID, FetchedAt: time.Now()}
	quoter := &fakeQuoter{quotes: []*types.Quote{empty}}

	p, _ := newTestPipeline(t, wallet, quoter, &fakeTracker{})

	run, err := p.Process(context.Background(), intent)
	require.ErrorIs(t, err, types.ErrNoRouteFound)
	assert.Equal(t, StateFailed, run.State)
}

func TestProcessLedgerFinalizedExactlyOnce(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{sameChainQuote(intent)}}

	p, store := newTestPipeline(t, wallet, quoter, &fakeTracker{})

	_, err := p.Process(context.Background(), intent)
	require.NoError(t, err)

	// A later stray update cannot corrupt the finalized entry.
	store.UpdateStatus(intent.ID.String(), ledger.StatusFailed, ledger.TxHashFailed, "stray")
	entry, _ := store.Get(intent.ID.String())
	assert.Equal(t, ledger.StatusCompleted, entry.Status)
	assert.Equal(t, "0xswap", entry.TxHash)
}

func TestTransitionCallbackObservesLedgerWrites(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{quotes: []*types.Quote{sameChainQuote(intent)}}

	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)

	// The callback fires after the ledger side effect of each transition;
	// record what the ledger held at that moment.
	seen := make(map[State]ledger.Status)
	p := New(wallet, quoter, &fakeTracker{}, store, fastConfig(), zap.NewNop(),
		WithOnTransition(func(run *Run, from State) {
			if entry, ok := store.Get(intent.ID.String()); ok {
				seen[run.State] = entry.Status
			}
		}))

	_, err = p.Process(context.Background(), intent)
	require.NoError(t, err)

	assert.Equal(t, ledger.StatusProcessing, seen[StateQuoting])
	assert.Equal(t, ledger.StatusCompleted, seen[StateConfirmed])
}

func TestTransitionCallbackObservesFailureWrite(t *testing.T) {
	intent := testIntent(t)
	wallet := connectedWallet()
	quoter := &fakeQuoter{err: types.ErrNoRouteFound}

	store, err := ledger.NewFileStore(filepath.Join(t.TempDir(), "ledger.json"))
	require.NoError(t, err)

	var statusAtFailed ledger.Status
	p := New(wallet, quoter, &fakeTracker{}, store, fastConfig(), zap.NewNop(),
		WithOnTransition(func(run *Run, from State) {
			if run.State != StateFailed {
				return
			}
			if entry, ok := store.Get(intent.ID.String()); ok {
				statusAtFailed = entry.Status
			}
		}))

	_, err = p.Process(context.Background(), intent)
	require.ErrorIs(t, err, types.ErrNoRouteFound)
	assert.Equal(t, ledger.StatusFailed, statusAtFailed)
}

func TestTransitionTableTotality(t *testing.T) {
	all := []State{StateCreated, StateQuoting, StateAwaitingSignature, StateSubmitted, StateBridging, StateConfirmed, StateFailed}

	known := make(map[State]bool, len(all))
	for _, s := range all {
		known[s] = true
	}

	for _, s := range all {
		nexts, defined := transitions[s]
		assert.True(t, defined, "state %s missing from transition table", s)
		for _, next := range nexts {
			assert.True(t, known[next], "transition %s -> %s leads to unknown state", s, next)
		}
	}

	// No transition is reachable from a terminal state.
	assert.True(t, StateConfirmed.Terminal())
	assert.True(t, StateFailed.Terminal())
	for _, s := range all {
		assert.False(t, StateConfirmed.CanTransition(s))
		assert.False(t, StateFailed.CanTransition(s))
	}

	// Initial state leads somewhere and is not terminal.
	assert.False(t, StateCreated.Terminal())
	assert.True(t, StateCreated.CanTransition(StateQuoting))
}
