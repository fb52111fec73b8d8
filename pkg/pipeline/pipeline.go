// Package pipeline drives a payment intent through quote, execution, bridge
// tracking and confirmation, recording every transition on the transaction
// ledger. One Run per intent; transitions within a run are strictly
// sequential, runs themselves are independent.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stablepay/pkg/bridge"
	"stablepay/pkg/ledger"
	"stablepay/pkg/metrics"
	"stablepay/pkg/types"
)

// Wallet is the slice of the session manager the pipeline needs.
type Wallet interface {
	Session() types.WalletSession
	Execute(ctx context.Context, step types.ExecutionStep) (string, error)
}

// Quoter fetches routed quotes.
type Quoter interface {
	GetQuote(ctx context.Context, intent *types.PaymentIntent, sender string) (*types.Quote, error)
}

// Tracker polls cross-chain transfer status.
type Tracker interface {
	TrackTransfer(ctx context.Context, fromChain, toChain int, txHash string) (bridge.Transfer, error)
}

// Config bounds the pipeline's waiting behavior.
type Config struct {
	// QuoteTTL is the maximum quote age at execution time; older quotes are
	// re-derived, never executed.
	QuoteTTL time.Duration
	// PollInterval is the fixed bridge polling interval.
	PollInterval time.Duration
	// BridgeWaitMultiple scales the quoted ETA into the bridge wait ceiling.
	BridgeWaitMultiple int
	// BridgeWaitMin and BridgeWaitMax clamp the ceiling.
	BridgeWaitMin time.Duration
	BridgeWaitMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.QuoteTTL <= 0 {
		c.QuoteTTL = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BridgeWaitMultiple <= 0 {
		c.BridgeWaitMultiple = 4
	}
	if c.BridgeWaitMin <= 0 {
		c.BridgeWaitMin = 2 * time.Minute
	}
	if c.BridgeWaitMax <= 0 {
		c.BridgeWaitMax = 30 * time.Minute
	}
	return c
}

// Run is one stateful attempt to fulfill a payment intent. Owned exclusively
// by the pipeline; mutated only through defined state transitions.
type Run struct {
	Intent      *types.PaymentIntent
	Quote       *types.Quote
	State       State
	CurrentStep int
	TxHashes    []string
	LastErr     error
	LedgerID    string
}

// lastTxHash returns the most recent obtained hash, or the failed
// placeholder when nothing was ever submitted.
func (r *Run) lastTxHash() string {
	if len(r.TxHashes) == 0 {
		return ledger.TxHashFailed
	}
	return r.TxHashes[len(r.TxHashes)-1]
}

// Pipeline orchestrates payment runs over the wallet, quote and bridge
// collaborators.
type Pipeline struct {
	wallet  Wallet
	quoter  Quoter
	tracker Tracker
	store   ledger.Store
	cfg     Config
	log     *zap.Logger
	rec     metrics.Recorder

	onTransition func(run *Run, from State)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics wires a metrics recorder.
func WithMetrics(rec metrics.Recorder) Option {
	return func(p *Pipeline) { p.rec = rec }
}

// WithOnTransition registers a callback invoked synchronously after every
// state transition, after the ledger side effect completed.
func WithOnTransition(fn func(run *Run, from State)) Option {
	return func(p *Pipeline) { p.onTransition = fn }
}

// New creates a pipeline.
func New(wallet Wallet, quoter Quoter, tracker Tracker, store ledger.Store, cfg Config, log *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		wallet:  wallet,
		quoter:  quoter,
		tracker: tracker,
		store:   store,
		cfg:     cfg.withDefaults(),
		log:     log,
		rec:     metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process drives one intent end to end and returns the finished run. The
// returned error is the terminal failure cause, nil when the run confirmed.
// Cancelling ctx before submission discards the run as UserCancelled; after
// submission the pipeline detaches from ctx, since the chain does not care
// that the caller went away.
func (p *Pipeline) Process(ctx context.Context, intent *types.PaymentIntent) (*Run, error) {
	run := &Run{
		Intent:      intent,
		State:       StateCreated,
		CurrentStep: -1,
	}
	start := time.Now()

	// The ledger entry is written before the run enters Quoting, so every
	// transition observer already sees it.
	id, err := p.store.Append(ledger.Entry{
		ID:        intent.ID.String(),
		Type:      "payment",
		Status:    ledger.StatusProcessing,
		Amount:    intent.SourceAmount.String(),
		Token:     intent.SourceToken,
		From:      p.wallet.Session().Address,
		To:        intent.Recipient,
		Chain:     intent.SourceChain,
		TxHash:    ledger.TxHashPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		// The run proceeds; status updates against the missing id degrade to
		// no-ops and the failure is visible in the log.
		p.log.Error("failed to append ledger entry", zap.String("intent", intent.ID.String()), zap.Error(err))
	}
	run.LedgerID = id
	p.transition(run, StateQuoting)

	if err := p.execute(ctx, run); err != nil {
		p.fail(run, err)
		p.rec.ObserveRunDuration("failed", time.Since(start))
		return run, run.LastErr
	}

	p.rec.ObserveRunDuration("confirmed", time.Since(start))
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *Run) error {
	intent := run.Intent

	if err := ctx.Err(); err != nil {
		return types.ErrUserCancelled
	}

	quote, err := p.freshQuote(ctx, intent)
	if err != nil {
		return err
	}
	run.Quote = quote

	p.transition(run, StateAwaitingSignature)

	// Never execute a stale quote; re-derive until it is fresh at signing
	// time.
	for run.Quote.Stale(p.cfg.QuoteTTL) {
		p.log.Info("quote went stale before execution, re-quoting",
			zap.String("intent", intent.ID.String()))
		quote, err = p.freshQuote(ctx, intent)
		if err != nil {
			return err
		}
		run.Quote = quote
	}

	if err := ctx.Err(); err != nil {
		return types.ErrUserCancelled
	}

	// On-chain submission is irreversible: once the first step is out, the
	// run no longer listens to the caller's cancellation.
	execCtx := ctx
	for i, step := range run.Quote.Steps {
		hash, err := p.wallet.Execute(execCtx, step)
		if err != nil {
			if run.State == StateAwaitingSignature && errors.Is(err, context.Canceled) {
				return types.ErrUserCancelled
			}
			return err
		}

		run.TxHashes = append(run.TxHashes, hash)
		run.CurrentStep = i
		if run.State == StateAwaitingSignature {
			p.transition(run, StateSubmitted)
			execCtx = context.WithoutCancel(ctx)
		}

		p.log.Info("step submitted",
			zap.String("intent", intent.ID.String()),
			zap.Int("step", i),
			zap.String("kind", string(step.Kind)),
			zap.String("tx_hash", hash))
	}

	finalHash := run.lastTxHash()

	if run.Quote.HasBridgeLeg() {
		p.transition(run, StateBridging)
		destHash, err := p.awaitBridge(execCtx, run)
		if err != nil {
			return err
		}
		if destHash != "" {
			finalHash = destHash
		}
	}

	p.store.UpdateStatus(run.LedgerID, ledger.StatusCompleted, finalHash, "")
	p.transition(run, StateConfirmed)
	return nil
}

// freshQuote fetches a quote and enforces the step-list contract.
func (p *Pipeline) freshQuote(ctx context.Context, intent *types.PaymentIntent) (*types.Quote, error) {
	quote, err := p.quoter.GetQuote(ctx, intent, p.wallet.Session().Address)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, types.ErrUserCancelled
		}
		return nil, err
	}
	if len(quote.Steps) == 0 {
		return nil, types.ErrNoRouteFound
	}
	return quote, nil
}

// awaitBridge polls the settlement service until the transfer is terminal or
// the wait ceiling passes. Returns the destination-chain mint hash when the
// service reports one.
func (p *Pipeline) awaitBridge(ctx context.Context, run *Run) (string, error) {
	burnHash := run.lastTxHash()
	ceiling := p.bridgeCeiling(run.Quote.ETA)
	deadline := time.Now().Add(ceiling)

	p.log.Info("tracking bridge transfer",
		zap.String("intent", run.Intent.ID.String()),
		zap.String("burn_tx", burnHash),
		zap.Duration("ceiling", ceiling))

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		transfer, err := p.tracker.TrackTransfer(ctx, run.Intent.SourceChain, run.Intent.DestinationChain, burnHash)
		if err != nil {
			// Transient tracking failures keep polling until the ceiling.
			p.log.Warn("bridge status poll failed", zap.Error(err))
		} else {
			switch transfer.Status {
			case types.TransferDone:
				return transfer.Receiving.TxHash, nil
			case types.TransferFailed:
				return "", fmt.Errorf("bridge transfer failed (burn tx %s)", burnHash)
			case types.TransferPartial:
				// Funds burned but not yet minted; the one state where
				// operator intervention may eventually be required.
				p.log.Warn("bridge transfer partial: burned on source, mint pending",
					zap.String("intent", run.Intent.ID.String()),
					zap.String("burn_tx", transfer.Sending.TxHash))
			}
		}

		if time.Now().After(deadline) {
			return "", types.ErrBridgeTimeout
		}

		select {
		case <-ctx.Done():
			// Only reachable when the process itself is going down.
			return "", types.ErrBridgeTimeout
		case <-ticker.C:
		}
	}
}

// bridgeCeiling scales the quoted ETA into the hard wait ceiling.
func (p *Pipeline) bridgeCeiling(eta time.Duration) time.Duration {
	ceiling := time.Duration(p.cfg.BridgeWaitMultiple) * eta
	if ceiling < p.cfg.BridgeWaitMin {
		ceiling = p.cfg.BridgeWaitMin
	}
	if ceiling > p.cfg.BridgeWaitMax {
		ceiling = p.cfg.BridgeWaitMax
	}
	return ceiling
}

// fail moves the run to Failed, records the cause once, and finalizes the
// ledger entry with whatever hash was obtained so funds in flight stay
// traceable.
func (p *Pipeline) fail(run *Run, cause error) {
	if run.State.Terminal() {
		return
	}
	run.LastErr = cause

	reason := types.ErrorReason(cause)
	p.store.UpdateStatus(run.LedgerID, ledger.StatusFailed, run.lastTxHash(), reason)
	p.transition(run, StateFailed)

	p.log.Info("payment failed",
		zap.String("intent", run.Intent.ID.String()),
		zap.String("reason", reason),
		zap.Error(cause))
}

// transition applies one state change. The table is authoritative; an
// undefined transition is a programming error and panics in development
// rather than corrupting a run.
func (p *Pipeline) transition(run *Run, to State) {
	if !run.State.CanTransition(to) {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", run.State, to))
	}
	from := run.State
	run.State = to

	p.rec.IncTransition(string(to))
	p.log.Debug("pipeline transition",
		zap.String("intent", run.Intent.ID.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)))

	if p.onTransition != nil {
		p.onTransition(run, from)
	}
}
