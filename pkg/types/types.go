package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementToken is the token every recipient receives, regardless of what
// the sender paid with.
const SettlementToken = "USDC"

// BackendKind identifies which signing/custody backend a session uses.
type BackendKind string

const (
	BackendNone             BackendKind = ""
	BackendLocalSigner      BackendKind = "local"
	BackendDelegatedCustody BackendKind = "custody"
)

// StepKind classifies one execution step of a routed quote.
type StepKind string

const (
	StepSwap           StepKind = "swap"
	StepBridge         StepKind = "bridge"
	StepNativeTransfer StepKind = "transfer"
)

// TransferStatus is the state of a cross-chain settlement transfer as
// reported by the bridge service.
type TransferStatus string

const (
	TransferPending TransferStatus = "pending"
	TransferDone    TransferStatus = "done"
	TransferFailed  TransferStatus = "failed"
	// TransferPartial means funds were burned on the source chain but not yet
	// minted on the destination chain. Treated as pending, logged distinctly.
	TransferPartial TransferStatus = "partial"
)

// Terminal returns true if no further status change can follow.
func (s TransferStatus) Terminal() bool {
	return s == TransferDone || s == TransferFailed
}

// PaymentIntent is one end-to-end transfer attempt: pay with any token on
// the source chain, deliver USDC to the recipient on the destination chain.
// Immutable once created.
type PaymentIntent struct {
	ID               uuid.UUID       `json:"id"`
	SourceChain      int             `json:"source_chain" validate:"gt=0"`
	SourceToken      string          `json:"source_token" validate:"required"`
	SourceAmount     decimal.Decimal `json:"source_amount"`
	DestinationChain int             `json:"destination_chain" validate:"gt=0"`
	DestinationToken string          `json:"destination_token"`
	Recipient        string          `json:"recipient" validate:"required"`
	CreatedAt        time.Time       `json:"created_at"`
}

var validate = validator.New()

// NewPaymentIntent builds a validated intent. The destination token is always
// the settlement asset; callers cannot override it.
func NewPaymentIntent(sourceChain int, sourceToken string, amount decimal.Decimal, destChain int, recipient string) (*PaymentIntent, error) {
	intent := &PaymentIntent{
		ID:               uuid.New(),
		SourceChain:      sourceChain,
		SourceToken:      sourceToken,
		SourceAmount:     amount,
		DestinationChain: destChain,
		DestinationToken: SettlementToken,
		Recipient:        recipient,
		CreatedAt:        time.Now(),
	}

	if err := validate.Struct(intent); err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	return intent, nil
}

// ExecutionStep is one on-chain transaction of a routed quote. Read-only once
// the quote is produced.
type ExecutionStep struct {
	Kind    StepKind `json:"kind"`
	ChainID int      `json:"chain_id"`
	To      string   `json:"to"`
	// CallData is the 0x-prefixed hex calldata, empty for plain value sends.
	CallData string `json:"call_data,omitempty"`
	// Value is the native amount in base units, decimal string.
	Value string `json:"value"`
}

// Quote is a routed path converting the source asset into USDC on the
// destination chain. Never mutated; a stale quote is replaced, not refreshed.
type Quote struct {
	IntentID       uuid.UUID       `json:"intent_id"`
	ExpectedOutput decimal.Decimal `json:"expected_output"`
	FeeUSD         decimal.Decimal `json:"fee_usd"`
	ETA            time.Duration   `json:"eta"`
	Steps          []ExecutionStep `json:"steps"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// Stale reports whether the quote is older than the given TTL and must be
// re-derived before execution.
func (q *Quote) Stale(ttl time.Duration) bool {
	return time.Since(q.FetchedAt) > ttl
}

// HasBridgeLeg reports whether delivery requires a cross-chain transfer. The
// step list is the sole source of truth; chain IDs are never compared.
func (q *Quote) HasBridgeLeg() bool {
	for _, step := range q.Steps {
		if step.Kind == StepBridge {
			return true
		}
	}
	return false
}

// WalletSession describes the single active signing session. Mutated only by
// the wallet session manager.
type WalletSession struct {
	Backend   BackendKind `json:"backend"`
	Address   string      `json:"address,omitempty"`
	ChainID   int         `json:"chain_id,omitempty"`
	Connected bool        `json:"connected"`
}
