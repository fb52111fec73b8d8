package types

import (
	"context"
	"errors"
)

// Failure taxonomy. Adapter- and service-level errors wrap exactly one of
// these sentinels and propagate unchanged up to the pipeline, which treats
// every one of them as terminal for the run. Retries are a new intent.
var (
	ErrConnectionRejected      = errors.New("connection rejected by backend")
	ErrBackendUnavailable      = errors.New("backend unavailable")
	ErrNetworkError            = errors.New("network error")
	ErrUserRejected            = errors.New("user rejected request")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrUnsupportedChain        = errors.New("unsupported chain")
	ErrNoActiveSession         = errors.New("no active wallet session")
	ErrNoRouteFound            = errors.New("no route found")
	ErrQuoteServiceUnavailable = errors.New("quote service unavailable")
	ErrBridgeTimeout           = errors.New("bridge transfer timed out")
	ErrSubmissionReverted      = errors.New("submission reverted")
	ErrUserCancelled           = errors.New("cancelled by user")

	ErrInvalidAmount = errors.New("amount must be positive")
)

// ErrorReason maps a pipeline error to the short reason string recorded on
// the ledger entry. Context cancellation before submission is a user cancel.
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.Canceled), errors.Is(err, ErrUserCancelled):
		return "UserCancelled"
	case errors.Is(err, ErrConnectionRejected):
		return "ConnectionRejected"
	case errors.Is(err, ErrBackendUnavailable):
		return "BackendUnavailable"
	case errors.Is(err, ErrUserRejected):
		return "UserRejected"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrUnsupportedChain):
		return "UnsupportedChain"
	case errors.Is(err, ErrNoActiveSession):
		return "NoActiveSession"
	case errors.Is(err, ErrNoRouteFound):
		return "NoRouteFound"
	case errors.Is(err, ErrQuoteServiceUnavailable):
		return "QuoteServiceUnavailable"
	case errors.Is(err, ErrBridgeTimeout):
		return "BridgeTimeout"
	case errors.Is(err, ErrSubmissionReverted):
		return "SubmissionReverted"
	case errors.Is(err, ErrNetworkError):
		return "NetworkError"
	default:
		return err.Error()
	}
}
