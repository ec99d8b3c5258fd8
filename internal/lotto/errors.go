package lotto

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the session client, protocol driver and
// orchestrator. Callers classify with errors.Is; the provider code/message
// rides along in ProviderError when the remote side supplied one.
var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrAccountLocked        = errors.New("account locked by local cool-down")
	ErrAccountDisabled      = errors.New("account is disabled")
	ErrBusy                 = errors.New("purchase already in flight for this account")
	ErrProtocol             = errors.New("unexpected response from lottery service")
	ErrInsufficientFunds    = errors.New("insufficient deposit balance")
	ErrPurchaseRejected     = errors.New("purchase rejected by provider")
	ErrPurchaseWindowClosed = errors.New("purchase window closed")
	ErrTransientNetwork     = errors.New("transient network failure")
	ErrAmbiguousOutcome     = errors.New("purchase outcome unresolved")
)

// ProviderError wraps an error kind with the result code and message the
// remote service returned.
type ProviderError struct {
	Kind    error
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Code == "" {
		return e.Kind.Error()
	}
	if e.Message == "" {
		return fmt.Sprintf("%s (code=%s)", e.Kind.Error(), e.Code)
	}
	return fmt.Sprintf("%s (code=%s: %s)", e.Kind.Error(), e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Kind }

// NewProviderError builds a ProviderError for the given kind.
func NewProviderError(kind error, code, message string) *ProviderError {
	return &ProviderError{Kind: kind, Code: code, Message: message}
}

// KindString maps an error to the taxonomy name exposed on the query
// surface. Unknown errors report as a protocol error.
func KindString(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationFailed):
		return "AuthenticationFailed"
	case errors.Is(err, ErrAccountLocked):
		return "AccountLocked"
	case errors.Is(err, ErrAccountDisabled):
		return "AccountDisabled"
	case errors.Is(err, ErrBusy):
		return "Busy"
	case errors.Is(err, ErrInsufficientFunds):
		return "InsufficientFunds"
	case errors.Is(err, ErrPurchaseRejected):
		return "PurchaseRejected"
	case errors.Is(err, ErrPurchaseWindowClosed):
		return "PurchaseWindowClosed"
	case errors.Is(err, ErrTransientNetwork):
		return "TransientNetworkError"
	case errors.Is(err, ErrAmbiguousOutcome):
		return "AmbiguousOutcome"
	default:
		return "ProtocolError"
	}
}
