package auth

import (
	"errors"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/provider"
)

// Reasons delivered to the opener for failures detected before the
// token exchange.
const (
	ReasonMissingCode  = "missing code"
	ReasonInvalidState = "invalid state"
)

var (
	// ErrMissingCode is returned when the callback has neither code nor error.
	ErrMissingCode = errors.New(ReasonMissingCode)
	// ErrProviderDenied is returned when the provider redirected back with an error.
	ErrProviderDenied = errors.New("provider denied authorization")
	// ErrInvalidState is returned when the state parameter fails verification.
	ErrInvalidState = errors.New(ReasonInvalidState)
)

// CallbackError is a classified callback failure. Reason is the exact text
// the opener receives.
type CallbackError struct {
	Kind   core.ErrorKind
	Reason string
	Err    error
}

func (e *CallbackError) Error() string {
	return e.Reason
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}

// Result converts the failure into the value delivered to the opener.
func (e *CallbackError) Result() core.CallbackResult {
	return core.Failure(e.Kind, e.Reason)
}

// classifyExchangeError maps a provider error onto a CallbackError.
func classifyExchangeError(err error) *CallbackError {
	var rejected *provider.RejectedError
	if errors.As(err, &rejected) {
		return &CallbackError{
			Kind:   core.KindTokenExchangeRejected,
			Reason: rejected.Reason(),
			Err:    err,
		}
	}
	return &CallbackError{
		Kind:   core.KindTransportFailure,
		Reason: err.Error(),
		Err:    err,
	}
}
