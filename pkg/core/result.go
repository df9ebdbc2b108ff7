package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Status is the outcome tag carried in a handshake message.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ErrorKind classifies why a callback did not produce a token.
type ErrorKind string

const (
	KindMissingAuthorizationCode    ErrorKind = "missing_authorization_code"
	KindProviderDeniedAuthorization ErrorKind = "provider_denied_authorization"
	KindStateMismatch               ErrorKind = "state_mismatch"
	KindTokenExchangeRejected       ErrorKind = "token_exchange_rejected"
	KindTransportFailure            ErrorKind = "transport_failure"
	// KindOpenerUnreachable only occurs inside the popup; the server never
	// produces it and there is no channel to report it on.
	KindOpenerUnreachable ErrorKind = "opener_unreachable"
)

// CallbackResult is the immutable outcome of one callback invocation.
// A success carries Token and Provider, an error carries Kind and Reason.
type CallbackResult struct {
	Status   Status
	Token    string
	Provider string
	Kind     ErrorKind
	Reason   string
}

// Success builds a successful result.
func Success(provider, token string) CallbackResult {
	return CallbackResult{
		Status:   StatusSuccess,
		Token:    token,
		Provider: provider,
	}
}

// Failure builds an error result.
func Failure(kind ErrorKind, reason string) CallbackResult {
	return CallbackResult{
		Status: StatusError,
		Kind:   kind,
		Reason: reason,
	}
}

// OK reports whether the result carries a token.
func (r CallbackResult) OK() bool {
	return r.Status == StatusSuccess
}

type successPayload struct {
	Token    string `json:"token"`
	Provider string `json:"provider"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Payload returns the JSON blob delivered to the opener:
// {"token":...,"provider":...} on success, {"error":...} otherwise.
// HTML characters are left unescaped so the output matches what a
// browser's JSON.stringify would produce.
func (r CallbackResult) Payload() ([]byte, error) {
	var v any
	switch r.Status {
	case StatusSuccess:
		v = successPayload{Token: r.Token, Provider: r.Provider}
	case StatusError:
		v = errorPayload{Error: r.Reason}
	default:
		return nil, fmt.Errorf("unknown result status %q", r.Status)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to marshal callback payload: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
