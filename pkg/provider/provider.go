// Package provider talks to the OAuth provider on the server side: it builds
// authorization URLs and exchanges authorization codes for access tokens.
package provider

import (
	"context"
	"errors"

	"github.com/go-training/cms-oauth/pkg/core"
)

// DefaultRejectionReason is reported when the provider refuses a code
// without describing why.
const DefaultRejectionReason = "token exchange failed"

// Token represents the useful part of a successful token response.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// OAuthProvider is implemented by each supported identity provider.
type OAuthProvider interface {
	// Name is the provider tag used in handshake messages.
	Name() string
	// AuthorizeURL returns the URL the browser is redirected to.
	AuthorizeURL(req core.AuthRequest) (string, error)
	// ExchangeToken performs exactly one code-for-token round trip.
	// A *RejectedError is returned when the provider answered but did not
	// issue a token; any other error is a transport or decoding failure.
	ExchangeToken(ctx context.Context, clientID, clientSecret, code string) (*Token, error)
}

// RejectedError reports a token response that carried an error or no
// access token.
type RejectedError struct {
	Code        string
	Description string
	StatusCode  int
}

func (e *RejectedError) Error() string {
	return e.Reason()
}

// Reason is the human-readable text delivered to the opener:
// the provider's error_description, or DefaultRejectionReason.
func (e *RejectedError) Reason() string {
	if e.Description != "" {
		return e.Description
	}
	return DefaultRejectionReason
}

// IsRejected reports whether err is a provider rejection.
func IsRejected(err error) bool {
	var rejected *RejectedError
	return errors.As(err, &rejected)
}
