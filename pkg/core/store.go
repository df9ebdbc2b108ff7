package core

import (
	"context"
	"time"
)

// AuthRequest holds the parameters sent to the provider's authorization
// endpoint. It is built once per initiation and never stored.
type AuthRequest struct {
	ClientID    string `json:"client_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope"`
	State       string `json:"state"`
}

// FlowState is the server-side record of an issued state nonce.
// It lives until the callback consumes it or it expires.
type FlowState struct {
	Nonce     string `json:"nonce"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Expired reports whether the flow state is past its expiry at now.
func (f *FlowState) Expired(now time.Time) bool {
	return now.Unix() >= f.ExpiresAt
}

// Store defines the interface for recording and consuming flow state nonces.
type Store interface {
	SaveFlowState(ctx context.Context, state *FlowState) error
	// ConsumeFlowState atomically looks up and deletes the nonce, so a
	// nonce can be redeemed at most once.
	ConsumeFlowState(ctx context.Context, nonce string) (*FlowState, error)
}
