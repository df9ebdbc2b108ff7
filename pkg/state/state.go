// Package state issues and verifies the OAuth state parameter.
//
// Each flow gets a random base-36 nonce. The nonce goes to the provider as
// the state parameter, is recorded in a core.Store, and is bound to the
// browser with a signed cookie. A callback is accepted only when the
// cookie verifies, names the same nonce as the state parameter, and the
// nonce can still be consumed from the store.
package state

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/store"
)

const (
	// CookieName is the cookie carrying the signed nonce.
	CookieName = "cms_oauth_state"
	// CookiePath scopes the cookie to the auth routes.
	CookiePath = "/api/auth"

	issuer     = "cms-oauth"
	nonceBytes = 16
)

var (
	// ErrMissingState is returned when the callback carries no state parameter.
	ErrMissingState = errors.New("missing state")
	// ErrMissingCookie is returned when the browser did not send the state cookie.
	ErrMissingCookie = errors.New("missing state cookie")
	// ErrInvalidCookie is returned when the cookie fails signature, issuer or expiry checks.
	ErrInvalidCookie = errors.New("invalid state cookie")
	// ErrStateMismatch is returned when the cookie and the state parameter disagree.
	ErrStateMismatch = errors.New("state mismatch")
	// ErrStateUnknown is returned when the nonce was never issued or was already used.
	ErrStateUnknown = errors.New("state already used or expired")
)

// Issued is a freshly issued state.
type Issued struct {
	// Nonce is sent to the provider as the state parameter.
	Nonce string
	// Cookie is the signed value for CookieName.
	Cookie string
	// MaxAge is the cookie lifetime.
	MaxAge time.Duration
}

// Verifier issues and verifies per-flow state nonces.
type Verifier struct {
	store  core.Store
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerifier creates a Verifier signing cookies with secret and keeping
// nonces in s for ttl.
func NewVerifier(s core.Store, secret []byte, ttl time.Duration) (*Verifier, error) {
	if s == nil {
		return nil, errors.New("state store is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("state secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("state ttl must be positive")
	}
	return &Verifier{
		store:  s,
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// NewNonce returns a random token encoded in base 36.
func NewNonce() (string, error) {
	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return new(big.Int).SetBytes(b).Text(36), nil
}

// Issue creates a nonce, records it and signs the matching cookie.
func (v *Verifier) Issue(ctx context.Context) (*Issued, error) {
	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	now := v.now()
	expires := now.Add(v.ttl)

	if err := v.store.SaveFlowState(ctx, &core.FlowState{
		Nonce:     nonce,
		CreatedAt: now.Unix(),
		ExpiresAt: expires.Unix(),
	}); err != nil {
		return nil, fmt.Errorf("failed to save flow state: %w", err)
	}

	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		ID:        nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign state cookie: %w", err)
	}

	return &Issued{
		Nonce:  nonce,
		Cookie: signed,
		MaxAge: v.ttl,
	}, nil
}

// Verify checks the state parameter against the cookie and consumes the
// nonce. It succeeds at most once per issued nonce.
func (v *Verifier) Verify(ctx context.Context, stateParam, cookie string) error {
	if stateParam == "" {
		return ErrMissingState
	}
	if cookie == "" {
		return ErrMissingCookie
	}

	claims, err := v.parseCookie(cookie)
	if err != nil {
		return err
	}

	if subtle.ConstantTimeCompare([]byte(claims.ID), []byte(stateParam)) != 1 {
		return ErrStateMismatch
	}

	if _, err := v.store.ConsumeFlowState(ctx, stateParam); err != nil {
		return fmt.Errorf("%w: %v", ErrStateUnknown, err)
	}
	return nil
}

// Discard consumes the nonce named by a valid cookie without checking a
// state parameter. It is used when a callback ends before state
// verification, so the nonce does not outlive the flow. An invalid cookie
// or an unknown nonce is ignored.
func (v *Verifier) Discard(ctx context.Context, cookie string) error {
	if cookie == "" {
		return nil
	}
	claims, err := v.parseCookie(cookie)
	if err != nil {
		return nil
	}
	if _, err := v.store.ConsumeFlowState(ctx, claims.ID); err != nil && !errors.Is(err, store.ErrStateNotFound) {
		return fmt.Errorf("failed to discard flow state: %w", err)
	}
	return nil
}

func (v *Verifier) parseCookie(cookie string) (*jwt.RegisteredClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(cookie, &claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return &claims, nil
}
