// Package auth contains the two HTTP handlers of the OAuth popup flow:
// the Initiator that sends the browser to the provider, and the Exchanger
// that turns the provider's callback into a handshake page.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/provider"
	"github.com/go-training/cms-oauth/pkg/state"
	"github.com/go-training/cms-oauth/pkg/store"
)

// Options is the configuration shared by both handlers.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scope        string

	// FallbackDelay is how long the popup waits for the opener's ack.
	FallbackDelay time.Duration
	// ExchangeTimeout bounds the code-for-token round trip.
	ExchangeTimeout time.Duration
	// CookieSecure marks the state cookie Secure.
	CookieSecure bool
}

func (o Options) validate() error {
	if o.ClientID == "" {
		return errors.New("client id is required")
	}
	if o.RedirectURI == "" {
		return errors.New("redirect uri is required")
	}
	return nil
}

// Initiator redirects the browser to the provider's authorization page.
type Initiator struct {
	opts     Options
	provider provider.OAuthProvider
	verifier *state.Verifier
}

// NewInitiator creates an Initiator.
func NewInitiator(opts Options, p provider.OAuthProvider, v *state.Verifier) (*Initiator, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if p == nil || v == nil {
		return nil, errors.New("provider and state verifier are required")
	}
	return &Initiator{opts: opts, provider: p, verifier: v}, nil
}

// Handle serves GET /api/auth.
func (i *Initiator) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	issued, err := i.verifier.Issue(ctx)
	if errors.Is(err, store.ErrStoreFull) {
		logger.Warn("Too many pending authorizations", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "too many pending authorizations"})
		return
	}
	if err != nil {
		logger.Error("Failed to issue state", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start authorization"})
		return
	}

	authURL, err := i.provider.AuthorizeURL(core.AuthRequest{
		ClientID:    i.opts.ClientID,
		RedirectURI: i.opts.RedirectURI,
		Scope:       i.opts.Scope,
		State:       issued.Nonce,
	})
	if err != nil {
		logger.Error("Failed to build authorize URL", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(state.CookieName, issued.Cookie, int(issued.MaxAge.Seconds()),
		state.CookiePath, "", i.opts.CookieSecure, true)

	logger.Debug("Redirecting to provider",
		"provider", i.provider.Name(),
		"redirect_uri", i.opts.RedirectURI,
		"scope", i.opts.Scope,
	)

	c.Redirect(http.StatusFound, authURL)
}
