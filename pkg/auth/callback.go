package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/handshake"
	"github.com/go-training/cms-oauth/pkg/provider"
	"github.com/go-training/cms-oauth/pkg/state"
)

// CallbackParams are the inputs of one callback.
type CallbackParams struct {
	Code   string
	Error  string
	State  string
	Cookie string
}

// Exchanger handles the provider's redirect back to us.
type Exchanger struct {
	opts     Options
	provider provider.OAuthProvider
	verifier *state.Verifier
}

// NewExchanger creates an Exchanger.
func NewExchanger(opts Options, p provider.OAuthProvider, v *state.Verifier) (*Exchanger, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if p == nil || v == nil {
		return nil, errors.New("provider and state verifier are required")
	}
	if _, err := handshake.Encode(p.Name(), core.Success(p.Name(), "")); err != nil {
		return nil, err
	}
	return &Exchanger{opts: opts, provider: p, verifier: v}, nil
}

// Exchange runs the callback state machine and returns its single outcome.
// It never returns an error: every failure becomes an error result.
func (e *Exchanger) Exchange(ctx context.Context, p CallbackParams) core.CallbackResult {
	token, cerr := e.resolve(ctx, p)
	if cerr != nil {
		core.LoggerFromCtx(ctx).Warn("Authorization failed",
			"kind", cerr.Kind,
			"reason", cerr.Reason,
			"error", cerr.Err,
		)
		return cerr.Result()
	}
	return core.Success(e.provider.Name(), token)
}

func (e *Exchanger) resolve(ctx context.Context, p CallbackParams) (string, *CallbackError) {
	if p.Error != "" {
		e.discardState(ctx, p.Cookie)
		return "", &CallbackError{
			Kind:   core.KindProviderDeniedAuthorization,
			Reason: p.Error,
			Err:    fmt.Errorf("%w: %s", ErrProviderDenied, p.Error),
		}
	}
	if p.Code == "" {
		e.discardState(ctx, p.Cookie)
		return "", &CallbackError{
			Kind:   core.KindMissingAuthorizationCode,
			Reason: ReasonMissingCode,
			Err:    ErrMissingCode,
		}
	}

	if err := e.verifier.Verify(ctx, p.State, p.Cookie); err != nil {
		return "", &CallbackError{
			Kind:   core.KindStateMismatch,
			Reason: ReasonInvalidState,
			Err:    fmt.Errorf("%w: %w", ErrInvalidState, err),
		}
	}

	if e.opts.ExchangeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ExchangeTimeout)
		defer cancel()
	}

	token, err := e.provider.ExchangeToken(ctx, e.opts.ClientID, e.opts.ClientSecret, p.Code)
	if err != nil {
		return "", classifyExchangeError(err)
	}
	return token.AccessToken, nil
}

// discardState drops the flow's nonce when the callback ends before state
// verification. Failures are logged and otherwise ignored.
func (e *Exchanger) discardState(ctx context.Context, cookie string) {
	if err := e.verifier.Discard(ctx, cookie); err != nil {
		core.LoggerFromCtx(ctx).Warn("Failed to discard state", "error", err)
	}
}

// Handle serves GET /api/auth/callback. The response is always 200 with
// the handshake page; failures travel inside the handshake message.
func (e *Exchanger) Handle(c *gin.Context) {
	ctx := c.Request.Context()
	logger := core.LoggerFromCtx(ctx)

	cookie, _ := c.Cookie(state.CookieName)
	result := e.Exchange(ctx, CallbackParams{
		Code:   c.Query("code"),
		Error:  c.Query("error"),
		State:  c.Query("state"),
		Cookie: cookie,
	})

	// The state is single-use whatever the outcome.
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(state.CookieName, "", -1, state.CookiePath, "", e.opts.CookieSecure, true)

	page, err := handshake.NewPage(e.provider.Name(), result, e.opts.FallbackDelay)
	if err != nil {
		logger.Error("Failed to build handshake page", "error", err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	if result.OK() {
		logger.Info("Token exchange successful", "provider", result.Provider)
	}

	c.Header("Cache-Control", "no-store")
	c.Render(http.StatusOK, render.HTML{
		Template: handshake.Template,
		Name:     handshake.TemplateName,
		Data:     page,
	})
}
