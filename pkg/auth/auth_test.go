package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/handshake"
	"github.com/go-training/cms-oauth/pkg/provider"
	"github.com/go-training/cms-oauth/pkg/state"
	"github.com/go-training/cms-oauth/pkg/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProvider answers ExchangeToken with a canned token or error.
type fakeProvider struct {
	token *provider.Token
	err   error
	calls atomic.Int32
	code  string
}

func (f *fakeProvider) Name() string { return "github" }

func (f *fakeProvider) AuthorizeURL(req core.AuthRequest) (string, error) {
	return provider.NewGitHubProvider("", 0).AuthorizeURL(req)
}

func (f *fakeProvider) ExchangeToken(ctx context.Context, clientID, clientSecret, code string) (*provider.Token, error) {
	f.calls.Add(1)
	f.code = code
	return f.token, f.err
}

var testOptions = Options{
	ClientID:        "Iv1.abc",
	ClientSecret:    "shh",
	RedirectURI:     "https://cms.example.com/api/auth/callback",
	Scope:           "repo,user",
	FallbackDelay:   800 * time.Millisecond,
	ExchangeTimeout: 5 * time.Second,
	CookieSecure:    true,
}

type fixture struct {
	store     *store.MemoryStore
	provider  *fakeProvider
	verifier  *state.Verifier
	initiator *Initiator
	exchanger *Exchanger
	router    *gin.Engine
}

func newFixture(t *testing.T, p *fakeProvider) *fixture {
	t.Helper()

	s := store.NewMemoryStore()
	v, err := state.NewVerifier(s, []byte(strings.Repeat("k", 32)), 10*time.Minute)
	require.NoError(t, err)

	i, err := NewInitiator(testOptions, p, v)
	require.NoError(t, err)
	e, err := NewExchanger(testOptions, p, v)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/auth", i.Handle)
	r.GET("/api/auth/callback", e.Handle)

	return &fixture{store: s, provider: p, verifier: v, initiator: i, exchanger: e, router: r}
}

func (f *fixture) issue(t *testing.T) *state.Issued {
	t.Helper()
	issued, err := f.verifier.Issue(context.Background())
	require.NoError(t, err)
	return issued
}

func TestNewHandlers_Invalid(t *testing.T) {
	v, err := state.NewVerifier(store.NewMemoryStore(), []byte(strings.Repeat("k", 32)), time.Minute)
	require.NoError(t, err)
	p := &fakeProvider{}

	noClient := testOptions
	noClient.ClientID = ""
	_, err = NewInitiator(noClient, p, v)
	assert.Error(t, err)

	noSecret := testOptions
	noSecret.ClientSecret = ""
	_, err = NewExchanger(noSecret, p, v)
	assert.Error(t, err)

	_, err = NewExchanger(testOptions, nil, v)
	assert.Error(t, err)
	_, err = NewInitiator(testOptions, p, nil)
	assert.Error(t, err)
}

func TestExchanger_Exchange(t *testing.T) {
	tests := []struct {
		name       string
		params     func(f *fixture, t *testing.T) CallbackParams
		token      *provider.Token
		err        error
		want       core.CallbackResult
		wantCalls  int32
		wantString string
	}{
		{
			name: "code exchanged for token",
			params: func(f *fixture, t *testing.T) CallbackParams {
				issued := f.issue(t)
				return CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie}
			},
			token:      &provider.Token{AccessToken: "ghp_xyz"},
			want:       core.Success("github", "ghp_xyz"),
			wantCalls:  1,
			wantString: `authorization:github:success:{"token":"ghp_xyz","provider":"github"}`,
		},
		{
			name: "provider denied",
			params: func(f *fixture, t *testing.T) CallbackParams {
				return CallbackParams{Error: "access_denied"}
			},
			want:       core.Failure(core.KindProviderDeniedAuthorization, "access_denied"),
			wantString: `authorization:github:error:{"error":"access_denied"}`,
		},
		{
			name: "error wins over code",
			params: func(f *fixture, t *testing.T) CallbackParams {
				return CallbackParams{Code: "abc123", Error: "redirect_uri_mismatch"}
			},
			want: core.Failure(core.KindProviderDeniedAuthorization, "redirect_uri_mismatch"),
		},
		{
			name: "missing code",
			params: func(f *fixture, t *testing.T) CallbackParams {
				return CallbackParams{}
			},
			want:       core.Failure(core.KindMissingAuthorizationCode, "missing code"),
			wantString: `authorization:github:error:{"error":"missing code"}`,
		},
		{
			name: "missing state",
			params: func(f *fixture, t *testing.T) CallbackParams {
				return CallbackParams{Code: "abc123"}
			},
			want:       core.Failure(core.KindStateMismatch, "invalid state"),
			wantString: `authorization:github:error:{"error":"invalid state"}`,
		},
		{
			name: "forged state",
			params: func(f *fixture, t *testing.T) CallbackParams {
				issued := f.issue(t)
				return CallbackParams{Code: "abc123", State: "attacker", Cookie: issued.Cookie}
			},
			want: core.Failure(core.KindStateMismatch, "invalid state"),
		},
		{
			name: "rejected with description",
			params: func(f *fixture, t *testing.T) CallbackParams {
				issued := f.issue(t)
				return CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie}
			},
			err:       &provider.RejectedError{Code: "bad_verification_code", Description: "The code passed is incorrect or expired."},
			want:      core.Failure(core.KindTokenExchangeRejected, "The code passed is incorrect or expired."),
			wantCalls: 1,
		},
		{
			name: "rejected without description",
			params: func(f *fixture, t *testing.T) CallbackParams {
				issued := f.issue(t)
				return CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie}
			},
			err:        &provider.RejectedError{Code: "bad_verification_code"},
			want:       core.Failure(core.KindTokenExchangeRejected, "token exchange failed"),
			wantCalls:  1,
			wantString: `authorization:github:error:{"error":"token exchange failed"}`,
		},
		{
			name: "transport failure",
			params: func(f *fixture, t *testing.T) CallbackParams {
				issued := f.issue(t)
				return CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie}
			},
			err:       errors.New("failed to exchange token: dial tcp: connection refused"),
			want:      core.Failure(core.KindTransportFailure, "failed to exchange token: dial tcp: connection refused"),
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeProvider{token: tt.token, err: tt.err})

			got := f.exchanger.Exchange(context.Background(), tt.params(f, t))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantCalls, f.provider.calls.Load())

			if tt.wantString != "" {
				msg, err := handshake.Encode("github", got)
				require.NoError(t, err)
				assert.Equal(t, tt.wantString, msg.String())
			}
		})
	}
}

func TestExchanger_Exchange_StateIsSingleUse(t *testing.T) {
	f := newFixture(t, &fakeProvider{token: &provider.Token{AccessToken: "ghp_xyz"}})
	issued := f.issue(t)
	params := CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie}

	first := f.exchanger.Exchange(context.Background(), params)
	assert.True(t, first.OK())

	second := f.exchanger.Exchange(context.Background(), params)
	assert.Equal(t, core.Failure(core.KindStateMismatch, "invalid state"), second)
	assert.Equal(t, int32(1), f.provider.calls.Load())
}

func TestInitiator_Handle(t *testing.T) {
	f := newFixture(t, &fakeProvider{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/auth", nil)
	f.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)
	assert.Equal(t, "/login/oauth/authorize", loc.Path)

	q := loc.Query()
	assert.Equal(t, "Iv1.abc", q.Get("client_id"))
	assert.Equal(t, "https://cms.example.com/api/auth/callback", q.Get("redirect_uri"))
	assert.Equal(t, "repo,user", q.Get("scope"))
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-z]+$`), q.Get("state"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, state.CookieName, c.Name)
	assert.Equal(t, state.CookiePath, c.Path)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 600, c.MaxAge)

	// Each initiation gets its own state.
	w2 := httptest.NewRecorder()
	f.router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	loc2, err := url.Parse(w2.Header().Get("Location"))
	require.NoError(t, err)
	assert.NotEqual(t, q.Get("state"), loc2.Query().Get("state"))
}

func TestFullFlow_ThroughHandlers(t *testing.T) {
	f := newFixture(t, &fakeProvider{token: &provider.Token{AccessToken: "ghp_xyz"}})

	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	require.Equal(t, http.StatusFound, w.Code)

	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	stateParam := loc.Query().Get("state")
	stateCookie := w.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet,
		"/api/auth/callback?code=abc123&state="+url.QueryEscape(stateParam), nil)
	req.AddCookie(stateCookie)
	w = httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, "abc123", f.provider.code)

	body := w.Body.String()
	assert.Contains(t, body, "window.opener")
	assert.Contains(t, body, `ghp_xyz`)
	assert.NotContains(t, body, `"error"`)

	cleared := w.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, state.CookieName, cleared[0].Name)
	assert.Equal(t, -1, cleared[0].MaxAge)
}

func TestExchanger_Handle_ErrorsStay200(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{name: "access denied", query: "?error=access_denied", want: "access_denied"},
		{name: "no params", query: "", want: "missing code"},
		{name: "no state cookie", query: "?code=abc123&state=abc", want: "invalid state"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeProvider{token: &provider.Token{AccessToken: "ghp_xyz"}})

			w := httptest.NewRecorder()
			f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth/callback"+tt.query, nil))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
			assert.Contains(t, w.Body.String(), tt.want)
			assert.Equal(t, int32(0), f.provider.calls.Load())
		})
	}
}

func TestExchanger_Exchange_EarlyFailureDiscardsState(t *testing.T) {
	tests := []struct {
		name   string
		params func(issued *state.Issued) CallbackParams
		kind   core.ErrorKind
	}{
		{
			name: "provider denied",
			params: func(issued *state.Issued) CallbackParams {
				return CallbackParams{Error: "access_denied", State: issued.Nonce, Cookie: issued.Cookie}
			},
			kind: core.KindProviderDeniedAuthorization,
		},
		{
			name: "missing code",
			params: func(issued *state.Issued) CallbackParams {
				return CallbackParams{State: issued.Nonce, Cookie: issued.Cookie}
			},
			kind: core.KindMissingAuthorizationCode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeProvider{token: &provider.Token{AccessToken: "ghp_xyz"}})
			issued := f.issue(t)
			require.Equal(t, 1, f.store.Len())

			got := f.exchanger.Exchange(context.Background(), tt.params(issued))
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, 0, f.store.Len())

			// The discarded nonce cannot be redeemed afterwards.
			again := f.exchanger.Exchange(context.Background(),
				CallbackParams{Code: "abc123", State: issued.Nonce, Cookie: issued.Cookie})
			assert.Equal(t, core.Failure(core.KindStateMismatch, "invalid state"), again)
			assert.Equal(t, int32(0), f.provider.calls.Load())
		})
	}
}

func TestExchanger_Exchange_EarlyFailureKeepsOtherStates(t *testing.T) {
	f := newFixture(t, &fakeProvider{})
	f.issue(t)

	got := f.exchanger.Exchange(context.Background(), CallbackParams{Error: "access_denied", Cookie: "not-a-jwt"})
	assert.Equal(t, core.KindProviderDeniedAuthorization, got.Kind)
	assert.Equal(t, 1, f.store.Len())
}

func TestInitiator_Handle_StoreFull(t *testing.T) {
	s := store.NewMemoryStoreWithLimit(1)
	v, err := state.NewVerifier(s, []byte(strings.Repeat("k", 32)), 10*time.Minute)
	require.NoError(t, err)
	i, err := NewInitiator(testOptions, &fakeProvider{}, v)
	require.NoError(t, err)

	r := gin.New()
	r.GET("/api/auth", i.Handle)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	require.Equal(t, http.StatusFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"too many pending authorizations"}`, w.Body.String())
	assert.Empty(t, w.Result().Cookies())
}
