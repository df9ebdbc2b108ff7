package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	oauthgithub "golang.org/x/oauth2/github"

	"github.com/go-training/cms-oauth/pkg/core"
)

const (
	githubName          = "github"
	githubBaseURL       = "https://github.com"
	githubAuthorizePath = "/login/oauth/authorize"
	githubTokenPath     = "/login/oauth/access_token"
	requestTimeout      = 30 * time.Second
	maxTokenBodySize    = 1 << 20
)

var tracer = otel.Tracer("github.com/go-training/cms-oauth/pkg/provider")

// GitHubProvider implements OAuthProvider for GitHub and GitHub Enterprise.
type GitHubProvider struct {
	endpoint   oauth2.Endpoint
	httpClient *http.Client
}

var _ OAuthProvider = (*GitHubProvider)(nil)

// NewGitHubProvider creates a GitHub provider. An empty baseURL means
// github.com; a non-positive timeout falls back to 30s.
func NewGitHubProvider(baseURL string, timeout time.Duration) *GitHubProvider {
	if timeout <= 0 {
		timeout = requestTimeout
	}

	endpoint := oauthgithub.Endpoint
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL != "" && baseURL != githubBaseURL {
		endpoint = oauth2.Endpoint{
			AuthURL:  baseURL + githubAuthorizePath,
			TokenURL: baseURL + githubTokenPath,
		}
	}

	return &GitHubProvider{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns "github".
func (g *GitHubProvider) Name() string {
	return githubName
}

// AuthorizeURL builds the GitHub authorize URL carrying client_id,
// redirect_uri, scope and state. The scope string is passed through
// verbatim so comma-separated GitHub scopes survive.
func (g *GitHubProvider) AuthorizeURL(req core.AuthRequest) (string, error) {
	if req.ClientID == "" {
		return "", fmt.Errorf("client_id is required")
	}
	if req.State == "" {
		return "", fmt.Errorf("state is required")
	}

	cfg := oauth2.Config{
		ClientID:    req.ClientID,
		RedirectURL: req.RedirectURI,
		Endpoint:    g.endpoint,
	}
	if req.Scope != "" {
		cfg.Scopes = []string{req.Scope}
	}
	return cfg.AuthCodeURL(req.State), nil
}

type githubTokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeToken posts {client_id, client_secret, code} as JSON and asks for
// a JSON answer. GitHub reports bad codes with 200 and an error body, so
// the body decides the outcome regardless of status.
func (g *GitHubProvider) ExchangeToken(ctx context.Context, clientID, clientSecret, code string) (*Token, error) {
	ctx, span := tracer.Start(ctx, "github.ExchangeToken",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("oauth.provider", githubName)),
	)
	defer span.End()

	token, err := g.exchange(ctx, clientID, clientSecret, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.Bool("oauth.rejected", IsRejected(err)))
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return token, nil
}

func (g *GitHubProvider) exchange(ctx context.Context, clientID, clientSecret, code string) (*Token, error) {
	reqBody := map[string]string{
		"client_id":     clientID,
		"client_secret": clientSecret,
		"code":          code,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint.TokenURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var tokenResp githubTokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return nil, fmt.Errorf("failed to decode token response (status %d): %w", resp.StatusCode, err)
	}

	if tokenResp.Error != "" || tokenResp.AccessToken == "" {
		return nil, &RejectedError{
			Code:        tokenResp.Error,
			Description: tokenResp.ErrorDescription,
			StatusCode:  resp.StatusCode,
		}
	}

	return &Token{
		AccessToken: tokenResp.AccessToken,
		TokenType:   tokenResp.TokenType,
		Scope:       tokenResp.Scope,
	}, nil
}
