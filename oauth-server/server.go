// Package main runs the OAuth broker that lets a browser-based CMS obtain a
// GitHub token through a popup window.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/appleboy/graceful"
	"github.com/gin-gonic/gin"

	"github.com/go-training/cms-oauth/pkg/auth"
	"github.com/go-training/cms-oauth/pkg/config"
	"github.com/go-training/cms-oauth/pkg/core"
	"github.com/go-training/cms-oauth/pkg/logger"
	"github.com/go-training/cms-oauth/pkg/provider"
	"github.com/go-training/cms-oauth/pkg/state"
	"github.com/go-training/cms-oauth/pkg/store"
)

// Broker holds the wired handlers and the state store behind them.
type Broker struct {
	cfg       *config.Config
	store     core.Store
	initiator *auth.Initiator
	exchanger *auth.Exchanger
}

// NewBroker wires the provider, state verifier and handlers from cfg.
func NewBroker(cfg *config.Config, s core.Store) (*Broker, error) {
	if cfg.Provider != "github" {
		return nil, errors.New("unsupported provider: " + cfg.Provider)
	}
	p := provider.NewGitHubProvider(cfg.GitHubBaseURL, cfg.ExchangeTimeout)

	verifier, err := state.NewVerifier(s, []byte(cfg.StateSecret), cfg.StateTTL)
	if err != nil {
		return nil, err
	}

	opts := auth.Options{
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		RedirectURI:     cfg.RedirectURI,
		Scope:           cfg.Scope,
		FallbackDelay:   cfg.FallbackDelay,
		ExchangeTimeout: cfg.ExchangeTimeout,
		CookieSecure:    cfg.CookieSecure,
	}

	initiator, err := auth.NewInitiator(opts, p, verifier)
	if err != nil {
		return nil, err
	}
	exchanger, err := auth.NewExchanger(opts, p, verifier)
	if err != nil {
		return nil, err
	}

	return &Broker{
		cfg:       cfg,
		store:     s,
		initiator: initiator,
		exchanger: exchanger,
	}, nil
}

// Router returns the gin engine serving the broker's endpoints.
func (b *Broker) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestIDMiddleware(), requestLogger(), securityHeaders())

	initiate := []gin.HandlerFunc{b.initiator.Handle}
	if b.cfg.RateLimit > 0 {
		rl := newIPRateLimiter(b.cfg.RateLimit, b.cfg.RateBurst, defaultMaxLimiters)
		initiate = append([]gin.HandlerFunc{rateLimitMiddleware(rl)}, initiate...)
	}

	router.GET("/api/auth", initiate...)
	router.GET("/api/auth/callback", b.exchanger.Handle)
	router.GET("/healthz", b.healthz)

	return router
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (b *Broker) healthz(c *gin.Context) {
	if p, ok := b.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			core.LoggerFromCtx(c.Request.Context()).Error("Store health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func main() {
	var addr string
	var logLevel string
	flag.StringVar(&addr, "addr", "", "address to listen on (overrides ADDR)")
	flag.StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR). Defaults to DEBUG in development, INFO in production")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.New()
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	// Initialize logger with the specified log level
	logger.NewWithLevel(cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.GeneratedStateSecret() {
		slog.Warn("OAUTH_STATE_SECRET not set, using a random key; in-flight logins will not survive a restart")
	}

	storeConfig := cfg.Store()
	stateStore, err := store.NewStore(storeConfig)
	if err != nil {
		slog.Error("Failed to create store", "type", storeConfig.Type, "error", err)
		os.Exit(1)
	}

	switch storeConfig.Type {
	case store.StoreTypeMemory:
		slog.Info("Using in-memory store")
	case store.StoreTypeRedis:
		slog.Info("Using Redis store", "addr", cfg.RedisAddr, "db", cfg.RedisDB)
	}

	broker, err := NewBroker(cfg, stateStore)
	if err != nil {
		slog.Error("Failed to initialize broker", "error", err)
		store.Close(stateStore)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      broker.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	m := graceful.NewManager()

	m.AddRunningJob(func(ctx context.Context) error {
		slog.Info("OAuth broker listening",
			"addr", cfg.Addr,
			"provider", cfg.Provider,
			"redirect_uri", cfg.RedirectURI,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			return err
		}
		return nil
	})

	m.AddShutdownJob(func() error {
		slog.Info("Shutdown signal received, shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Server forced to shutdown", "err", err)
			return err
		}
		return nil
	})

	m.AddShutdownJob(func() error {
		store.Close(stateStore)
		return nil
	})

	<-m.Done()
	slog.Info("Server shutdown gracefully")
}
