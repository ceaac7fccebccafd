// Package server assembles the HTTP surface and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrschumacher/wheelcheck/internal/config"
	"github.com/jrschumacher/wheelcheck/internal/db"
	"github.com/jrschumacher/wheelcheck/internal/logger"
	"github.com/jrschumacher/wheelcheck/internal/metrics"
	"github.com/jrschumacher/wheelcheck/internal/middleware"
	"github.com/jrschumacher/wheelcheck/internal/repository"
	"github.com/jrschumacher/wheelcheck/internal/tokenverify"
	"github.com/jrschumacher/wheelcheck/server/app"
	health "github.com/jrschumacher/wheelcheck/server/health-handlers"
)

const shutdownTimeout = 15 * time.Second

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Config   *config.Config
	DB       *db.Service
	Verifier *tokenverify.Verifier
	Metrics  *metrics.Metrics
}

// NewVerifier builds the token verifier from configuration, reporting to obs.
func NewVerifier(cfg *config.Config, obs tokenverify.Observer) *tokenverify.Verifier {
	options := []tokenverify.Option{}
	if obs != nil {
		options = append(options, tokenverify.WithObserver(obs))
	}
	return tokenverify.NewVerifier(tokenverify.Options{
		Issuer:       cfg.AuthIssuer,
		Audience:     cfg.AuthAudience,
		CacheTTL:     cfg.JWKSCacheTTL,
		FetchTimeout: cfg.JWKSFetchTimeout,
		ClockSkew:    cfg.ClockSkew,
	}, options...)
}

// NewHandler wires routes and the global middleware stack.
func NewHandler(d Deps) http.Handler {
	mux := http.NewServeMux()

	health.RegisterRoutes(mux, "", d.Config, d.DB, d.Verifier)
	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics.Handler())
	}
	app.RegisterRoutes(mux, "/api", d.Config, repository.NewRepository(d.DB), d.Verifier)

	var obs middleware.HTTPObserver
	if d.Metrics != nil {
		obs = d.Metrics
	}
	return middleware.NewChain(
		middleware.RequestID,
		middleware.AccessLog(obs),
		middleware.Recover,
		middleware.CORS(d.Config.Origins()),
	).Then(mux)
}

// Start opens the database, applies migrations and serves until SIGINT or
// SIGTERM.
func Start(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbService, err := db.NewService(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbService.Close(); err != nil {
			logger.Warn("Failed to close database", "error", err)
		}
	}()
	if err := dbService.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.New()
	verifier := NewVerifier(cfg, m)
	warmKeySet(ctx, verifier)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           NewHandler(Deps{Config: cfg, DB: dbService, Verifier: verifier, Metrics: m}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", srv.Addr, "env", cfg.AppEnv, "issuer", cfg.AuthIssuer)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("Server stopped")
	return nil
}

// warmKeySet fetches the key set once at startup so the first request does
// not pay for it. Failure is logged only; requests retry on demand.
func warmKeySet(ctx context.Context, v *tokenverify.Verifier) {
	if !v.Configured() {
		return
	}
	if _, err := v.Cache().Get(ctx); err != nil {
		logger.Warn("Initial JWKS fetch failed", "url", v.Cache().URL(), "error", err)
	}
}
