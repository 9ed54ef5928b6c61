// Package app provides the top-level application lifecycle management for
// vaultscope. It wires together all dependencies (on-chain readers per
// chain, the off-chain pricer, the aggregator, and the API server) and runs
// them until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haldenlabs/vaultscope/internal/config"
	"github.com/haldenlabs/vaultscope/internal/server"
	"github.com/haldenlabs/vaultscope/internal/server/handler"
	"github.com/haldenlabs/vaultscope/internal/server/ws"
)

// shutdownGrace bounds how long in-flight requests may finish on shutdown.
const shutdownGrace = 10 * time.Second

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the API
// server and the watch hub, and blocks until the context is cancelled. On
// return the caller runs Close to release resources.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if !a.cfg.Server.Enabled {
		a.logger.Warn("server disabled, nothing to serve; waiting for shutdown")
		<-ctx.Done()
		return ctx.Err()
	}

	hub := ws.NewHub(deps.Aggregator, a.cfg.Watch.Refresh.Duration, a.logger)

	statuses := make([]handler.ChainStatus, 0, len(a.cfg.Chains))
	for _, cc := range a.cfg.Chains {
		statuses = append(statuses, handler.ChainStatus{
			ChainID: cc.ID,
			Label:   cc.Label,
			Ready:   cc.RPCURL != "",
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, server.Handlers{
		Health: handler.NewHealthHandler(statuses, a.logger),
		Vaults: handler.NewVaultHandler(deps.Aggregator, a.logger),
	}, hub, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return hub.Run(gctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
