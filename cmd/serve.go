// -- cmd/serve.go --
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tessierlabs/storeforge/internal/browser"
	"github.com/tessierlabs/storeforge/internal/observability"
	"github.com/tessierlabs/storeforge/internal/provision"
	"github.com/tessierlabs/storeforge/internal/server"
	"github.com/tessierlabs/storeforge/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the provisioning service.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(parent context.Context) error {
	logger := observability.GetLogger()

	if err := cfg.RequireCredentials(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("invalid database DSN: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.ConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.Database.ConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	recorder, err := store.New(ctx, pool, logger)
	if err != nil {
		return err
	}

	manager := browser.NewManager(cfg.Browser, logger)
	orchestrator := provision.NewOrchestrator(cfg.Partner, cfg.Provision, manager, recorder, logger)

	handler := server.NewHandler(orchestrator, logger)
	srv := server.New(cfg.Server, handler, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening.", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		orchestrator.Sessions().RunJanitor(gctx, cfg.Provision.JanitorInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received.")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error.", zap.Error(err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Browser manager shutdown error.", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Service stopped.")
	return err
}
