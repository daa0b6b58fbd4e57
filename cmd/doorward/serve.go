// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Doorward Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/doorward/doorward/internal/auth"
	"github.com/doorward/doorward/internal/auth/postgres"
	"github.com/doorward/doorward/internal/config"
	"github.com/doorward/doorward/internal/gateway"
	"github.com/doorward/doorward/internal/logging"
	"github.com/doorward/doorward/internal/observability"
	"github.com/doorward/doorward/internal/store"
)

const shutdownTimeout = 5 * time.Second

// newServeCmd creates the serve subcommand. deps may be nil in production;
// tests inject fakes through it.
func newServeCmd(deps *ServeDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication gateway",
		Long: `Start the HTTP gateway which serves registration, login, profile,
and password-reset endpoints, plus the metrics server and the
control socket.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, deps)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

// runServe starts the gateway process and blocks until shutdown.
func runServe(cmd *cobra.Command, deps *ServeDeps) error {
	d := deps.withDefaults()

	cfg, err := config.Load(configFile, cmd.Flags())
	if err != nil {
		return err
	}

	logging.SetDefault("doorward", version, cfg.Log.Format)

	slog.Info("starting doorward",
		"addr", cfg.Server.Addr,
		"auth_mode", cfg.Auth.Mode,
		"log_format", cfg.Log.Format,
	)

	if err := d.AutoMigrate(cfg.Database.URL); err != nil {
		return oops.Code("MIGRATION_FAILED").Wrap(err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	pool, err := d.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := postgres.NewUserRepository(pool)
	hasher := auth.NewArgon2idHasher()
	service, err := auth.NewServiceWithLogger(users, hasher, slog.Default())
	if err != nil {
		return err
	}

	strategy, err := buildStrategy(cfg, service, users, hasher)
	if err != nil {
		return err
	}

	// Start observability server if configured.
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Server.MetricsAddr != "" {
		obsServer = d.NewObservability(cfg.Server.MetricsAddr, func() bool {
			return pool.Ping(context.Background()) == nil
		})
		if _, err := obsServer.Start(); err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		metrics = obsServer.Metrics()
		slog.Info("observability server started", "addr", obsServer.Addr())
	}

	gw, err := d.NewGateway(gateway.Options{
		Addr:           cfg.Server.Addr,
		Service:        service,
		Strategy:       strategy,
		CookieName:     cfg.Auth.SessionCookie,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Metrics:        metrics,
	})
	if err != nil {
		stopObservability(obsServer)
		return err
	}

	gatewayErrCh, err := gw.Start()
	if err != nil {
		stopObservability(obsServer)
		return oops.Code("GATEWAY_START_FAILED").Wrap(err)
	}
	slog.Info("gateway listening", "addr", gw.Addr())

	// Control socket enables the status and shutdown commands.
	ctl := d.NewControl("gateway", func() { cancel() })
	if err := ctl.Start(); err != nil {
		slog.Warn("control socket unavailable", "error", err)
		ctl = nil
	}

	cmd.Println("Doorward started")

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-gatewayErrCh:
		if err != nil {
			slog.Error("gateway server error", "error", err)
			runErr = err
		}
	}

	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := gw.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping gateway server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping observability server", "error", err)
		}
	}
	if ctl != nil {
		if err := ctl.Stop(shutdownCtx); err != nil {
			slog.Warn("error stopping control socket", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return runErr
}

// buildStrategy picks the authorization strategy from config.
func buildStrategy(cfg *config.Config, service *auth.Service, users auth.UserStore, hasher auth.PasswordHasher) (auth.Strategy, error) {
	switch cfg.Auth.Mode {
	case config.ModeNone:
		return auth.NewNoneStrategy(), nil
	case config.ModeBasic:
		return auth.NewBasicStrategy(users, hasher, cfg.Auth.ExcludedPaths)
	case config.ModeSession:
		return auth.NewSessionStrategy(service.Sessions(), cfg.Auth.SessionCookie, cfg.Auth.ExcludedPaths)
	default:
		return nil, oops.Code("CONFIG_INVALID").
			With("mode", cfg.Auth.Mode).
			Errorf("unknown authorization mode")
	}
}

// autoMigrate brings the database schema to the latest version on startup.
func autoMigrate(databaseURL string) error {
	migrator, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			slog.Warn("error closing migrator", "error", closeErr)
		}
	}()

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		slog.Info("database schema up to date")
		return nil
	}

	slog.Info("applying migrations", "pending", len(pending))
	if err := migrator.Up(); err != nil {
		return err
	}
	slog.Info("migrations applied", "count", len(pending))
	return nil
}

// stopObservability stops the observability server during startup unwinding.
func stopObservability(s ObservabilityServer) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}
