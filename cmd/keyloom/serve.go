// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

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

	"github.com/keyloom/keyloom/internal/auth"
	authpg "github.com/keyloom/keyloom/internal/auth/postgres"
	"github.com/keyloom/keyloom/internal/cache"
	"github.com/keyloom/keyloom/internal/config"
	"github.com/keyloom/keyloom/internal/httpapi"
	"github.com/keyloom/keyloom/internal/logging"
	"github.com/keyloom/keyloom/internal/observability"
	"github.com/keyloom/keyloom/internal/store"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the authentication server",
		Long: `Start the HTTP authentication server, the observability endpoints
and the expired-session sweeper.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().String("http_addr", "", "HTTP listen address")
	cmd.Flags().String("metrics_addr", "", "metrics/health HTTP address")
	cmd.Flags().String("log_format", "", "log format (json or text)")
	cmd.Flags().String("log_level", "", "log level (debug, info, warn, error)")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logging.SetDefault("keyloom", version, cfg.LogFormat, logging.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	slog.Info("connected to database")

	sessionCache := cache.New(cache.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Timeout:  cfg.Redis.Timeout,
	})
	defer func() {
		if err := sessionCache.Close(); err != nil {
			slog.Warn("error closing session cache", "error", err)
		}
	}()

	// The cache is advisory: a dead Redis only degrades validation to the
	// durable path, so a failed ping is logged, not fatal.
	if err := sessionCache.Ping(ctx); err != nil {
		slog.Warn("session cache unreachable at startup, continuing durable-only", "error", err)
	}

	issuer, err := auth.NewTokenIssuer(cfg.Auth.SigningSecrets, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		return err
	}

	service, err := auth.NewService(
		authpg.NewUserRepository(pool),
		authpg.NewSessionRepository(pool),
		sessionCache,
		authpg.NewAttemptRepository(pool),
		auth.NewArgon2idHasher(),
		issuer,
		auth.WithLockoutPolicy(auth.LockoutPolicy{
			Threshold: cfg.Auth.LockoutThreshold,
			Duration:  cfg.Auth.LockoutDuration,
		}),
		auth.WithResetTokenTTL(cfg.Auth.ResetTokenTTL),
	)
	if err != nil {
		return err
	}

	app := httpapi.NewApp(httpapi.NewHandler(service, slog.Default()))

	obsServer := observability.NewServer(cfg.MetricsAddr, func() bool {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), time.Second)
		defer pingCancel()
		return pool.Ping(pingCtx) == nil
	})
	obsErrCh, err := obsServer.Start()
	if err != nil {
		return err
	}

	httpErrCh := make(chan error, 1)
	go func() {
		if listenErr := app.Listen(cfg.HTTPAddr); listenErr != nil {
			httpErrCh <- listenErr
		}
	}()
	slog.Info("http server listening", "addr", cfg.HTTPAddr)

	go runSweeper(ctx, service, cfg.Auth.SweepInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	slog.Info("keyloom ready",
		"http_addr", cfg.HTTPAddr,
		"metrics_addr", obsServer.Addr())

	select {
	case sig := <-sigCh:
		slog.Info("received shutdown signal", "signal", sig)
	case err := <-httpErrCh:
		return oops.Code("HTTP_SERVER_FAILED").Wrap(err)
	case err, ok := <-obsErrCh:
		if ok && err != nil {
			return oops.Code("OBS_SERVER_FAILED").Wrap(err)
		}
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	}

	slog.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Warn("error shutting down http server", "error", err)
	}
	if err := obsServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("error shutting down observability server", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// runSweeper reaps expired session rows on a fixed interval until the
// context is cancelled.
func runSweeper(ctx context.Context, service *auth.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.SweepExpired(ctx); err != nil {
				slog.Warn("expired session sweep failed", "error", err)
			}
		}
	}
}
