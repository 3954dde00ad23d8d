// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyloom Contributors

// Package store provides the PostgreSQL connection pool and schema
// migration tooling for the durable session registry.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// connectMaxElapsed bounds how long Connect keeps retrying the initial ping.
const connectMaxElapsed = 30 * time.Second

// Connect opens a pgx connection pool and verifies connectivity. The ping
// is retried with exponential backoff so the server survives a database
// that comes up slightly after it does.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_FAILED").
			With("operation", "create connection pool").
			Wrap(err)
	}

	backoff := retry.WithMaxDuration(connectMaxElapsed,
		retry.NewExponential(500*time.Millisecond))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.Debug("database ping failed, retrying", "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").
			With("operation", "ping database").
			Wrap(err)
	}

	return pool, nil
}
