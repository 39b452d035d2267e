// Package store implements the pipeline's Gateway on PostgreSQL.
//
// Every identifier is validated and quoted with pgx.Identifier before it is
// interpolated into SQL; values always travel as parameters or COPY data.
// Driver errors are classified into core.StoreError kinds from their
// SQLSTATE so the engine can decide between retrying, rejecting a batch
// and failing the job.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/dropzone/internal/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds connection settings.
type Config struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectAttempts int           // default: 3
	ConnectTimeout  time.Duration // per attempt, default: 10s
}

// Gateway is a core.Gateway backed by a pgx connection pool.
type Gateway struct {
	pool  *pgxpool.Pool
	retry core.RetryPolicy
}

var _ core.Gateway = (*Gateway)(nil)

// Connect opens a pool and verifies it, retrying with exponential backoff.
func Connect(ctx context.Context, cfg Config) (*Gateway, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = int32(cfg.MinConns)
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	g := New(pool, retryPolicy(cfg))
	if err := g.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	slog.Info("connected to database",
		"database", poolConfig.ConnConfig.Database,
		"host", poolConfig.ConnConfig.Host,
		"max_conns", poolConfig.MaxConns,
	)
	return g, nil
}

func retryPolicy(cfg Config) core.RetryPolicy {
	p := core.DefaultRetryPolicy
	if cfg.ConnectAttempts > 0 {
		p.Attempts = cfg.ConnectAttempts
	}
	p.AttemptTimeout = 10 * time.Second
	if cfg.ConnectTimeout > 0 {
		p.AttemptTimeout = cfg.ConnectTimeout
	}
	return p
}

// New wraps an existing pool. retry bounds connection acquisition.
func New(pool *pgxpool.Pool, retry core.RetryPolicy) *Gateway {
	return &Gateway{pool: pool, retry: retry}
}

// Pool returns the underlying pool.
func (g *Gateway) Pool() *pgxpool.Pool { return g.pool }

// Close closes the pool.
func (g *Gateway) Close() { g.pool.Close() }

// Ping acquires and validates one connection.
func (g *Gateway) Ping(ctx context.Context) error {
	conn, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// acquire takes a pooled connection and validates it with a trivial query.
// Failures are retried per the gateway's retry policy.
func (g *Gateway) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	var conn *pgxpool.Conn
	err := core.Retry(ctx, g.retry, func(ctx context.Context) error {
		c, err := g.pool.Acquire(ctx)
		if err != nil {
			return classify("acquire connection", core.TableRef{}, err)
		}
		if _, err := c.Exec(ctx, "SELECT 1"); err != nil {
			c.Release()
			return classify("validate connection", core.TableRef{}, err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// withConn runs fn on a validated connection.
func (g *Gateway) withConn(ctx context.Context, fn func(conn *pgxpool.Conn) error) error {
	conn, err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()
	return fn(conn)
}

// withTx runs fn in a transaction, committing when it returns nil.
func (g *Gateway) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return g.withConn(ctx, func(conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(context.WithoutCancel(ctx))

		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
}
