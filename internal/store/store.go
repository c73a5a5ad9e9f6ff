// Package store opens short-lived Postgres connections. Every access acquires
// its own connection and releases it before returning; nothing is pooled
// across calls.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type OpenFunc func(ctx context.Context) (*sql.DB, error)

type Gateway struct {
	Open OpenFunc
}

func NewGateway(dsn string, connectTimeout time.Duration) (*Gateway, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if connectTimeout <= 0 {
		connectTimeout = 30 * time.Second
	}
	return &Gateway{Open: func(ctx context.Context) (*sql.DB, error) {
		return open(ctx, dsn, connectTimeout)
	}}, nil
}

func open(ctx context.Context, dsn string, connectTimeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(0)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return db, nil
}

// WithConn runs fn on a freshly acquired connection and closes it on every
// exit path, including panics inside fn.
func (g *Gateway) WithConn(ctx context.Context, fn func(db *sql.DB) error) error {
	if g == nil || g.Open == nil {
		return errors.New("database gateway is not configured")
	}
	db, err := g.Open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	return fn(db)
}

// Ping performs a trivial round-trip query.
func (g *Gateway) Ping(ctx context.Context) error {
	return g.WithConn(ctx, func(db *sql.DB) error {
		var one int
		if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
			return fmt.Errorf("health query: %w", err)
		}
		return nil
	})
}
