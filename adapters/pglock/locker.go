// Package pglock implements core.LeaderLocker with Postgres session advisory
// locks held on a dedicated pool connection.
package pglock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-creditlots/core"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	tryLockSQL = "SELECT pg_try_advisory_lock(hashtext($1))"
	unlockSQL  = "SELECT pg_advisory_unlock(hashtext($1))"
)

// Conn is the subset of *pgxpool.Conn the locker needs.
type Conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Release()
}

type ConnSource func(ctx context.Context) (Conn, error)

type Locker struct {
	acquire ConnSource
}

var _ core.LeaderLocker = (*Locker)(nil)

// NewPool opens and pings a pgx pool for dsn.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pglock: parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("pglock: connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pglock: ping postgres: %w", err)
	}
	return pool, nil
}

func New(pool *pgxpool.Pool) (*Locker, error) {
	if pool == nil {
		return nil, fmt.Errorf("pglock: pgx pool is required")
	}
	return NewWithSource(func(ctx context.Context) (Conn, error) {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	})
}

func NewWithSource(source ConnSource) (*Locker, error) {
	if source == nil {
		return nil, fmt.Errorf("pglock: connection source is required")
	}
	return &Locker{acquire: source}, nil
}

// Acquire ignores ttl: the lock lives until Unlock or until the session ends.
func (l *Locker) Acquire(ctx context.Context, key string, _ time.Duration) (core.LockHandle, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("pglock: lock key is required")
	}
	conn, err := l.acquire(ctx)
	if err != nil {
		return nil, core.ExternalDependencyError(err, "pglock: acquire connection")
	}
	var locked bool
	if err := conn.QueryRow(ctx, tryLockSQL, key).Scan(&locked); err != nil {
		conn.Release()
		return nil, core.ExternalDependencyError(err, "pglock: try advisory lock "+key)
	}
	if !locked {
		conn.Release()
		return nil, fmt.Errorf("%w: %q", core.ErrLeaderLockHeld, key)
	}
	return &handle{conn: conn, key: key}, nil
}

type handle struct {
	conn Conn
	key  string
}

func (h *handle) Unlock(ctx context.Context) error {
	if h.conn == nil {
		return nil
	}
	defer func() {
		h.conn.Release()
		h.conn = nil
	}()
	var released bool
	if err := h.conn.QueryRow(ctx, unlockSQL, h.key).Scan(&released); err != nil {
		return core.ExternalDependencyError(err, "pglock: advisory unlock "+h.key)
	}
	return nil
}
