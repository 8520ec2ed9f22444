// Package driver opens and manages connections to Postgres, Redis and NATS.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPool is the subset of *pgxpool.Pool the repositories depend on.
type PostgresPool interface {
	// BeginTx starts a new transaction and returns a Tx.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)

	// Exec executes an SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)

	// Query executes an SQL query and returns the resulting rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes an SQL query and returns a single row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Ping checks that a connection can be acquired and used.
	Ping(ctx context.Context) error

	// Close closes the pool and all its connections.
	Close()
}

// Querier is satisfied by both a pool and a transaction, so repositories can
// run the same statement inside or outside of a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// maxOpenDbConn defines the maximum number of open connections.
const maxOpenDbConn = 10

// maxDbLifetime is the maximum lifetime of a pooled connection before it is recycled.
const maxDbLifetime = 5 * time.Minute

// connectTimeout bounds the initial connectivity check.
const connectTimeout = 5 * time.Second

// ConnectSQL parses dsn, opens a bounded pool and verifies that a connection
// can be acquired before returning it.
func ConnectSQL(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	config.MaxConns = int32(maxOpenDbConn)
	config.MaxConnLifetime = maxDbLifetime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// Executor returns tx when it is set and falls back to the pool otherwise.
func Executor(pool PostgresPool, tx pgx.Tx) Querier {
	if tx != nil {
		return tx
	}
	return pool
}
