// Package postgres implements the storage interfaces on PostgreSQL, the
// system of record for participants, the matrix, investments, commissions,
// withdrawals, cap counters and payouts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMaxConns    = 16
	healthCheckPeriod  = 30 * time.Second
	connectPingTimeout = 5 * time.Second
)

// Pool is the connection pool shared by every store.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to dsn and pings the server. A pool_max_conns parameter
// in the DSN overrides the default pool size.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	cfg.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectPingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// inTx runs fn inside one transaction. fn's error rolls it back.
func (p *Pool) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, p.Pool, fn)
}

// SQLSTATE classes the stores translate into storage sentinels.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// sqlState returns the SQLSTATE and constraint name carried by err, if any.
func sqlState(err error) (code, constraint string) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", ""
	}
	return pgErr.Code, pgErr.ConstraintName
}

func isDuplicateKeyError(err error) bool {
	code, _ := sqlState(err)
	return code == codeUniqueViolation
}

// isConstraintViolation reports a unique violation of the named constraint.
func isConstraintViolation(err error, constraint string) bool {
	code, name := sqlState(err)
	return code == codeUniqueViolation && name == constraint
}

func isForeignKeyError(err error) bool {
	code, _ := sqlState(err)
	return code == codeForeignKeyViolation
}

func isCheckError(err error) bool {
	code, _ := sqlState(err)
	return code == codeCheckViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
