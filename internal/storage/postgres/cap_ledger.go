package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/storage"
)

// CapLedger implements storage.CapLedger using PostgreSQL row locks.
// Keys are locked in sorted order so concurrent reservations cannot deadlock.
type CapLedger struct {
	pool *Pool
}

// NewCapLedger creates a new CapLedger.
func NewCapLedger(pool *Pool) *CapLedger {
	return &CapLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.CapLedger = (*CapLedger)(nil)

// Reserve reserves min(proposed, headroom) on every key in one transaction.
func (l *CapLedger) Reserve(ctx context.Context, limits []storage.CapLimit, proposed decimal.Decimal) (decimal.Decimal, error) {
	if proposed.IsNegative() {
		return decimal.Zero, storage.ErrInvalidInput
	}
	if len(limits) == 0 {
		return proposed, nil
	}

	keys := make([]string, 0, len(limits))
	for _, limit := range limits {
		keys = append(keys, limit.Key)
	}
	sort.Strings(keys)

	var authorized decimal.Decimal
	err := l.pool.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO cap_counters (key)
			SELECT unnest($1::text[])
			ON CONFLICT (key) DO NOTHING
		`, keys)
		if err != nil {
			return fmt.Errorf("ensure cap counters: %w", err)
		}

		used, err := lockCounters(ctx, tx, keys)
		if err != nil {
			return err
		}

		authorized = proposed
		for _, limit := range limits {
			headroom := limit.Ceiling.Sub(used[limit.Key])
			if headroom.LessThan(authorized) {
				authorized = headroom
			}
		}
		if !authorized.IsPositive() {
			authorized = decimal.Zero
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE cap_counters SET used = used + $2, updated_at = NOW()
			WHERE key = ANY($1)
		`, keys, authorized)
		if err != nil {
			return fmt.Errorf("reserve cap: %w", err)
		}
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return authorized, nil
}

// lockCounters reads the counters for keys under FOR UPDATE, in key order.
func lockCounters(ctx context.Context, tx pgx.Tx, keys []string) (map[string]decimal.Decimal, error) {
	rows, err := tx.Query(ctx, `
		SELECT key, used FROM cap_counters
		WHERE key = ANY($1)
		ORDER BY key
		FOR UPDATE
	`, keys)
	if err != nil {
		return nil, fmt.Errorf("lock cap counters: %w", err)
	}
	defer rows.Close()

	used := make(map[string]decimal.Decimal, len(keys))
	for rows.Next() {
		var key string
		var amount decimal.Decimal
		if err := rows.Scan(&key, &amount); err != nil {
			return nil, fmt.Errorf("scan cap counter: %w", err)
		}
		used[key] = amount
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cap counters: %w", err)
	}
	return used, nil
}

// Release subtracts a previously reserved amount from every key, flooring at zero.
func (l *CapLedger) Release(ctx context.Context, keys []string, amount decimal.Decimal) error {
	if len(keys) == 0 || !amount.IsPositive() {
		return nil
	}
	_, err := l.pool.Exec(ctx, `
		UPDATE cap_counters SET used = GREATEST(used - $2, 0), updated_at = NOW()
		WHERE key = ANY($1)
	`, keys, amount)
	if err != nil {
		return fmt.Errorf("release cap: %w", err)
	}
	return nil
}

// Used returns the running total for a key.
func (l *CapLedger) Used(ctx context.Context, key string) (decimal.Decimal, error) {
	used := decimal.Zero
	err := l.pool.QueryRow(ctx, `SELECT used FROM cap_counters WHERE key = $1`, key).Scan(&used)
	if err != nil {
		if isNotFoundError(err) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get cap usage: %w", err)
	}
	return used, nil
}
