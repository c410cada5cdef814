package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/storage"
)

// CapLedger is an in-memory implementation of storage.CapLedger.
// A single mutex makes every Reserve atomic across all of its keys.
type CapLedger struct {
	mu   sync.Mutex
	used map[string]decimal.Decimal
}

// NewCapLedger creates a new in-memory cap ledger.
func NewCapLedger() *CapLedger {
	return &CapLedger{
		used: make(map[string]decimal.Decimal),
	}
}

// Reserve reserves min(proposed, headroom) on every key.
func (l *CapLedger) Reserve(_ context.Context, limits []storage.CapLimit, proposed decimal.Decimal) (decimal.Decimal, error) {
	if proposed.IsNegative() {
		return decimal.Zero, storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	authorized := proposed
	for _, limit := range limits {
		headroom := limit.Ceiling.Sub(l.used[limit.Key])
		if headroom.LessThan(authorized) {
			authorized = headroom
		}
	}
	if authorized.IsNegative() {
		authorized = decimal.Zero
	}

	if authorized.IsPositive() {
		for _, limit := range limits {
			l.used[limit.Key] = l.used[limit.Key].Add(authorized)
		}
	}
	return authorized, nil
}

// Release subtracts a previously reserved amount from every key.
func (l *CapLedger) Release(_ context.Context, keys []string, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, key := range keys {
		next := l.used[key].Sub(amount)
		if next.IsNegative() {
			next = decimal.Zero
		}
		l.used[key] = next
	}
	return nil
}

// Used returns the running total for a key.
func (l *CapLedger) Used(_ context.Context, key string) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.used[key], nil
}

// Verify interface compliance at compile time.
var _ storage.CapLedger = (*CapLedger)(nil)
