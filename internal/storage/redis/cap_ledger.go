package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/storage"
)

// DefaultKeyPrefix namespaces counter keys.
const DefaultKeyPrefix = "matrix:cap:"

// reserveScript clamps ARGV[1] to the smallest headroom over KEYS
// (ceilings in ARGV[2..]) and adds the result to every key.
// All values are integer minor units.
var reserveScript = redis.NewScript(`
local authorized = tonumber(ARGV[1])
for i, key in ipairs(KEYS) do
	local used = tonumber(redis.call('GET', key) or '0')
	local headroom = tonumber(ARGV[i + 1]) - used
	if headroom < authorized then
		authorized = headroom
	end
end
if authorized < 0 then
	authorized = 0
end
if authorized > 0 then
	for _, key in ipairs(KEYS) do
		redis.call('INCRBY', key, authorized)
	end
end
return authorized
`)

// releaseScript subtracts ARGV[1] from every key, flooring at zero.
var releaseScript = redis.NewScript(`
for _, key in ipairs(KEYS) do
	local used = tonumber(redis.call('GET', key) or '0')
	local next = used - tonumber(ARGV[1])
	if next < 0 then
		next = 0
	end
	redis.call('SET', key, next)
end
return 0
`)

// CapLedger implements storage.CapLedger with Lua scripts, which Redis runs
// atomically. Amounts are stored as integers at a fixed money scale;
// fractions below the scale are truncated so a reservation never exceeds
// what was asked for.
type CapLedger struct {
	client *redis.Client
	prefix string
	scale  int32
}

// NewCapLedger creates a CapLedger. An empty prefix uses DefaultKeyPrefix.
func NewCapLedger(client *redis.Client, prefix string, scale int32) *CapLedger {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &CapLedger{client: client, prefix: prefix, scale: scale}
}

// Compile-time interface check.
var _ storage.CapLedger = (*CapLedger)(nil)

// Reserve reserves min(proposed, headroom) on every key.
func (l *CapLedger) Reserve(ctx context.Context, limits []storage.CapLimit, proposed decimal.Decimal) (decimal.Decimal, error) {
	if proposed.IsNegative() {
		return decimal.Zero, storage.ErrInvalidInput
	}
	if len(limits) == 0 {
		return proposed, nil
	}

	keys := make([]string, 0, len(limits))
	args := make([]interface{}, 0, len(limits)+1)
	args = append(args, l.units(proposed))
	for _, limit := range limits {
		keys = append(keys, l.prefix+limit.Key)
		args = append(args, l.units(limit.Ceiling))
	}

	authorized, err := reserveScript.Run(ctx, l.client, keys, args...).Int64()
	if err != nil {
		return decimal.Zero, fmt.Errorf("reserve cap: %w", err)
	}
	return decimal.New(authorized, -l.scale), nil
}

// Release subtracts a previously reserved amount from every key.
func (l *CapLedger) Release(ctx context.Context, keys []string, amount decimal.Decimal) error {
	if len(keys) == 0 || !amount.IsPositive() {
		return nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = l.prefix + key
	}

	if err := releaseScript.Run(ctx, l.client, prefixed, l.units(amount)).Err(); err != nil {
		return fmt.Errorf("release cap: %w", err)
	}
	return nil
}

// Used returns the running total for a key.
func (l *CapLedger) Used(ctx context.Context, key string) (decimal.Decimal, error) {
	val, err := l.client.Get(ctx, l.prefix+key).Result()
	if err != nil {
		if err == redis.Nil {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get cap usage: %w", err)
	}

	units, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse cap usage %q: %w", val, err)
	}
	return decimal.New(units, -l.scale), nil
}

func (l *CapLedger) units(d decimal.Decimal) string {
	return d.Shift(l.scale).Truncate(0).String()
}
