package redis

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCapLedger_Reserve(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ledger := NewCapLedger(db, "", 2)
	ctx := context.Background()

	limits := []storage.CapLimit{
		{Key: "participant:a:month:2026-01", Ceiling: dec("100")},
		{Key: "system:month:2026-01", Ceiling: dec("1000.50")},
	}
	keys := []string{
		"matrix:cap:participant:a:month:2026-01",
		"matrix:cap:system:month:2026-01",
	}

	t.Run("returns clamped amount", func(t *testing.T) {
		mock.ExpectEvalSha(reserveScript.Hash(), keys, "6099", "10000", "100050").SetVal(int64(4000))

		got, err := ledger.Reserve(ctx, limits, dec("60.999"))
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("40")), "got %s", got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("script error is wrapped", func(t *testing.T) {
		mock.ExpectEvalSha(reserveScript.Hash(), keys, "500", "10000", "100050").SetErr(errors.New("connection reset"))

		_, err := ledger.Reserve(ctx, limits, dec("5"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reserve cap")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no limits passes through", func(t *testing.T) {
		got, err := ledger.Reserve(ctx, nil, dec("12.34"))
		require.NoError(t, err)
		assert.True(t, got.Equal(dec("12.34")))
	})

	t.Run("negative proposal rejected", func(t *testing.T) {
		_, err := ledger.Reserve(ctx, limits, dec("-1"))
		assert.ErrorIs(t, err, storage.ErrInvalidInput)
	})
}

func TestCapLedger_Release(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ledger := NewCapLedger(db, "caps:", 2)
	ctx := context.Background()

	mock.ExpectEvalSha(releaseScript.Hash(), []string{"caps:a", "caps:b"}, "2550").SetVal(int64(0))

	require.NoError(t, ledger.Release(ctx, []string{"a", "b"}, dec("25.50")))
	require.NoError(t, ledger.Release(ctx, []string{"a"}, decimal.Zero))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapLedger_Used(t *testing.T) {
	db, mock := redismock.NewClientMock()
	ledger := NewCapLedger(db, "", 2)
	ctx := context.Background()

	mock.ExpectGet("matrix:cap:system:month:2026-01").SetVal("123456")
	used, err := ledger.Used(ctx, "system:month:2026-01")
	require.NoError(t, err)
	assert.True(t, used.Equal(dec("1234.56")))

	mock.ExpectGet("matrix:cap:missing").RedisNil()
	used, err = ledger.Used(ctx, "missing")
	require.NoError(t, err)
	assert.True(t, used.IsZero())

	mock.ExpectGet("matrix:cap:broken").SetVal("not-a-number")
	_, err = ledger.Used(ctx, "broken")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
