package compliance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/storage/memory"
)

var oct = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestAuthorize_Unlimited(t *testing.T) {
	g, err := New(Options{Ledger: memory.NewCapLedger()})
	require.NoError(t, err)

	auth, err := g.Authorize(context.Background(), "p1", d(150), oct)
	require.NoError(t, err)
	assert.True(t, auth.Authorized.Equal(d(150)))
	assert.False(t, auth.WasCapped)
	assert.Empty(t, auth.Keys)

	_, unlimited, err := g.Headroom(context.Background(), "p1", oct)
	require.NoError(t, err)
	assert.True(t, unlimited)
}

func TestAuthorize_MonthlyCap(t *testing.T) {
	ctx := context.Background()
	g, err := New(Options{Ledger: memory.NewCapLedger(), Limits: Limits{ParticipantMonthly: d(200)}})
	require.NoError(t, err)

	auth, err := g.Authorize(ctx, "p1", d(150), oct)
	require.NoError(t, err)
	assert.False(t, auth.WasCapped)

	auth, err = g.Authorize(ctx, "p1", d(100), oct)
	require.NoError(t, err)
	assert.True(t, auth.WasCapped)
	assert.True(t, auth.Authorized.Equal(d(50)))

	auth, err = g.Authorize(ctx, "p1", d(10), oct)
	require.NoError(t, err)
	assert.True(t, auth.WasCapped)
	assert.True(t, auth.Authorized.IsZero())

	// New month has fresh headroom.
	auth, err = g.Authorize(ctx, "p1", d(10), oct.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, auth.WasCapped)

	// Other participants are unaffected.
	auth, err = g.Authorize(ctx, "p2", d(200), oct)
	require.NoError(t, err)
	assert.False(t, auth.WasCapped)
}

func TestAuthorize_MinAcrossWindows(t *testing.T) {
	ctx := context.Background()
	g, err := New(Options{
		Ledger: memory.NewCapLedger(),
		Limits: Limits{ParticipantMonthly: d(500), ParticipantLifetime: d(800), SystemMonthly: d(600)},
	})
	require.NoError(t, err)

	_, err = g.Authorize(ctx, "p1", d(400), oct)
	require.NoError(t, err)

	auth, err := g.Authorize(ctx, "p2", d(400), oct)
	require.NoError(t, err)
	assert.True(t, auth.Authorized.Equal(d(200)), "system window leaves 200")

	head, _, err := g.Headroom(ctx, "p1", oct)
	require.NoError(t, err)
	assert.True(t, head.IsZero())

	head, _, err = g.Headroom(ctx, "p1", oct.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, head.Equal(d(400)), "lifetime window leaves 400, got %s", head)
}

func TestRelease(t *testing.T) {
	ctx := context.Background()
	g, err := New(Options{Ledger: memory.NewCapLedger(), Limits: Limits{ParticipantLifetime: d(100)}})
	require.NoError(t, err)

	auth, err := g.Authorize(ctx, "p1", d(100), oct)
	require.NoError(t, err)
	require.NoError(t, g.Release(ctx, auth))

	head, _, err := g.Headroom(ctx, "p1", oct)
	require.NoError(t, err)
	assert.True(t, head.Equal(d(100)))
}

func TestAuthorize_ConcurrentNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()
	g, err := New(Options{Ledger: memory.NewCapLedger(), Limits: Limits{ParticipantMonthly: d(1000)}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := decimal.Zero
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			auth, err := g.Authorize(ctx, "p1", decimal.RequireFromString("33.33"), oct)
			assert.NoError(t, err)
			mu.Lock()
			total = total.Add(auth.Authorized)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.True(t, total.Equal(d(1000)), total.String())
}

func TestNew_RejectsNegative(t *testing.T) {
	_, err := New(Options{Ledger: memory.NewCapLedger(), Limits: Limits{SystemMonthly: d(-1)}})
	assert.ErrorIs(t, err, ErrNegativeLimit)
}

func TestMonthWindow_UsesUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	at := time.Date(2026, 11, 1, 2, 0, 0, 0, loc)
	assert.Equal(t, "2026-10", MonthWindow(at))
}
