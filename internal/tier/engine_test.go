package tier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
	"matrix-comp/internal/storage/memory"
)

var t0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Engine, *memory.ParticipantStore, *memory.TierHistoryStore) {
	t.Helper()
	participants := memory.NewParticipantStore()
	history := memory.NewTierHistoryStore()
	require.NoError(t, participants.Insert(context.Background(), &domain.Participant{ID: "p1", JoinedAt: t0}))

	e := New(Options{
		Participants: participants,
		History:      history,
		Catalog:      catalog.Default(),
	})
	return e, participants, history
}

func TestEvaluate_UpgradesToHighestEligible(t *testing.T) {
	ctx := context.Background()
	e, participants, history := setup(t)

	_, err := participants.AddCapital(ctx, "p1", decimal.NewFromInt(6000))
	require.NoError(t, err)

	res, err := e.Evaluate(ctx, "p1", t0)
	require.NoError(t, err)
	assert.True(t, res.Upgraded)
	assert.Equal(t, "gold", res.TierID)
	assert.Equal(t, "", res.FromTierID)

	entries, err := history.GetByParticipant(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CapitalAtUpgrade.Equal(decimal.NewFromInt(6000)))
	assert.Equal(t, t0, entries[0].UpgradedAt)
}

func TestEvaluate_IdempotentAndBelowLowest(t *testing.T) {
	ctx := context.Background()
	e, participants, history := setup(t)

	res, err := e.Evaluate(ctx, "p1", t0)
	require.NoError(t, err)
	assert.False(t, res.Upgraded)
	assert.Equal(t, "", res.TierID)

	_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(1000))
	_, err = e.Evaluate(ctx, "p1", t0)
	require.NoError(t, err)

	res, err = e.Evaluate(ctx, "p1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Upgraded)
	assert.Equal(t, "silver", res.TierID)

	entries, _ := history.GetByParticipant(ctx, "p1")
	assert.Len(t, entries, 1)
}

func TestEvaluate_NeverDowngrades(t *testing.T) {
	ctx := context.Background()
	e, participants, _ := setup(t)

	_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(5000))
	_, err := e.Evaluate(ctx, "p1", t0)
	require.NoError(t, err)

	_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(-4500))
	res, err := e.Evaluate(ctx, "p1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, res.Upgraded)
	assert.Equal(t, "gold", res.TierID)

	p, _ := participants.GetByID(ctx, "p1")
	assert.Equal(t, "gold", p.CurrentTierID)
}

func TestEvaluate_MonotonicUnderCapitalSequence(t *testing.T) {
	ctx := context.Background()
	e, participants, _ := setup(t)
	cat := catalog.Default()

	deltas := []int64{50, 100, 900, -800, 4000, -4000, 25000, -1}
	last := 0
	for i, d := range deltas {
		_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(d))
		res, err := e.Evaluate(ctx, "p1", t0.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)

		ord, err := cat.Ordering(res.TierID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ord, last, "step %d", i)
		last = ord
	}
	assert.Equal(t, 4, last)
}

func TestEvaluate_ConcurrentSingleUpgrade(t *testing.T) {
	ctx := context.Background()
	e, participants, history := setup(t)
	_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(1000))

	var wg sync.WaitGroup
	var mu sync.Mutex
	upgrades := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.Evaluate(ctx, "p1", t0)
			assert.NoError(t, err)
			if err == nil && res.Upgraded {
				mu.Lock()
				upgrades++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, upgrades)
	entries, _ := history.GetByParticipant(ctx, "p1")
	assert.Len(t, entries, 1)
}

// failingHistory fails the next Append once.
type failingHistory struct {
	storage.TierHistoryStore
	failNext bool
}

func (f *failingHistory) Append(ctx context.Context, entry *domain.TierHistoryEntry) error {
	if f.failNext {
		f.failNext = false
		return errors.New("history unavailable")
	}
	return f.TierHistoryStore.Append(ctx, entry)
}

// failingTiers fails the next SetTier once.
type failingTiers struct {
	storage.ParticipantStore
	failNext bool
}

func (f *failingTiers) SetTier(ctx context.Context, id, fromTierID, toTierID string) error {
	if f.failNext {
		f.failNext = false
		return errors.New("participants unavailable")
	}
	return f.ParticipantStore.SetTier(ctx, id, fromTierID, toTierID)
}

func TestEvaluate_HistoryFailureKeepsUpgradePending(t *testing.T) {
	ctx := context.Background()
	participants := memory.NewParticipantStore()
	require.NoError(t, participants.Insert(ctx, &domain.Participant{ID: "p1", JoinedAt: t0}))
	_, err := participants.AddCapital(ctx, "p1", decimal.NewFromInt(1000))
	require.NoError(t, err)

	history := &failingHistory{TierHistoryStore: memory.NewTierHistoryStore(), failNext: true}
	e := New(Options{Participants: participants, History: history, Catalog: catalog.Default()})

	_, err = e.Evaluate(ctx, "p1", t0)
	require.Error(t, err)
	p, _ := participants.GetByID(ctx, "p1")
	assert.Empty(t, p.CurrentTierID, "tier must not move without its history entry")

	res, err := e.Evaluate(ctx, "p1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Upgraded)
	assert.Equal(t, "silver", res.TierID)

	entries, err := history.GetByParticipant(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "silver", entries[0].TierID)
}

func TestEvaluate_SetTierFailureReusesRecordedEntry(t *testing.T) {
	ctx := context.Background()
	store := memory.NewParticipantStore()
	require.NoError(t, store.Insert(ctx, &domain.Participant{ID: "p1", JoinedAt: t0}))
	_, err := store.AddCapital(ctx, "p1", decimal.NewFromInt(5000))
	require.NoError(t, err)

	participants := &failingTiers{ParticipantStore: store, failNext: true}
	history := memory.NewTierHistoryStore()
	e := New(Options{Participants: participants, History: history, Catalog: catalog.Default()})

	_, err = e.Evaluate(ctx, "p1", t0)
	require.Error(t, err)

	res, err := e.Evaluate(ctx, "p1", t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, res.Upgraded)
	assert.Equal(t, "gold", res.TierID)
	require.NotNil(t, res.Entry)
	assert.Equal(t, t0, res.Entry.UpgradedAt, "the first recorded entry is kept")

	entries, _ := history.GetByParticipant(ctx, "p1")
	assert.Len(t, entries, 1)
	p, _ := store.GetByID(ctx, "p1")
	assert.Equal(t, "gold", p.CurrentTierID)
}

func TestUpgradeGap(t *testing.T) {
	ctx := context.Background()
	e, participants, _ := setup(t)
	_, _ = participants.AddCapital(ctx, "p1", decimal.NewFromInt(1200))

	gap, err := e.UpgradeGap(ctx, "p1", "gold")
	require.NoError(t, err)
	assert.True(t, gap.Equal(decimal.NewFromInt(3800)), gap.String())

	gap, err = e.UpgradeGap(ctx, "p1", "starter")
	require.NoError(t, err)
	assert.True(t, gap.IsZero())

	_, err = e.UpgradeGap(ctx, "p1", "diamond")
	assert.ErrorIs(t, err, catalog.ErrUnknownTier)

	_, err = e.UpgradeGap(ctx, "ghost", "gold")
	assert.ErrorIs(t, err, ErrParticipantNotFound)
}
