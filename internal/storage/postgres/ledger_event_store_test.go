package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

func TestLedgerEventStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewLedgerEventStore(pool)
	ctx := context.Background()

	event := func(id string, at time.Time, amount string) *domain.LedgerEvent {
		return &domain.LedgerEvent{
			EventID:       id,
			Type:          domain.EventCommission,
			ParticipantID: "alice",
			InvestmentID:  "inv-1",
			ReferenceID:   "c-" + id,
			Amount:        dec(amount),
			Status:        "pending",
			OccurredAt:    at,
		}
	}

	require.NoError(t, store.InsertBulk(ctx, []*domain.LedgerEvent{
		event("e1", testTime, "150"),
		event("e2", testTime.Add(time.Hour), "100"),
		event("e3", testTime.AddDate(0, 1, 0), "50"),
	}))

	// The duplicate in the batch rolls back e4 too.
	err := store.InsertBulk(ctx, []*domain.LedgerEvent{event("e4", testTime, "1"), event("e1", testTime, "1")})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	events, err := store.GetByParticipant(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "e1", events[0].EventID)

	total, err := store.CommissionTotal(ctx, "alice", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, total.Equal(dec("250")), "got %s", total)

	none, err := store.CommissionTotal(ctx, "bob", testTime, testTime.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, none.IsZero())
}

func TestProfitPayoutStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	participants := NewParticipantStore(pool)
	investments := NewInvestmentStore(pool)
	store := NewProfitPayoutStore(pool)
	ctx := context.Background()

	seedParticipant(t, participants, "alice", "")
	seedInvestment(t, investments, "inv-1", "alice", "1000", domain.InvestmentActive)

	p := &domain.ProfitPayout{
		ID:           "p-1",
		RunID:        "2026-01",
		InvestmentID: "inv-1",
		TierID:       "silver",
		Principal:    dec("1000"),
		Rate:         dec("2"),
		Amount:       dec("20"),
		CreatedAt:    testTime,
	}
	require.NoError(t, store.Insert(ctx, p))

	again := *p
	again.ID = "p-2"
	assert.ErrorIs(t, store.Insert(ctx, &again), storage.ErrDuplicateKey, "one payout per run and investment")

	byRun, err := store.GetByRun(ctx, "2026-01")
	require.NoError(t, err)
	require.Len(t, byRun, 1)
	assert.True(t, byRun[0].Amount.Equal(dec("20")))

	byInv, err := store.GetByInvestment(ctx, "inv-1")
	require.NoError(t, err)
	assert.Len(t, byInv, 1)
}
