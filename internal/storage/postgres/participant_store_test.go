package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

func TestParticipantStore(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewParticipantStore(pool)
	history := NewTierHistoryStore(pool)
	ctx := context.Background()

	seedParticipant(t, store, "root", "")
	seedParticipant(t, store, "a", "root")
	seedParticipant(t, store, "b", "root")

	t.Run("get by id and code", func(t *testing.T) {
		p, err := store.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "root", p.ReferrerID)
		assert.Empty(t, p.CurrentTierID)
		assert.True(t, p.CumulativeCapital.IsZero())

		byCode, err := store.GetByReferralCode(ctx, "code-a")
		require.NoError(t, err)
		assert.Equal(t, "a", byCode.ID)

		_, err = store.GetByID(ctx, "missing")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("duplicates and unknown referrer", func(t *testing.T) {
		err := store.Insert(ctx, &domain.Participant{ID: "a", ReferralCode: "other", JoinedAt: testTime})
		assert.ErrorIs(t, err, storage.ErrDuplicateKey)

		err = store.Insert(ctx, &domain.Participant{ID: "c", ReferrerID: "ghost", ReferralCode: "code-c", JoinedAt: testTime})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("referrals", func(t *testing.T) {
		refs, err := store.GetByReferrer(ctx, "root")
		require.NoError(t, err)
		require.Len(t, refs, 2)
		assert.Equal(t, "a", refs[0].ID)
		assert.Equal(t, "b", refs[1].ID)
	})

	t.Run("capital and tier", func(t *testing.T) {
		p, err := store.AddCapital(ctx, "a", dec("1000.50"))
		require.NoError(t, err)
		assert.True(t, p.CumulativeCapital.Equal(dec("1000.50")))

		require.NoError(t, store.SetTier(ctx, "a", "", "silver"))
		assert.ErrorIs(t, store.SetTier(ctx, "a", "", "gold"), storage.ErrConflict)
		assert.ErrorIs(t, store.SetTier(ctx, "missing", "", "gold"), storage.ErrNotFound)

		p, err = store.GetByID(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "silver", p.CurrentTierID)
	})

	t.Run("capital once per investment", func(t *testing.T) {
		investments := NewInvestmentStore(pool)
		seedInvestment(t, investments, "inv-b", "b", "5000", domain.InvestmentActive)

		p, applied, err := store.ApplyCapital(ctx, "b", "inv-b", dec("5000"))
		require.NoError(t, err)
		assert.True(t, applied)
		assert.True(t, p.CumulativeCapital.Equal(dec("5000")))

		p, applied, err = store.ApplyCapital(ctx, "b", "inv-b", dec("5000"))
		require.NoError(t, err)
		assert.False(t, applied)
		assert.True(t, p.CumulativeCapital.Equal(dec("5000")))

		_, _, err = store.ApplyCapital(ctx, "b", "inv-missing", dec("1"))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("tier history", func(t *testing.T) {
		entry := &domain.TierHistoryEntry{ParticipantID: "a", TierID: "silver", UpgradedAt: testTime, CapitalAtUpgrade: dec("1000.50")}
		require.NoError(t, history.Append(ctx, entry))
		assert.ErrorIs(t, history.Append(ctx, entry), storage.ErrDuplicateKey)

		entries, err := history.GetByParticipant(ctx, "a")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Empty(t, entries[0].FromTierID)
		assert.True(t, entries[0].CapitalAtUpgrade.Equal(dec("1000.5")))
	})
}
