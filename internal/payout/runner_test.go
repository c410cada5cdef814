package payout

import (
	"context"
	"errors"
	"fmt"
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

var (
	jan = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	feb = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
)

func seed(t *testing.T, store *memory.InvestmentStore, id, tier string, amount int64, status domain.InvestmentStatus, date time.Time) {
	t.Helper()
	require.NoError(t, store.Insert(context.Background(), &domain.Investment{
		ID:             id,
		ParticipantID:  "p-" + id,
		TierIDAtTime:   tier,
		Amount:         decimal.NewFromInt(amount),
		Status:         status,
		InvestmentDate: date,
		LockInEndDate:  domain.LockInEnd(date, domain.DefaultLockInMonths),
	}))
}

func TestRun_CreditsActiveInvestments(t *testing.T) {
	ctx := context.Background()
	investments := memory.NewInvestmentStore()
	payouts := memory.NewProfitPayoutStore()

	seed(t, investments, "a", "silver", 1000, domain.InvestmentActive, jan)
	seed(t, investments, "b", "gold", 5000, domain.InvestmentActive, jan.AddDate(0, 0, 10))
	seed(t, investments, "c", "silver", 1000, domain.InvestmentPending, jan)
	seed(t, investments, "d", "silver", 1000, domain.InvestmentActive, feb)

	r := NewRunner(Options{Investments: investments, Payouts: payouts, Catalog: catalog.Default(), Workers: 2})
	run := domain.PayoutRun{RunID: "2026-01", PeriodStart: jan, PeriodEnd: feb}

	res, err := r.Run(ctx, run, feb)
	require.NoError(t, err)
	require.Len(t, res.Created, 2)
	assert.Equal(t, "a", res.Created[0].InvestmentID)
	assert.True(t, res.Created[0].Amount.Equal(decimal.NewFromInt(20)), res.Created[0].Amount.String())
	assert.Equal(t, "b", res.Created[1].InvestmentID)
	assert.True(t, res.Created[1].Amount.Equal(decimal.NewFromInt(125)), res.Created[1].Amount.String())

	inv, _ := investments.GetByID(ctx, "b")
	assert.True(t, inv.AccruedProfit.Equal(decimal.NewFromInt(125)))
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	investments := memory.NewInvestmentStore()
	payouts := memory.NewProfitPayoutStore()
	for i := 0; i < 25; i++ {
		seed(t, investments, fmt.Sprintf("i%02d", i), "starter", 100, domain.InvestmentActive, jan)
	}

	r := NewRunner(Options{Investments: investments, Payouts: payouts, Catalog: catalog.Default()})
	run := domain.PayoutRun{RunID: "2026-01", PeriodStart: jan, PeriodEnd: feb}

	first, err := r.Run(ctx, run, feb)
	require.NoError(t, err)
	assert.Len(t, first.Created, 25)

	second, err := r.Run(ctx, run, feb)
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Equal(t, 25, second.Skipped)

	inv, _ := investments.GetByID(ctx, "i00")
	assert.True(t, inv.AccruedProfit.Equal(decimal.RequireFromString("1.5")), inv.AccruedProfit.String())

	stored, err := payouts.GetByRun(ctx, "2026-01")
	require.NoError(t, err)
	assert.Len(t, stored, 25)
}

func TestRun_UsesOutstandingPrincipal(t *testing.T) {
	ctx := context.Background()
	investments := memory.NewInvestmentStore()
	seed(t, investments, "a", "silver", 1000, domain.InvestmentActive, jan)
	_, err := investments.RecordWithdrawal(ctx, "a", "w1", decimal.NewFromInt(400), decimal.Zero)
	require.NoError(t, err)

	r := NewRunner(Options{Investments: investments, Payouts: memory.NewProfitPayoutStore(), Catalog: catalog.Default()})
	res, err := r.Run(ctx, domain.PayoutRun{RunID: "r1", PeriodStart: jan, PeriodEnd: feb}, feb)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.True(t, res.Created[0].Amount.Equal(decimal.NewFromInt(12)))
}

// failingAccrual fails the next AddAccruedProfit call once.
type failingAccrual struct {
	storage.InvestmentStore
	failNext bool
}

func (f *failingAccrual) AddAccruedProfit(ctx context.Context, id, payoutID string, amount decimal.Decimal) (bool, error) {
	if f.failNext {
		f.failNext = false
		return false, errors.New("statement timeout")
	}
	return f.InvestmentStore.AddAccruedProfit(ctx, id, payoutID, amount)
}

func TestRun_RetryAccruesAfterAccrualFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInvestmentStore()
	seed(t, store, "a", "silver", 1000, domain.InvestmentActive, jan)
	investments := &failingAccrual{InvestmentStore: store, failNext: true}
	payouts := memory.NewProfitPayoutStore()

	r := NewRunner(Options{Investments: investments, Payouts: payouts, Catalog: catalog.Default()})
	run := domain.PayoutRun{RunID: "2026-01", PeriodStart: jan, PeriodEnd: feb}

	_, err := r.Run(ctx, run, feb)
	require.Error(t, err)

	res, err := r.Run(ctx, run, feb)
	require.NoError(t, err)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 0, res.Skipped)

	again, err := r.Run(ctx, run, feb)
	require.NoError(t, err)
	assert.Empty(t, again.Created)
	assert.Equal(t, 1, again.Skipped)

	stored, err := payouts.GetByRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	inv, _ := store.GetByID(ctx, "a")
	assert.True(t, inv.AccruedProfit.Equal(decimal.NewFromInt(20)), inv.AccruedProfit.String())
}

func TestRun_InvalidEvent(t *testing.T) {
	r := NewRunner(Options{Investments: memory.NewInvestmentStore(), Payouts: memory.NewProfitPayoutStore(), Catalog: catalog.Default()})

	_, err := r.Run(context.Background(), domain.PayoutRun{PeriodStart: jan, PeriodEnd: feb}, feb)
	assert.ErrorIs(t, err, ErrInvalidRun)

	_, err = r.Run(context.Background(), domain.PayoutRun{RunID: "x", PeriodStart: feb, PeriodEnd: jan}, feb)
	assert.ErrorIs(t, err, ErrInvalidRun)
}
