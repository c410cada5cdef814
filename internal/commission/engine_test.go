package commission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/compliance"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage/memory"
)

var t0 = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	participants *memory.ParticipantStore
	investments  *memory.InvestmentStore
	commissions  *memory.CommissionStore
	ledger       *memory.CapLedger
}

func newFixture() *fixture {
	return &fixture{
		participants: memory.NewParticipantStore(),
		investments:  memory.NewInvestmentStore(),
		commissions:  memory.NewCommissionStore(),
		ledger:       memory.NewCapLedger(),
	}
}

func (f *fixture) engine(t *testing.T, limits compliance.Limits, requireActive bool) *Engine {
	t.Helper()
	guard, err := compliance.New(compliance.Options{Ledger: f.ledger, Limits: limits})
	require.NoError(t, err)
	return f.engineWith(guard, requireActive)
}

func (f *fixture) engineWith(guard Authorizer, requireActive bool) *Engine {
	return New(Options{
		Participants:          f.participants,
		Investments:           f.investments,
		Commissions:           f.commissions,
		Guard:                 guard,
		Catalog:               catalog.Default(),
		RequireActiveAncestor: requireActive,
	})
}

// chain inserts ids where each one is referred by the previous one.
func (f *fixture) chain(t *testing.T, ids ...string) {
	t.Helper()
	for i, id := range ids {
		p := &domain.Participant{ID: id, JoinedAt: t0}
		if i > 0 {
			p.ReferrerID = ids[i-1]
		}
		require.NoError(t, f.participants.Insert(context.Background(), p))
	}
}

func (f *fixture) invest(t *testing.T, id, participantID string, amount int64, status domain.InvestmentStatus) {
	t.Helper()
	require.NoError(t, f.investments.Insert(context.Background(), &domain.Investment{
		ID:             id,
		ParticipantID:  participantID,
		TierIDAtTime:   "silver",
		Amount:         decimal.NewFromInt(amount),
		Status:         status,
		InvestmentDate: t0,
		LockInEndDate:  domain.LockInEnd(t0, domain.DefaultLockInMonths),
	}))
}

func amounts(rows []*domain.Commission) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = fmt.Sprintf("%s:L%d:%s", r.RecipientID, r.Level, r.CappedAmount.StringFixed(2))
	}
	return out
}

func TestDistribute_ShortChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C", "D")
	f.invest(t, "inv1", "D", 1000, domain.InvestmentActive)

	rows, err := f.engine(t, compliance.Limits{}, false).Distribute(ctx, "inv1", t0)
	require.NoError(t, err)

	assert.Equal(t, []string{"C:L1:150.00", "B:L2:100.00", "A:L3:80.00"}, amounts(rows))
	for _, r := range rows {
		assert.Equal(t, domain.CommissionPending, r.Status)
		assert.Equal(t, "D", r.SourceParticipantID)
		assert.Equal(t, t0, r.CreatedAt)
	}

	stored, err := f.commissions.GetBySourceInvestment(ctx, "inv1")
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestDistribute_StopsAtSevenLevels(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "p0", "p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8", "p9")
	f.invest(t, "inv1", "p9", 10000, domain.InvestmentActive)

	rows, err := f.engine(t, compliance.Limits{}, false).Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	require.Len(t, rows, 7)

	want := []int64{1500, 1000, 800, 600, 400, 300, 200}
	for i, r := range rows {
		assert.Equal(t, i+1, r.Level)
		assert.Equal(t, fmt.Sprintf("p%d", 8-i), r.RecipientID)
		assert.True(t, r.GrossAmount.Equal(decimal.NewFromInt(want[i])), "level %d: %s", r.Level, r.GrossAmount)
	}
}

func TestDistribute_NoReferrerProducesNoRows(t *testing.T) {
	f := newFixture()
	f.chain(t, "solo")
	f.invest(t, "inv1", "solo", 500, domain.InvestmentActive)

	rows, err := f.engine(t, compliance.Limits{}, false).Distribute(context.Background(), "inv1", t0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDistribute_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B")
	f.invest(t, "inv1", "B", 1000, domain.InvestmentActive)
	e := f.engine(t, compliance.Limits{}, false)

	_, err := e.Distribute(ctx, "inv1", t0)
	require.NoError(t, err)

	_, err = e.Distribute(ctx, "inv1", t0.Add(time.Minute))
	assert.ErrorIs(t, err, ErrDuplicateDistribution)

	existing, err := e.Existing(ctx, "inv1")
	require.NoError(t, err)
	assert.Len(t, existing, 1)
}

func TestDistribute_ConcurrentRedeliveryPaysOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C")
	f.invest(t, "inv1", "C", 1000, domain.InvestmentActive)
	e := f.engine(t, compliance.Limits{ParticipantLifetime: decimal.NewFromInt(100000)}, false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Distribute(ctx, "inv1", t0)
			if err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, ErrDuplicateDistribution)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	used, err := f.ledger.Used(ctx, compliance.ParticipantLifetimeKey("B"))
	require.NoError(t, err)
	assert.True(t, used.Equal(decimal.NewFromInt(150)), used.String())
}

func TestDistribute_NotActive(t *testing.T) {
	f := newFixture()
	f.chain(t, "A", "B")
	f.invest(t, "inv1", "B", 1000, domain.InvestmentPending)

	_, err := f.engine(t, compliance.Limits{}, false).Distribute(context.Background(), "inv1", t0)
	assert.ErrorIs(t, err, ErrInvestmentNotActive)

	_, err = f.engine(t, compliance.Limits{}, false).Distribute(context.Background(), "missing", t0)
	assert.ErrorIs(t, err, ErrInvestmentNotFound)
}

func TestDistribute_CappedRowsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C")
	f.invest(t, "inv1", "C", 1000, domain.InvestmentActive)
	f.invest(t, "inv2", "C", 1000, domain.InvestmentActive)
	f.invest(t, "inv3", "C", 1000, domain.InvestmentActive)
	e := f.engine(t, compliance.Limits{ParticipantMonthly: decimal.NewFromInt(200)}, false)

	rows, err := e.Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B:L1:150.00", "A:L2:100.00"}, amounts(rows))

	rows, err = e.Distribute(ctx, "inv2", t0)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, domain.CommissionCapped, rows[0].Status)
	assert.True(t, rows[0].CappedAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, rows[0].GrossAmount.Equal(decimal.NewFromInt(150)))

	assert.Equal(t, domain.CommissionPending, rows[1].Status, "A reaches its cap exactly")
	assert.True(t, rows[1].CappedAmount.Equal(decimal.NewFromInt(100)))

	rows, err = e.Distribute(ctx, "inv3", t0)
	require.NoError(t, err)
	require.Len(t, rows, 2, "capped rows are still recorded")
	for _, r := range rows {
		assert.Equal(t, domain.CommissionCapped, r.Status)
		assert.True(t, r.CappedAmount.IsZero())
	}
}

func TestDistribute_RequireActiveAncestor(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C")
	f.invest(t, "invA", "A", 1000, domain.InvestmentActive)
	f.invest(t, "inv1", "C", 1000, domain.InvestmentActive)

	rows, err := f.engine(t, compliance.Limits{}, true).Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"A:L2:100.00"}, amounts(rows), "B has no active investment; A keeps level 2")
}

type failingGuard struct {
	inner    *compliance.Guard
	failOn   int
	calls    int
	released int
}

func (g *failingGuard) Authorize(ctx context.Context, id string, proposed decimal.Decimal, at time.Time) (compliance.Authorization, error) {
	g.calls++
	if g.calls == g.failOn {
		return compliance.Authorization{}, errors.New("ledger unavailable")
	}
	return g.inner.Authorize(ctx, id, proposed, at)
}

func (g *failingGuard) Release(ctx context.Context, auth compliance.Authorization) error {
	g.released++
	return g.inner.Release(ctx, auth)
}

func TestDistribute_FailureReleasesClaimAndCaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C")
	f.invest(t, "inv1", "C", 1000, domain.InvestmentActive)

	inner, err := compliance.New(compliance.Options{Ledger: f.ledger, Limits: compliance.Limits{ParticipantLifetime: decimal.NewFromInt(1000)}})
	require.NoError(t, err)
	guard := &failingGuard{inner: inner, failOn: 2}

	_, err = f.engineWith(guard, false).Distribute(ctx, "inv1", t0)
	require.Error(t, err)
	assert.Equal(t, 1, guard.released)

	used, _ := f.ledger.Used(ctx, compliance.ParticipantLifetimeKey("B"))
	assert.True(t, used.IsZero(), "B's reservation refunded")

	rows, err := f.engineWith(inner, false).Distribute(ctx, "inv1", t0)
	require.NoError(t, err, "claim was released so the run can be retried")
	assert.Len(t, rows, 2)
}

func TestDistribute_TakesOverAbandonedClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B")
	f.invest(t, "inv1", "B", 1000, domain.InvestmentActive)

	guard, err := compliance.New(compliance.Options{Ledger: f.ledger})
	require.NoError(t, err)
	now := t0
	e := New(Options{
		Participants: f.participants,
		Investments:  f.investments,
		Commissions:  f.commissions,
		Guard:        guard,
		Catalog:      catalog.Default(),
		ClaimTimeout: 5 * time.Minute,
		Now:          func() time.Time { return now },
	})

	// A claimer that dies before CompleteRun or ReleaseRun.
	require.NoError(t, f.commissions.ClaimRun(ctx, "inv1", t0, time.Time{}))

	now = t0.Add(time.Minute)
	_, err = e.Distribute(ctx, "inv1", t0)
	assert.ErrorIs(t, err, ErrDuplicateDistribution, "a fresh claim still blocks redelivery")

	now = t0.Add(10 * time.Minute)
	rows, err := e.Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	run, err := f.commissions.GetRun(ctx, "inv1")
	require.NoError(t, err)
	assert.True(t, run.Completed)

	now = t0.Add(time.Hour)
	_, err = e.Distribute(ctx, "inv1", t0)
	assert.ErrorIs(t, err, ErrDuplicateDistribution, "a completed run is never taken over")
}

func TestPreview_DeterministicAndSideEffectFree(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B", "C", "D")
	f.invest(t, "inv1", "D", 1234, domain.InvestmentActive)
	e := f.engine(t, compliance.Limits{ParticipantMonthly: decimal.NewFromInt(10)}, false)

	first, err := e.Preview(ctx, "inv1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.Preview(ctx, "inv1")
		require.NoError(t, err)
		assert.Equal(t, amounts(first), amounts(again))
	}
	assert.Equal(t, []string{"C:L1:185.10", "B:L2:123.40", "A:L3:98.72"}, amounts(first))

	_, err = f.commissions.GetRun(ctx, "inv1")
	assert.Error(t, err, "preview never claims the run")
	used, _ := f.ledger.Used(ctx, compliance.ParticipantMonthKey("C", "2026-10"))
	assert.True(t, used.IsZero())

	rows, err := e.Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	for i := range rows {
		assert.Equal(t, first[i].ID, rows[i].ID)
		assert.True(t, first[i].GrossAmount.Equal(rows[i].GrossAmount))
	}
}

func TestMarkPaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.chain(t, "A", "B")
	f.invest(t, "inv1", "B", 1000, domain.InvestmentActive)
	e := f.engine(t, compliance.Limits{}, false)

	rows, err := e.Distribute(ctx, "inv1", t0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, e.MarkPaid(ctx, rows[0].ID))
	assert.ErrorIs(t, e.MarkPaid(ctx, rows[0].ID), ErrAlreadyPaid)
	assert.ErrorIs(t, e.MarkPaid(ctx, "nope"), ErrCommissionNotFound)

	list, err := e.ListByRecipient(ctx, "A")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.CommissionPaid, list[0].Status)
}
