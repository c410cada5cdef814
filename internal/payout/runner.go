// Package payout credits periodic tier profit onto active investments.
// Scheduling is the caller's concern; a run consumes one PayoutRun event.
package payout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/idhash"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// Run errors
var (
	ErrInvalidRun = errors.New("payout run needs a run id and a period end after its start")
)

// DefaultWorkers is the fan-out used when none is configured.
const DefaultWorkers = 4

// Result summarizes a run.
type Result struct {
	RunID   string
	Created []*domain.ProfitPayout // ordered by investment id
	Skipped int                    // already credited by an earlier attempt, or zero amount
}

// Runner executes payout runs.
type Runner struct {
	investments storage.InvestmentStore
	payouts     storage.ProfitPayoutStore
	catalog     *catalog.Catalog
	workers     int
	scale       int32
	logger      zerolog.Logger
}

// Options for creating Runner.
type Options struct {
	Investments storage.InvestmentStore
	Payouts     storage.ProfitPayoutStore
	Catalog     *catalog.Catalog
	Workers     int
	MoneyScale  int32
	Logger      *zerolog.Logger
}

// NewRunner creates a payout runner.
func NewRunner(opts Options) *Runner {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	scale := opts.MoneyScale
	if scale <= 0 {
		scale = domain.DefaultMoneyScale
	}
	return &Runner{
		investments: opts.Investments,
		payouts:     opts.Payouts,
		catalog:     opts.Catalog,
		workers:     workers,
		scale:       scale,
		logger:      logger.With().Str("component", "payout").Logger(),
	}
}

// Run credits outstanding principal x tier profit rate to every investment
// active and dated before the period end. Re-running the same RunID credits
// nothing twice.
func (r *Runner) Run(ctx context.Context, run domain.PayoutRun, at time.Time) (*Result, error) {
	if run.RunID == "" || !run.PeriodEnd.After(run.PeriodStart) {
		return nil, ErrInvalidRun
	}
	start := time.Now()

	invs, err := r.investments.GetActiveBefore(ctx, run.PeriodEnd)
	if err != nil {
		return nil, fmt.Errorf("load active investments: %w", err)
	}

	result := &Result{RunID: run.RunID}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, inv := range invs {
		inv := inv
		g.Go(func() error {
			p, err := r.credit(gctx, run, inv, at)
			if err != nil {
				return fmt.Errorf("investment %s: %w", inv.ID, err)
			}

			mu.Lock()
			defer mu.Unlock()
			if p == nil {
				result.Skipped++
			} else {
				result.Created = append(result.Created, p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordPayoutRun("failed", len(result.Created))
		return nil, fmt.Errorf("payout run %s: %w", run.RunID, err)
	}

	sort.Slice(result.Created, func(i, j int) bool {
		return result.Created[i].InvestmentID < result.Created[j].InvestmentID
	})

	observability.RecordPayoutRun("completed", len(result.Created))
	observability.RecordLatency("payout_run", time.Since(start).Seconds())
	r.logger.Info().
		Str("run_id", run.RunID).
		Int("investments", len(invs)).
		Int("created", len(result.Created)).
		Int("skipped", result.Skipped).
		Msg("payout run completed")
	return result, nil
}

// credit returns nil when nothing was credited. The payout row and the
// accrual are both keyed by the payout id; a row left without its accrual
// by an earlier attempt is accrued now and counts as created.
func (r *Runner) credit(ctx context.Context, run domain.PayoutRun, inv *domain.Investment, at time.Time) (*domain.ProfitPayout, error) {
	tier, err := r.catalog.ByID(inv.TierIDAtTime)
	if err != nil {
		return nil, err
	}

	principal := inv.OutstandingPrincipal()
	amount := domain.Percent(principal, tier.ProfitRate, r.scale)
	if !amount.IsPositive() {
		return nil, nil
	}

	p := &domain.ProfitPayout{
		ID:           idhash.ComputePayoutID(run.RunID, inv.ID),
		RunID:        run.RunID,
		InvestmentID: inv.ID,
		TierID:       tier.ID,
		Principal:    principal,
		Rate:         tier.ProfitRate,
		Amount:       amount,
		CreatedAt:    at,
	}
	if err := r.payouts.Insert(ctx, p); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("insert payout: %w", err)
		}
		if p, err = r.storedPayout(ctx, p.ID, inv.ID); err != nil {
			return nil, err
		}
	}

	applied, err := r.investments.AddAccruedProfit(ctx, inv.ID, p.ID, p.Amount)
	if err != nil {
		return nil, fmt.Errorf("accrue profit: %w", err)
	}
	if !applied {
		return nil, nil
	}
	return p, nil
}

// storedPayout loads the row an earlier attempt inserted, so a late accrual
// uses the amount that was recorded rather than a recomputed one.
func (r *Runner) storedPayout(ctx context.Context, id, investmentID string) (*domain.ProfitPayout, error) {
	rows, err := r.payouts.GetByInvestment(ctx, investmentID)
	if err != nil {
		return nil, fmt.Errorf("load payout: %w", err)
	}
	for _, p := range rows {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, fmt.Errorf("load payout %s: %w", id, storage.ErrNotFound)
}
