// Package commission fans an activated investment out into per-level
// commission rows along the investor's direct-referral chain.
//
// The chain walked is referrer ancestry, never matrix ancestry. Each row is
// gated by the compliance guard; a clamped row is recorded with status
// capped rather than failing the run.
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/compliance"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/idhash"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// Distribution errors
var (
	ErrDuplicateDistribution = errors.New("commissions already distributed for investment")
	ErrInvestmentNotActive   = errors.New("investment is not active")
	ErrInvestmentNotFound    = errors.New("investment not found")
	ErrParticipantNotFound   = errors.New("participant not found")
	ErrCommissionNotFound    = errors.New("commission not found")
	ErrAlreadyPaid           = errors.New("commission already paid")
	ErrReferralCycle         = errors.New("referral chain contains a cycle")
)

// Authorizer gates commission amounts against caps.
type Authorizer interface {
	Authorize(ctx context.Context, participantID string, proposed decimal.Decimal, at time.Time) (compliance.Authorization, error)
	Release(ctx context.Context, auth compliance.Authorization) error
}

// Engine distributes commissions.
type Engine struct {
	participants storage.ParticipantStore
	investments  storage.InvestmentStore
	commissions  storage.CommissionStore
	guard        Authorizer
	catalog      *catalog.Catalog
	logger       zerolog.Logger

	maxLevels             int
	scale                 int32
	requireActiveAncestor bool
	claimTimeout          time.Duration
	now                   func() time.Time
}

// DefaultClaimTimeout is how long a claimed but incomplete run blocks
// redelivery before another delivery may take it over.
const DefaultClaimTimeout = 5 * time.Minute

// Options for creating Engine.
type Options struct {
	Participants storage.ParticipantStore
	Investments  storage.InvestmentStore
	Commissions  storage.CommissionStore
	Guard        Authorizer
	Catalog      *catalog.Catalog
	Logger       *zerolog.Logger

	MaxLevels  int   // 0 uses domain.CommissionLevels
	MoneyScale int32 // 0 uses domain.DefaultMoneyScale

	// RequireActiveAncestor skips ancestors that hold no active investment
	// of their own. Their level is consumed, not shifted to the next ancestor.
	RequireActiveAncestor bool

	// ClaimTimeout is how old an incomplete claim must be before a later
	// delivery takes it over. 0 uses DefaultClaimTimeout.
	ClaimTimeout time.Duration
	Now          func() time.Time // nil uses time.Now
}

// New creates a commission engine.
func New(opts Options) *Engine {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	levels := opts.MaxLevels
	if levels <= 0 || levels > domain.CommissionLevels {
		levels = domain.CommissionLevels
	}
	scale := opts.MoneyScale
	if scale <= 0 {
		scale = domain.DefaultMoneyScale
	}
	claimTimeout := opts.ClaimTimeout
	if claimTimeout <= 0 {
		claimTimeout = DefaultClaimTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		participants:          opts.Participants,
		investments:           opts.Investments,
		commissions:           opts.Commissions,
		guard:                 opts.Guard,
		catalog:               opts.Catalog,
		logger:                logger.With().Str("component", "commission").Logger(),
		maxLevels:             levels,
		scale:                 scale,
		requireActiveAncestor: opts.RequireActiveAncestor,
		claimTimeout:          claimTimeout,
		now:                   now,
	}
}

// Distribute runs the fan-out for an active investment exactly once.
// A second call for the same investment returns ErrDuplicateDistribution,
// unless the first claim was abandoned longer than the claim timeout ago;
// the later call then takes the run over.
func (e *Engine) Distribute(ctx context.Context, investmentID string, at time.Time) ([]*domain.Commission, error) {
	start := time.Now()

	inv, err := e.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvestmentActive {
		return nil, ErrInvestmentNotActive
	}

	claimedAt := e.now()
	if err := e.commissions.ClaimRun(ctx, investmentID, claimedAt, claimedAt.Add(-e.claimTimeout)); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			observability.RecordCommissionRun("duplicate")
			return nil, ErrDuplicateDistribution
		}
		return nil, fmt.Errorf("claim run: %w", err)
	}

	var auths []compliance.Authorization
	rows, err := e.walk(ctx, inv, func(c *domain.Commission) error {
		auth, err := e.guard.Authorize(ctx, c.RecipientID, c.GrossAmount, at)
		if err != nil {
			return err
		}
		auths = append(auths, auth)

		c.CappedAmount = auth.Authorized
		c.Status = domain.CommissionPending
		if auth.WasCapped {
			c.Status = domain.CommissionCapped
		}
		c.CreatedAt = at
		return nil
	})
	if err == nil {
		err = e.commissions.CompleteRun(ctx, investmentID, rows)
	}
	if err != nil {
		e.rollback(ctx, investmentID, auths)
		observability.RecordCommissionRun("failed")
		return nil, fmt.Errorf("distribute %s: %w", investmentID, err)
	}

	for _, c := range rows {
		observability.RecordCommissionRow(string(c.Status), c.CappedAmount.InexactFloat64(), c.WasCapped())
	}
	observability.RecordCommissionRun("completed")
	observability.RecordLatency("commission_distribute", time.Since(start).Seconds())
	e.logger.Info().
		Str("investment_id", investmentID).
		Str("participant_id", inv.ParticipantID).
		Str("amount", inv.Amount.String()).
		Int("rows", len(rows)).
		Msg("commissions distributed")

	return rows, nil
}

// Preview re-derives the rows for an investment without reserving cap
// headroom or persisting anything. Amounts are gross.
func (e *Engine) Preview(ctx context.Context, investmentID string) ([]*domain.Commission, error) {
	inv, err := e.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	return e.walk(ctx, inv, func(c *domain.Commission) error {
		c.CappedAmount = c.GrossAmount
		c.Status = domain.CommissionPending
		return nil
	})
}

// Existing returns the rows recorded by a completed run.
func (e *Engine) Existing(ctx context.Context, investmentID string) ([]*domain.Commission, error) {
	return e.commissions.GetBySourceInvestment(ctx, investmentID)
}

// ListByRecipient returns every row paid or payable to a participant.
func (e *Engine) ListByRecipient(ctx context.Context, participantID string) ([]*domain.Commission, error) {
	return e.commissions.GetByRecipient(ctx, participantID)
}

// MarkPaid records that the external payout process settled a row.
func (e *Engine) MarkPaid(ctx context.Context, commissionID string) error {
	err := e.commissions.MarkPaid(ctx, commissionID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrCommissionNotFound
	case errors.Is(err, storage.ErrConflict):
		return ErrAlreadyPaid
	case err != nil:
		return fmt.Errorf("mark paid: %w", err)
	}
	e.logger.Info().Str("commission_id", commissionID).Msg("commission paid")
	return nil
}

// walk builds one row per ancestor level and hands each to gate.
func (e *Engine) walk(ctx context.Context, inv *domain.Investment, gate func(*domain.Commission) error) ([]*domain.Commission, error) {
	tier, err := e.catalog.ByID(inv.TierIDAtTime)
	if err != nil {
		return nil, err
	}

	investor, err := e.loadParticipant(ctx, inv.ParticipantID)
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{investor.ID: true}
	rows := make([]*domain.Commission, 0, e.maxLevels)
	ancestorID := investor.ReferrerID

	for level := 1; ancestorID != "" && level <= e.maxLevels; level++ {
		if seen[ancestorID] {
			return nil, fmt.Errorf("%w at %s", ErrReferralCycle, ancestorID)
		}
		seen[ancestorID] = true

		ancestor, err := e.loadParticipant(ctx, ancestorID)
		if err != nil {
			return nil, err
		}
		ancestorID = ancestor.ReferrerID

		if e.requireActiveAncestor {
			active, err := e.hasActiveInvestment(ctx, ancestor.ID)
			if err != nil {
				return nil, err
			}
			if !active {
				e.logger.Debug().
					Str("participant_id", ancestor.ID).
					Int("level", level).
					Msg("ancestor has no active investment, skipped")
				continue
			}
		}

		rate, err := tier.LevelRates.Rate(level)
		if err != nil {
			return nil, err
		}

		c := &domain.Commission{
			ID:                  idhash.ComputeCommissionID(inv.ID, level),
			RecipientID:         ancestor.ID,
			SourceInvestmentID:  inv.ID,
			SourceParticipantID: inv.ParticipantID,
			Level:               level,
			RateApplied:         rate,
			GrossAmount:         domain.Percent(inv.Amount, rate, e.scale),
		}
		if err := gate(c); err != nil {
			return rows, err
		}
		rows = append(rows, c)
	}

	return rows, nil
}

func (e *Engine) rollback(ctx context.Context, investmentID string, auths []compliance.Authorization) {
	for _, auth := range auths {
		if err := e.guard.Release(ctx, auth); err != nil {
			e.logger.Error().Err(err).Str("investment_id", investmentID).Msg("cap release failed")
		}
	}
	if err := e.commissions.ReleaseRun(ctx, investmentID); err != nil {
		e.logger.Error().Err(err).Str("investment_id", investmentID).Msg("run release failed")
	}
}

func (e *Engine) hasActiveInvestment(ctx context.Context, participantID string) (bool, error) {
	invs, err := e.investments.GetByParticipant(ctx, participantID)
	if err != nil {
		return false, fmt.Errorf("load investments of %s: %w", participantID, err)
	}
	for _, inv := range invs {
		if inv.Status == domain.InvestmentActive {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) loadInvestment(ctx context.Context, id string) (*domain.Investment, error) {
	inv, err := e.investments.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvestmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load investment: %w", err)
	}
	return inv, nil
}

func (e *Engine) loadParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	p, err := e.participants.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load participant %s: %w", id, err)
	}
	return p, nil
}
