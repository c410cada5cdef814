// Package tier evaluates participants' capital tiers. Tiers only ever go up.
package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// ErrParticipantNotFound is returned when the participant does not exist.
var ErrParticipantNotFound = errors.New("participant not found")

const maxUpgradeAttempts = 5

// Result describes the outcome of an evaluation.
type Result struct {
	Upgraded   bool
	FromTierID string
	TierID     string // current tier after evaluation
	Entry      *domain.TierHistoryEntry
}

// Engine evaluates and records tier upgrades.
type Engine struct {
	participants storage.ParticipantStore
	history      storage.TierHistoryStore
	catalog      *catalog.Catalog
	logger       zerolog.Logger
}

// Options for creating Engine.
type Options struct {
	Participants storage.ParticipantStore
	History      storage.TierHistoryStore
	Catalog      *catalog.Catalog
	Logger       *zerolog.Logger
}

// New creates a tier engine.
func New(opts Options) *Engine {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Engine{
		participants: opts.Participants,
		history:      opts.History,
		catalog:      opts.Catalog,
		logger:       logger.With().Str("component", "tier").Logger(),
	}
}

// Evaluate moves the participant to the highest tier its cumulative capital
// qualifies for, if that tier outranks the current one. Re-evaluating with
// unchanged capital is a no-op.
func (e *Engine) Evaluate(ctx context.Context, participantID string, at time.Time) (*Result, error) {
	for attempt := 0; attempt < maxUpgradeAttempts; attempt++ {
		p, err := e.participants.GetByID(ctx, participantID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrParticipantNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("load participant: %w", err)
		}

		result := &Result{FromTierID: p.CurrentTierID, TierID: p.CurrentTierID}

		eligible, ok := e.catalog.EligibleFor(p.CumulativeCapital)
		if !ok {
			return result, nil
		}
		current, err := e.catalog.Ordering(p.CurrentTierID)
		if err != nil {
			return nil, fmt.Errorf("current tier: %w", err)
		}
		if eligible.Ordering <= current {
			return result, nil
		}

		// History goes first so a failed write leaves the tier unchanged and
		// the next evaluation retries the whole upgrade.
		entry, err := e.recordUpgrade(ctx, &domain.TierHistoryEntry{
			ParticipantID:    participantID,
			FromTierID:       p.CurrentTierID,
			TierID:           eligible.ID,
			UpgradedAt:       at,
			CapitalAtUpgrade: p.CumulativeCapital,
		})
		if err != nil {
			return nil, err
		}

		err = e.participants.SetTier(ctx, participantID, p.CurrentTierID, eligible.ID)
		if errors.Is(err, storage.ErrConflict) {
			// Another evaluation moved the tier; re-read and decide again.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("set tier: %w", err)
		}

		observability.RecordTierUpgrade(eligible.ID)
		e.logger.Info().
			Str("participant_id", participantID).
			Str("from_tier", p.CurrentTierID).
			Str("to_tier", eligible.ID).
			Str("capital", p.CumulativeCapital.String()).
			Msg("tier upgraded")

		result.Upgraded = true
		result.TierID = eligible.ID
		result.Entry = entry
		return result, nil
	}

	return nil, fmt.Errorf("evaluate tier %s: %w", participantID, storage.ErrConflict)
}

// recordUpgrade appends entry, or returns the stored entry when an earlier
// attempt recorded the same upgrade but failed before moving the tier.
func (e *Engine) recordUpgrade(ctx context.Context, entry *domain.TierHistoryEntry) (*domain.TierHistoryEntry, error) {
	err := e.history.Append(ctx, entry)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, storage.ErrDuplicateKey) {
		return nil, fmt.Errorf("append tier history: %w", err)
	}

	entries, err := e.history.GetByParticipant(ctx, entry.ParticipantID)
	if err != nil {
		return nil, fmt.Errorf("load tier history: %w", err)
	}
	for _, existing := range entries {
		if existing.TierID == entry.TierID {
			return existing, nil
		}
	}
	return entry, nil
}

// UpgradeGap returns how much more capital the participant needs to reach
// the target tier, never negative.
func (e *Engine) UpgradeGap(ctx context.Context, participantID, targetTierID string) (decimal.Decimal, error) {
	target, err := e.catalog.ByID(targetTierID)
	if err != nil {
		return decimal.Zero, err
	}

	p, err := e.participants.GetByID(ctx, participantID)
	if errors.Is(err, storage.ErrNotFound) {
		return decimal.Zero, ErrParticipantNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("load participant: %w", err)
	}

	return Gap(target, p.CumulativeCapital), nil
}

// Gap is max(0, target minimum - capital).
func Gap(target domain.Tier, capital decimal.Decimal) decimal.Decimal {
	gap := target.MinimumContribution.Sub(capital)
	if gap.IsNegative() {
		return decimal.Zero
	}
	return gap
}

// History returns the participant's upgrade history.
func (e *Engine) History(ctx context.Context, participantID string) ([]*domain.TierHistoryEntry, error) {
	return e.history.GetByParticipant(ctx, participantID)
}
