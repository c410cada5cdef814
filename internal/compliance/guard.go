// Package compliance enforces commission ceilings per participant and system-wide.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/storage"
)

// ErrNegativeLimit is returned for a configured ceiling below zero.
var ErrNegativeLimit = errors.New("cap ceiling must not be negative")

// Limits are the configured ceilings. A zero ceiling means unlimited.
type Limits struct {
	ParticipantMonthly  decimal.Decimal
	ParticipantLifetime decimal.Decimal
	SystemMonthly       decimal.Decimal
}

// Validate checks that no ceiling is negative.
func (l Limits) Validate() error {
	for _, c := range []decimal.Decimal{l.ParticipantMonthly, l.ParticipantLifetime, l.SystemMonthly} {
		if c.IsNegative() {
			return ErrNegativeLimit
		}
	}
	return nil
}

// Authorization is the outcome of one authorize call.
type Authorization struct {
	Proposed   decimal.Decimal
	Authorized decimal.Decimal // <= Proposed, may be zero
	WasCapped  bool
	Keys       []string // ledger keys the amount was reserved on
}

// Guard reserves commission amounts against the configured windows.
// Every reservation is a single atomic ledger call across all windows.
type Guard struct {
	ledger storage.CapLedger
	limits Limits
	logger zerolog.Logger
}

// Options for creating Guard.
type Options struct {
	Ledger storage.CapLedger
	Limits Limits
	Logger *zerolog.Logger
}

// New creates a compliance guard.
func New(opts Options) (*Guard, error) {
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Guard{
		ledger: opts.Ledger,
		limits: opts.Limits,
		logger: logger.With().Str("component", "compliance").Logger(),
	}, nil
}

// Authorize reserves min(proposed, remaining headroom) for the participant.
// A participant at cap gets (0, capped).
func (g *Guard) Authorize(ctx context.Context, participantID string, proposed decimal.Decimal, at time.Time) (Authorization, error) {
	auth := Authorization{Proposed: proposed, Authorized: decimal.Zero}
	if !proposed.IsPositive() {
		return auth, nil
	}

	limits := g.capLimits(participantID, at)
	if len(limits) == 0 {
		auth.Authorized = proposed
		return auth, nil
	}

	reserved, err := g.ledger.Reserve(ctx, limits, proposed)
	if err != nil {
		return auth, fmt.Errorf("reserve cap for %s: %w", participantID, err)
	}

	auth.Authorized = reserved
	auth.WasCapped = reserved.LessThan(proposed)
	for _, l := range limits {
		auth.Keys = append(auth.Keys, l.Key)
	}

	if auth.WasCapped {
		g.logger.Warn().
			Str("participant_id", participantID).
			Str("proposed", proposed.String()).
			Str("authorized", reserved.String()).
			Msg("commission clamped by cap")
	}
	return auth, nil
}

// Release refunds a previous authorization.
func (g *Guard) Release(ctx context.Context, auth Authorization) error {
	if len(auth.Keys) == 0 || !auth.Authorized.IsPositive() {
		return nil
	}
	if err := g.ledger.Release(ctx, auth.Keys, auth.Authorized); err != nil {
		return fmt.Errorf("release cap: %w", err)
	}
	return nil
}

// Headroom returns the remaining authorizable amount for the participant.
// unlimited is true when no ceiling is configured.
func (g *Guard) Headroom(ctx context.Context, participantID string, at time.Time) (headroom decimal.Decimal, unlimited bool, err error) {
	limits := g.capLimits(participantID, at)
	if len(limits) == 0 {
		return decimal.Zero, true, nil
	}

	for i, l := range limits {
		used, err := g.ledger.Used(ctx, l.Key)
		if err != nil {
			return decimal.Zero, false, fmt.Errorf("read cap %s: %w", l.Key, err)
		}
		left := l.Ceiling.Sub(used)
		if i == 0 || left.LessThan(headroom) {
			headroom = left
		}
	}
	if headroom.IsNegative() {
		headroom = decimal.Zero
	}
	return headroom, false, nil
}

func (g *Guard) capLimits(participantID string, at time.Time) []storage.CapLimit {
	month := MonthWindow(at)

	var limits []storage.CapLimit
	if g.limits.ParticipantMonthly.IsPositive() {
		limits = append(limits, storage.CapLimit{
			Key:     ParticipantMonthKey(participantID, month),
			Ceiling: g.limits.ParticipantMonthly,
		})
	}
	if g.limits.ParticipantLifetime.IsPositive() {
		limits = append(limits, storage.CapLimit{
			Key:     ParticipantLifetimeKey(participantID),
			Ceiling: g.limits.ParticipantLifetime,
		})
	}
	if g.limits.SystemMonthly.IsPositive() {
		limits = append(limits, storage.CapLimit{
			Key:     SystemMonthKey(month),
			Ceiling: g.limits.SystemMonthly,
		})
	}
	return limits
}

// MonthWindow returns the UTC calendar month of t, e.g. "2026-10".
func MonthWindow(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// ParticipantMonthKey is the ledger key for a participant's monthly window.
func ParticipantMonthKey(participantID, month string) string {
	return "participant:" + participantID + ":month:" + month
}

// ParticipantLifetimeKey is the ledger key for a participant's lifetime window.
func ParticipantLifetimeKey(participantID string) string {
	return "participant:" + participantID + ":lifetime"
}

// SystemMonthKey is the ledger key for the system-wide monthly window.
func SystemMonthKey(month string) string {
	return "system:month:" + month
}
