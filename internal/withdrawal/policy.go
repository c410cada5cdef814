// Package withdrawal evaluates withdrawal eligibility and penalties and
// drives withdrawal requests through their state machine.
package withdrawal

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
)

// Withdrawal errors
var (
	ErrInvestmentNotActive    = errors.New("investment is not active")
	ErrLockInNotElapsed       = errors.New("lock-in period has not elapsed")
	ErrInvalidWithdrawalType  = errors.New("invalid withdrawal type")
	ErrAmountExceedsAvailable = errors.New("requested amount exceeds available balance")
	ErrInvalidAmount          = errors.New("requested amount is not valid for withdrawal type")
	ErrConflictingRequest     = errors.New("investment already has an open withdrawal request")
	ErrInvalidTransition      = errors.New("invalid withdrawal status transition")
	ErrInvestmentNotFound     = errors.New("investment not found")
	ErrRequestNotFound        = errors.New("withdrawal request not found")
	ErrNotEligible            = errors.New("withdrawal is not eligible")
)

// LockInNotElapsedError carries the lock-in still remaining at AsOf.
type LockInNotElapsedError struct {
	Remaining time.Duration
	AsOf      time.Time
	LockInEnd time.Time
}

func newLockInError(inv *domain.Investment, asOf time.Time) *LockInNotElapsedError {
	return &LockInNotElapsedError{
		Remaining: inv.LockInEndDate.Sub(asOf),
		AsOf:      asOf,
		LockInEnd: inv.LockInEndDate,
	}
}

func (e *LockInNotElapsedError) Error() string {
	return fmt.Sprintf("lock-in period has not elapsed: %s remaining", FormatRemaining(e.AsOf, e.LockInEnd))
}

// FormatRemaining renders the span from asOf to end in calendar months and
// days, e.g. "6 months 3 days". A span under one day is "less than 1 day".
func FormatRemaining(asOf, end time.Time) string {
	if !asOf.Before(end) {
		return "0 days"
	}

	months := 0
	for !asOf.AddDate(0, months+1, 0).After(end) {
		months++
	}
	days := int(end.Sub(asOf.AddDate(0, months, 0)) / (24 * time.Hour))

	switch {
	case months == 0 && days == 0:
		return "less than 1 day"
	case months == 0:
		return plural(days, "day")
	case days == 0:
		return plural(months, "month")
	}
	return plural(months, "month") + " " + plural(days, "day")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Is makes errors.Is(err, ErrLockInNotElapsed) match.
func (e *LockInNotElapsedError) Is(target error) bool {
	return target == ErrLockInNotElapsed
}

// Policy is the pure evaluation half of the withdrawal engine.
type Policy struct {
	penalty PenaltyPolicy
	scale   int32
}

// NewPolicy creates a policy. A nil penalty uses DefaultPenalty.
func NewPolicy(penalty PenaltyPolicy, scale int32) *Policy {
	if penalty == nil {
		penalty = DefaultPenalty()
	}
	if scale <= 0 {
		scale = domain.DefaultMoneyScale
	}
	return &Policy{penalty: penalty, scale: scale}
}

// Evaluate decides eligibility, penalty and net amount for a withdrawal of
// requested from inv at asOf. It never mutates anything, so the same inputs
// always produce the same decision.
//
// An unknown type is returned as ErrInvalidWithdrawalType; every other
// ineligibility is reported in the decision's Reasons.
func (p *Policy) Evaluate(inv *domain.Investment, t domain.WithdrawalType, requested decimal.Decimal, asOf time.Time) (*domain.WithdrawalDecision, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWithdrawalType, t)
	}

	// Ineligible decisions carry no penalty, so net is the requested amount
	// (zero for a non-positive request).
	dec := &domain.WithdrawalDecision{
		Type:            t,
		RequestedAmount: requested,
		PenaltyRate:     decimal.Zero,
		PenaltyAmount:   decimal.Zero,
		NetAmount:       decimal.Max(requested, decimal.Zero),
		AsOf:            asOf,
	}
	if asOf.Before(inv.LockInEndDate) {
		dec.RemainingLockIn = inv.LockInEndDate.Sub(asOf)
	}

	if inv.Status != domain.InvestmentActive {
		dec.Reasons = append(dec.Reasons, ErrInvestmentNotActive.Error())
	}
	if (t == domain.WithdrawalFull || t == domain.WithdrawalPartial) && dec.RemainingLockIn > 0 {
		dec.Reasons = append(dec.Reasons, newLockInError(inv, asOf).Error())
	}
	if reason := amountViolation(inv, t, requested); reason != "" {
		dec.Reasons = append(dec.Reasons, reason)
	}
	if len(dec.Reasons) > 0 {
		return dec, nil
	}

	dec.Eligible = true
	dec.PenaltyRate = p.penalty.Rate(t, remainingFraction(inv, asOf))
	dec.PenaltyAmount = domain.Percent(requested, dec.PenaltyRate, p.scale)
	if dec.PenaltyAmount.GreaterThan(requested) {
		dec.PenaltyAmount = requested
	}
	dec.NetAmount = requested.Sub(dec.PenaltyAmount)
	return dec, nil
}

// Err converts an ineligible decision into its most specific error.
func (p *Policy) Err(inv *domain.Investment, dec *domain.WithdrawalDecision) error {
	if dec.Eligible {
		return nil
	}
	if inv.Status != domain.InvestmentActive {
		return ErrInvestmentNotActive
	}
	if (dec.Type == domain.WithdrawalFull || dec.Type == domain.WithdrawalPartial) && dec.RemainingLockIn > 0 {
		return newLockInError(inv, dec.AsOf)
	}
	if dec.Type == domain.WithdrawalProfitsOnly && dec.RequestedAmount.GreaterThan(inv.AvailableProfit()) ||
		dec.Type.TouchesPrincipal() && dec.RequestedAmount.GreaterThan(inv.OutstandingPrincipal()) {
		return ErrAmountExceedsAvailable
	}
	return fmt.Errorf("%w: %v", ErrNotEligible, dec.Reasons)
}

func amountViolation(inv *domain.Investment, t domain.WithdrawalType, requested decimal.Decimal) string {
	if !requested.IsPositive() {
		return ErrInvalidAmount.Error() + ": must be positive"
	}

	outstanding := inv.OutstandingPrincipal()
	switch t {
	case domain.WithdrawalFull:
		if !requested.Equal(outstanding) {
			return fmt.Sprintf("%s: full withdrawal must equal outstanding principal %s", ErrInvalidAmount, outstanding.StringFixed(2))
		}
	case domain.WithdrawalPartial:
		if requested.GreaterThan(outstanding) {
			return fmt.Sprintf("%s: outstanding principal is %s", ErrAmountExceedsAvailable, outstanding.StringFixed(2))
		}
		if requested.Equal(outstanding) {
			return fmt.Sprintf("%s: partial withdrawal must be below outstanding principal %s", ErrInvalidAmount, outstanding.StringFixed(2))
		}
	case domain.WithdrawalEmergency:
		if requested.GreaterThan(outstanding) {
			return fmt.Sprintf("%s: outstanding principal is %s", ErrAmountExceedsAvailable, outstanding.StringFixed(2))
		}
	case domain.WithdrawalProfitsOnly:
		available := inv.AvailableProfit()
		if requested.GreaterThan(available) {
			return fmt.Sprintf("%s: available profit is %s", ErrAmountExceedsAvailable, available.StringFixed(2))
		}
	}
	return ""
}

// remainingFraction is the share of the lock-in window still ahead of asOf,
// in [0, 1].
func remainingFraction(inv *domain.Investment, asOf time.Time) decimal.Decimal {
	total := inv.LockInEndDate.Sub(inv.InvestmentDate)
	if total <= 0 || !asOf.Before(inv.LockInEndDate) {
		return decimal.Zero
	}
	left := inv.LockInEndDate.Sub(asOf)
	if left >= total {
		return one
	}
	return decimal.NewFromInt(int64(left)).Div(decimal.NewFromInt(int64(total)))
}
