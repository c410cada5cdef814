package withdrawal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
)

// Penalty configuration errors
var (
	ErrNegativePenaltyRate   = errors.New("penalty rate must be within 0..100")
	ErrEmergencyBelowEarly   = errors.New("emergency rate must not be below the maximum early rate")
	ErrStepsNotMonotonic     = errors.New("penalty steps must be ordered by threshold with non-decreasing rates")
	ErrStepThresholdOutRange = errors.New("penalty step threshold must be within (0, 1]")
)

// PenaltyPolicy maps a withdrawal type and remaining lock-in fraction
// (0 = fully vested, 1 = just invested) to a penalty rate in percent.
// Implementations must be non-decreasing in remainingFraction and return
// 0 for full/partial once remainingFraction is 0.
type PenaltyPolicy interface {
	Rate(t domain.WithdrawalType, remainingFraction decimal.Decimal) decimal.Decimal
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(hundred)
}

// LinearPenalty charges MaxEarlyRate scaled by the remaining lock-in fraction.
// Emergency withdrawals pay EmergencyRate flat while any lock-in remains.
type LinearPenalty struct {
	MaxEarlyRate  decimal.Decimal
	EmergencyRate decimal.Decimal
}

// DefaultPenalty is the linear curve used when nothing is configured.
func DefaultPenalty() LinearPenalty {
	return LinearPenalty{
		MaxEarlyRate:  decimal.NewFromInt(15),
		EmergencyRate: decimal.NewFromInt(20),
	}
}

// Validate checks rates are percentages and emergency is the higher one.
func (p LinearPenalty) Validate() error {
	if !validRate(p.MaxEarlyRate) || !validRate(p.EmergencyRate) {
		return ErrNegativePenaltyRate
	}
	if p.EmergencyRate.LessThan(p.MaxEarlyRate) {
		return ErrEmergencyBelowEarly
	}
	return nil
}

// Rate implements PenaltyPolicy.
func (p LinearPenalty) Rate(t domain.WithdrawalType, remaining decimal.Decimal) decimal.Decimal {
	remaining = clampFraction(remaining)
	switch t {
	case domain.WithdrawalProfitsOnly:
		return decimal.Zero
	case domain.WithdrawalEmergency:
		if remaining.IsPositive() {
			return p.EmergencyRate
		}
		return decimal.Zero
	default:
		return p.MaxEarlyRate.Mul(remaining)
	}
}

// PenaltyStep applies Rate while the remaining fraction is <= UpTo.
type PenaltyStep struct {
	UpTo decimal.Decimal // remaining fraction threshold, (0, 1]
	Rate decimal.Decimal // percent
}

// SteppedPenalty charges a rate picked from ordered remaining-fraction bands.
// Steps must be ordered by UpTo with non-decreasing rates.
type SteppedPenalty struct {
	Steps         []PenaltyStep
	EmergencyRate decimal.Decimal
}

// Validate checks the bands are ordered and monotonic.
func (p SteppedPenalty) Validate() error {
	if !validRate(p.EmergencyRate) {
		return ErrNegativePenaltyRate
	}
	for i, s := range p.Steps {
		if !s.UpTo.IsPositive() || s.UpTo.GreaterThan(one) {
			return fmt.Errorf("step %d: %w", i, ErrStepThresholdOutRange)
		}
		if !validRate(s.Rate) {
			return fmt.Errorf("step %d: %w", i, ErrNegativePenaltyRate)
		}
		if s.Rate.GreaterThan(p.EmergencyRate) {
			return fmt.Errorf("step %d: %w", i, ErrEmergencyBelowEarly)
		}
		if i == 0 {
			continue
		}
		prev := p.Steps[i-1]
		if !s.UpTo.GreaterThan(prev.UpTo) || s.Rate.LessThan(prev.Rate) {
			return fmt.Errorf("step %d: %w", i, ErrStepsNotMonotonic)
		}
	}
	return nil
}

// Rate implements PenaltyPolicy.
func (p SteppedPenalty) Rate(t domain.WithdrawalType, remaining decimal.Decimal) decimal.Decimal {
	remaining = clampFraction(remaining)
	switch t {
	case domain.WithdrawalProfitsOnly:
		return decimal.Zero
	case domain.WithdrawalEmergency:
		if remaining.IsPositive() {
			return p.EmergencyRate
		}
		return decimal.Zero
	}

	if !remaining.IsPositive() {
		return decimal.Zero
	}
	for _, s := range p.Steps {
		if remaining.LessThanOrEqual(s.UpTo) {
			return s.Rate
		}
	}
	if n := len(p.Steps); n > 0 {
		return p.Steps[n-1].Rate
	}
	return decimal.Zero
}

func clampFraction(f decimal.Decimal) decimal.Decimal {
	if f.IsNegative() {
		return decimal.Zero
	}
	if f.GreaterThan(one) {
		return one
	}
	return f
}
