package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentStatus is the lifecycle state of an investment.
type InvestmentStatus string

const (
	InvestmentPending   InvestmentStatus = "pending"
	InvestmentActive    InvestmentStatus = "active"
	InvestmentRejected  InvestmentStatus = "rejected"
	InvestmentWithdrawn InvestmentStatus = "withdrawn" // principal fully paid out
)

// IsValid checks if the status is a known value.
func (s InvestmentStatus) IsValid() bool {
	switch s {
	case InvestmentPending, InvestmentActive, InvestmentRejected, InvestmentWithdrawn:
		return true
	}
	return false
}

// DefaultLockInMonths is the lock-in window applied to new investments.
const DefaultLockInMonths = 12

// Investment is a capital contribution by a participant.
// Corresponds to investments table in PostgreSQL.
type Investment struct {
	ID                 string
	ParticipantID      string
	TierIDAtTime       string
	Amount             decimal.Decimal
	Status             InvestmentStatus
	InvestmentDate     time.Time
	LockInEndDate      time.Time
	IsTierUpgrade      bool
	AccruedProfit      decimal.Decimal // credited by payout runs
	WithdrawnPrincipal decimal.Decimal
	WithdrawnProfit    decimal.Decimal
}

// OutstandingPrincipal is the principal not yet paid out.
func (i *Investment) OutstandingPrincipal() decimal.Decimal {
	out := i.Amount.Sub(i.WithdrawnPrincipal)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// AvailableProfit is accrued profit not yet paid out.
func (i *Investment) AvailableProfit() decimal.Decimal {
	out := i.AccruedProfit.Sub(i.WithdrawnProfit)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// LockInEnd returns the lock-in end date for an investment made at t.
func LockInEnd(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}
