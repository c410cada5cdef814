package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CommissionStatus is the state of a commission row.
type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionCapped  CommissionStatus = "capped"
	CommissionPaid    CommissionStatus = "paid"
)

// IsValid checks if the status is a known value.
func (s CommissionStatus) IsValid() bool {
	return s == CommissionPending || s == CommissionCapped || s == CommissionPaid
}

// Commission is one level of a commission fan-out for a source investment.
// Corresponds to commissions table in PostgreSQL.
type Commission struct {
	ID                  string // deterministic hash of (source_investment_id, level)
	RecipientID         string
	SourceInvestmentID  string
	SourceParticipantID string
	Level               int             // 1..7
	RateApplied         decimal.Decimal // percent
	GrossAmount         decimal.Decimal
	CappedAmount        decimal.Decimal // authorized amount, <= GrossAmount
	Status              CommissionStatus
	CreatedAt           time.Time
}

// WasCapped reports whether compliance clamped the gross amount.
func (c *Commission) WasCapped() bool {
	return c.CappedAmount.LessThan(c.GrossAmount)
}

// DistributionRun is the idempotency record for one commission fan-out.
type DistributionRun struct {
	InvestmentID string
	ClaimedAt    time.Time
	Completed    bool
	RowCount     int
}
