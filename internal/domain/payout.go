package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutRun is the event consumed by one periodic profit run.
type PayoutRun struct {
	RunID       string
	PeriodStart time.Time
	PeriodEnd   time.Time // exclusive
}

// ProfitPayout is the profit credited to one investment by one run.
// Corresponds to profit_payouts table in PostgreSQL.
type ProfitPayout struct {
	ID           string // deterministic hash of (run_id, investment_id)
	RunID        string
	InvestmentID string
	TierID       string
	Principal    decimal.Decimal
	Rate         decimal.Decimal // percent
	Amount       decimal.Decimal
	CreatedAt    time.Time
}
