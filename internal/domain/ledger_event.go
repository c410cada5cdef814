package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEventType classifies records handed to ledger collaborators.
type LedgerEventType string

const (
	EventPlacement          LedgerEventType = "PLACEMENT"
	EventTierUpgrade        LedgerEventType = "TIER_UPGRADE"
	EventCommission         LedgerEventType = "COMMISSION"
	EventWithdrawal         LedgerEventType = "WITHDRAWAL"
	EventProfitPayout       LedgerEventType = "PROFIT_PAYOUT"
	EventInvestmentActivate LedgerEventType = "INVESTMENT_ACTIVATED"
)

// LedgerEvent is a flattened audit record.
// Corresponds to ledger_events table in ClickHouse.
type LedgerEvent struct {
	EventID       string
	Type          LedgerEventType
	ParticipantID string
	InvestmentID  string
	ReferenceID   string // commission / withdrawal / payout id
	Amount        decimal.Decimal
	Status        string
	Detail        string
	OccurredAt    time.Time
}
