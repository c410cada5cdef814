package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WithdrawalType selects the withdrawal policy applied to a request.
type WithdrawalType string

const (
	WithdrawalFull        WithdrawalType = "full"
	WithdrawalPartial     WithdrawalType = "partial"
	WithdrawalEmergency   WithdrawalType = "emergency"
	WithdrawalProfitsOnly WithdrawalType = "profits_only"
)

// IsValid checks if the type is a known value.
func (t WithdrawalType) IsValid() bool {
	switch t {
	case WithdrawalFull, WithdrawalPartial, WithdrawalEmergency, WithdrawalProfitsOnly:
		return true
	}
	return false
}

// TouchesPrincipal reports whether the type pays out principal.
func (t WithdrawalType) TouchesPrincipal() bool {
	return t != WithdrawalProfitsOnly
}

// WithdrawalStatus is the state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalRequested       WithdrawalStatus = "requested"
	WithdrawalPending         WithdrawalStatus = "pending"
	WithdrawalPendingApproval WithdrawalStatus = "pending_approval"
	WithdrawalApproved        WithdrawalStatus = "approved"
	WithdrawalRejected        WithdrawalStatus = "rejected"
	WithdrawalPaid            WithdrawalStatus = "paid"
)

var withdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalRequested:       {WithdrawalPending, WithdrawalPendingApproval},
	WithdrawalPending:         {WithdrawalApproved, WithdrawalRejected},
	WithdrawalPendingApproval: {WithdrawalApproved, WithdrawalRejected},
	WithdrawalApproved:        {WithdrawalPaid},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s WithdrawalStatus) CanTransitionTo(next WithdrawalStatus) bool {
	for _, allowed := range withdrawalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsOpen reports whether the request still blocks new requests on its investment.
func (s WithdrawalStatus) IsOpen() bool {
	switch s {
	case WithdrawalRequested, WithdrawalPending, WithdrawalPendingApproval, WithdrawalApproved:
		return true
	}
	return false
}

// WithdrawalRequest is a participant's request to take capital or profit out.
// Corresponds to withdrawal_requests table in PostgreSQL.
type WithdrawalRequest struct {
	ID              string
	InvestmentID    string
	ParticipantID   string
	Type            WithdrawalType
	RequestedAmount decimal.Decimal
	PenaltyAmount   decimal.Decimal
	NetAmount       decimal.Decimal // RequestedAmount - PenaltyAmount, never negative
	Status          WithdrawalStatus
	RequestedAt     time.Time
	UpdatedAt       time.Time
	Reason          string // rejection reason
}

// WithdrawalDecision is the pure policy outcome for a withdrawal.
type WithdrawalDecision struct {
	Eligible        bool
	Type            WithdrawalType
	RequestedAmount decimal.Decimal
	PenaltyRate     decimal.Decimal // percent
	PenaltyAmount   decimal.Decimal
	NetAmount       decimal.Decimal
	RemainingLockIn time.Duration
	AsOf            time.Time
	Reasons         []string
}
