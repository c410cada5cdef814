package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
)

// ParticipantStore provides access to participants storage.
type ParticipantStore interface {
	// Insert adds a new participant. Returns ErrDuplicateKey if id or referral code exists.
	Insert(ctx context.Context, p *domain.Participant) error

	// GetByID retrieves a participant. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Participant, error)

	// GetByReferralCode retrieves a participant by referral code. Returns ErrNotFound if not exists.
	GetByReferralCode(ctx context.Context, code string) (*domain.Participant, error)

	// GetByReferrer retrieves direct referrals, ordered by joined_at ASC.
	GetByReferrer(ctx context.Context, referrerID string) ([]*domain.Participant, error)

	// AddCapital atomically adds delta to cumulative capital and returns the updated participant.
	AddCapital(ctx context.Context, id string, delta decimal.Decimal) (*domain.Participant, error)

	// ApplyCapital adds an activated investment's amount to cumulative capital
	// at most once per investmentID. applied is false when the investment was
	// already credited; the participant is returned either way.
	ApplyCapital(ctx context.Context, id, investmentID string, amount decimal.Decimal) (p *domain.Participant, applied bool, err error)

	// SetTier moves current_tier_id from fromTierID to toTierID.
	// Returns ErrConflict if the stored tier is no longer fromTierID.
	SetTier(ctx context.Context, id, fromTierID, toTierID string) error
}

// TierHistoryStore provides access to the append-only tier_history storage.
type TierHistoryStore interface {
	// Append adds an entry. Returns ErrDuplicateKey if (participant_id, tier_id) exists.
	Append(ctx context.Context, e *domain.TierHistoryEntry) error

	// GetByParticipant retrieves entries ordered by upgraded_at ASC.
	GetByParticipant(ctx context.Context, participantID string) ([]*domain.TierHistoryEntry, error)
}

// MatrixStore provides access to matrix_nodes storage.
// Nodes are append-only: parent and slot never change after Attach.
type MatrixStore interface {
	// Attach inserts a node. Assigns Seq.
	// Returns ErrDuplicateKey if the participant already holds a node,
	// ErrSlotOccupied if (parent_id, slot_index) is taken.
	Attach(ctx context.Context, n *domain.MatrixNode) (*domain.MatrixNode, error)

	// GetByParticipant retrieves a node. Returns ErrNotFound if not placed.
	GetByParticipant(ctx context.Context, participantID string) (*domain.MatrixNode, error)

	// GetChildren retrieves children of all given parents, ordered by seq ASC.
	GetChildren(ctx context.Context, parentIDs []string) ([]*domain.MatrixNode, error)
}

// InvestmentStore provides access to investments storage.
type InvestmentStore interface {
	// Insert adds a new investment. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, inv *domain.Investment) error

	// GetByID retrieves an investment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Investment, error)

	// GetByParticipant retrieves investments ordered by investment_date ASC.
	GetByParticipant(ctx context.Context, participantID string) ([]*domain.Investment, error)

	// GetActiveBefore retrieves active investments dated before t, ordered by investment_date ASC.
	GetActiveBefore(ctx context.Context, t time.Time) ([]*domain.Investment, error)

	// UpdateStatus moves status from -> to. Returns ErrConflict if the stored status differs.
	UpdateStatus(ctx context.Context, id string, from, to domain.InvestmentStatus) error

	// AddAccruedProfit credits profit to an investment at most once per payoutID.
	// applied is false when the payout was already credited.
	AddAccruedProfit(ctx context.Context, id, payoutID string, amount decimal.Decimal) (applied bool, err error)

	// RecordWithdrawal adds paid principal and profit at most once per requestID.
	// Moves the investment to withdrawn when no principal remains. A repeated
	// requestID returns the stored investment without booking anything.
	RecordWithdrawal(ctx context.Context, id, requestID string, principal, profit decimal.Decimal) (*domain.Investment, error)
}

// CommissionStore provides access to commissions and distribution_runs storage.
type CommissionStore interface {
	// ClaimRun records the idempotency key for an investment.
	// An incomplete run claimed before staleBefore is taken over and its
	// claimed_at moved to at. Returns ErrDuplicateKey if a run is completed
	// or still freshly claimed.
	ClaimRun(ctx context.Context, investmentID string, at, staleBefore time.Time) error

	// CompleteRun inserts the rows of a claimed run atomically and marks it complete.
	CompleteRun(ctx context.Context, investmentID string, rows []*domain.Commission) error

	// ReleaseRun drops an incomplete claim so the run can be retried.
	ReleaseRun(ctx context.Context, investmentID string) error

	// GetRun retrieves the run record. Returns ErrNotFound if never claimed.
	GetRun(ctx context.Context, investmentID string) (*domain.DistributionRun, error)

	// GetBySourceInvestment retrieves rows ordered by level ASC.
	GetBySourceInvestment(ctx context.Context, investmentID string) ([]*domain.Commission, error)

	// GetByRecipient retrieves rows ordered by created_at ASC, level ASC.
	GetByRecipient(ctx context.Context, recipientID string) ([]*domain.Commission, error)

	// MarkPaid moves a pending or capped row to paid. Returns ErrConflict if already paid.
	MarkPaid(ctx context.Context, id string) error
}

// WithdrawalStore provides access to withdrawal_requests storage.
type WithdrawalStore interface {
	// Insert adds a new request. Returns ErrDuplicateKey if id exists and
	// ErrConflict if the investment already has an open request.
	Insert(ctx context.Context, w *domain.WithdrawalRequest) error

	// GetByID retrieves a request. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error)

	// GetByInvestment retrieves requests ordered by requested_at ASC.
	GetByInvestment(ctx context.Context, investmentID string) ([]*domain.WithdrawalRequest, error)

	// UpdateStatus moves status from -> to. Returns ErrConflict if the stored status differs.
	UpdateStatus(ctx context.Context, id string, from, to domain.WithdrawalStatus, at time.Time, reason string) error
}

// CapLimit is one ceiling checked by CapLedger.Reserve.
type CapLimit struct {
	Key     string          // e.g. "participant:p1:2026-10"
	Ceiling decimal.Decimal // positive
}

// CapLedger holds running commission totals per cap window.
type CapLedger interface {
	// Reserve atomically computes min(proposed, min(ceiling - used)) over all limits,
	// clamps it at zero and adds it to every key. Returns the reserved amount.
	Reserve(ctx context.Context, limits []CapLimit, proposed decimal.Decimal) (decimal.Decimal, error)

	// Release subtracts a previously reserved amount from every key.
	Release(ctx context.Context, keys []string, amount decimal.Decimal) error

	// Used returns the running total for a key (zero if absent).
	Used(ctx context.Context, key string) (decimal.Decimal, error)
}

// ProfitPayoutStore provides access to profit_payouts storage.
type ProfitPayoutStore interface {
	// Insert adds a payout. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, p *domain.ProfitPayout) error

	// GetByRun retrieves payouts for a run ordered by investment_id ASC.
	GetByRun(ctx context.Context, runID string) ([]*domain.ProfitPayout, error)

	// GetByInvestment retrieves payouts ordered by created_at ASC.
	GetByInvestment(ctx context.Context, investmentID string) ([]*domain.ProfitPayout, error)
}

// LedgerEventStore provides access to the ledger_events audit storage.
type LedgerEventStore interface {
	// InsertBulk adds events. Fails entire batch on duplicate event_id.
	InsertBulk(ctx context.Context, events []*domain.LedgerEvent) error

	// GetByParticipant retrieves events ordered by occurred_at ASC.
	GetByParticipant(ctx context.Context, participantID string) ([]*domain.LedgerEvent, error)

	// CommissionTotal sums COMMISSION amounts for a participant in [start, end).
	CommissionTotal(ctx context.Context, participantID string, start, end time.Time) (decimal.Decimal, error)
}
