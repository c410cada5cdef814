package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// ErrNotOwner is returned when a participant requests against someone else's investment.
var ErrNotOwner = errors.New("investment belongs to another participant")

// SubmitRequest is a participant-initiated withdrawal.
type SubmitRequest struct {
	InvestmentID  string
	ParticipantID string // optional ownership check
	Type          domain.WithdrawalType
	Amount        decimal.Decimal
	At            time.Time
}

// Service persists withdrawal requests and drives their state machine.
// Mutations are serialized per investment.
type Service struct {
	investments storage.InvestmentStore
	withdrawals storage.WithdrawalStore
	policy      *Policy
	logger      zerolog.Logger
	newID       func() string

	locks keyedMutex
}

// Options for creating Service.
type Options struct {
	Investments storage.InvestmentStore
	Withdrawals storage.WithdrawalStore
	Policy      *Policy // nil uses NewPolicy(nil, 0)
	Logger      *zerolog.Logger
	NewID       func() string // nil uses uuid.NewString
}

// NewService creates a withdrawal service.
func NewService(opts Options) *Service {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	policy := opts.Policy
	if policy == nil {
		policy = NewPolicy(nil, 0)
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{
		investments: opts.Investments,
		withdrawals: opts.Withdrawals,
		policy:      policy,
		logger:      logger.With().Str("component", "withdrawal").Logger(),
		newID:       newID,
		locks:       keyedMutex{locks: make(map[string]*lockEntry)},
	}
}

// Preview evaluates a withdrawal without recording anything.
func (s *Service) Preview(ctx context.Context, investmentID string, t domain.WithdrawalType, amount decimal.Decimal, asOf time.Time) (*domain.WithdrawalDecision, error) {
	inv, err := s.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}

	dec, err := s.policy.Evaluate(inv, t, amount, asOf)
	if err != nil {
		return nil, err
	}
	observability.RecordWithdrawalEvaluation(string(t), dec.Eligible)
	return dec, nil
}

// Submit evaluates and records a withdrawal request. Emergency requests go to
// pending_approval, all others to pending. An ineligible request returns the
// decision together with the most specific error.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.WithdrawalRequest, *domain.WithdrawalDecision, error) {
	unlock := s.locks.lock(req.InvestmentID)
	defer unlock()

	inv, err := s.loadInvestment(ctx, req.InvestmentID)
	if err != nil {
		return nil, nil, err
	}
	if req.ParticipantID != "" && req.ParticipantID != inv.ParticipantID {
		return nil, nil, ErrNotOwner
	}

	dec, err := s.policy.Evaluate(inv, req.Type, req.Amount, req.At)
	if err != nil {
		return nil, nil, err
	}
	observability.RecordWithdrawalEvaluation(string(req.Type), dec.Eligible)
	if !dec.Eligible {
		return nil, dec, s.policy.Err(inv, dec)
	}

	if err := s.ensureNoOpenRequest(ctx, inv.ID); err != nil {
		return nil, dec, err
	}

	w := &domain.WithdrawalRequest{
		ID:              s.newID(),
		InvestmentID:    inv.ID,
		ParticipantID:   inv.ParticipantID,
		Type:            req.Type,
		RequestedAmount: dec.RequestedAmount,
		PenaltyAmount:   dec.PenaltyAmount,
		NetAmount:       dec.NetAmount,
		Status:          domain.WithdrawalRequested,
		RequestedAt:     req.At,
		UpdatedAt:       req.At,
	}
	if err := s.withdrawals.Insert(ctx, w); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, dec, ErrConflictingRequest
		}
		return nil, dec, fmt.Errorf("insert withdrawal: %w", err)
	}

	next := domain.WithdrawalPending
	if req.Type == domain.WithdrawalEmergency {
		next = domain.WithdrawalPendingApproval
	}
	if err := s.withdrawals.UpdateStatus(ctx, w.ID, domain.WithdrawalRequested, next, req.At, ""); err != nil {
		return nil, dec, fmt.Errorf("queue withdrawal: %w", err)
	}
	w.Status = next

	observability.RecordWithdrawalTransition(string(next))
	s.logger.Info().
		Str("withdrawal_id", w.ID).
		Str("investment_id", inv.ID).
		Str("type", string(w.Type)).
		Str("requested", w.RequestedAmount.String()).
		Str("penalty", w.PenaltyAmount.String()).
		Str("status", string(next)).
		Msg("withdrawal submitted")

	return w, dec, nil
}

// Approve moves a pending request to approved.
func (s *Service) Approve(ctx context.Context, requestID string, at time.Time) (*domain.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, domain.WithdrawalApproved, at, "")
}

// Reject moves a pending request to rejected with a reason.
func (s *Service) Reject(ctx context.Context, requestID, reason string, at time.Time) (*domain.WithdrawalRequest, error) {
	return s.transition(ctx, requestID, domain.WithdrawalRejected, at, reason)
}

// MarkPaid settles an approved request and books the paid amount on the
// investment. Paying out all principal moves the investment to withdrawn.
// The booking is keyed by the request id, so retrying after a failed status
// write never books the amount twice.
func (s *Service) MarkPaid(ctx context.Context, requestID string, at time.Time) (*domain.WithdrawalRequest, error) {
	w, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(w.InvestmentID)
	defer unlock()

	// Re-read under the investment lock.
	w, err = s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransitionTo(domain.WithdrawalPaid) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, domain.WithdrawalPaid)
	}

	principal, profit := w.RequestedAmount, decimal.Zero
	if !w.Type.TouchesPrincipal() {
		principal, profit = decimal.Zero, w.RequestedAmount
	}
	inv, err := s.investments.RecordWithdrawal(ctx, w.InvestmentID, w.ID, principal, profit)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrInvestmentNotActive
		}
		return nil, fmt.Errorf("record withdrawal on investment: %w", err)
	}

	if err := s.withdrawals.UpdateStatus(ctx, w.ID, w.Status, domain.WithdrawalPaid, at, ""); err != nil {
		return nil, fmt.Errorf("mark withdrawal paid: %w", err)
	}
	w.Status = domain.WithdrawalPaid
	w.UpdatedAt = at

	observability.RecordWithdrawalTransition(string(w.Status))
	s.logger.Info().
		Str("withdrawal_id", w.ID).
		Str("investment_id", w.InvestmentID).
		Str("net", w.NetAmount.String()).
		Str("investment_status", string(inv.Status)).
		Msg("withdrawal paid")
	return w, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, requestID string) (*domain.WithdrawalRequest, error) {
	return s.loadRequest(ctx, requestID)
}

// ListByInvestment returns every request against an investment.
func (s *Service) ListByInvestment(ctx context.Context, investmentID string) ([]*domain.WithdrawalRequest, error) {
	return s.withdrawals.GetByInvestment(ctx, investmentID)
}

func (s *Service) transition(ctx context.Context, requestID string, to domain.WithdrawalStatus, at time.Time, reason string) (*domain.WithdrawalRequest, error) {
	w, err := s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.lock(w.InvestmentID)
	defer unlock()

	w, err = s.loadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.Status, to)
	}

	err = s.withdrawals.UpdateStatus(ctx, w.ID, w.Status, to, at, reason)
	if errors.Is(err, storage.ErrConflict) {
		return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, w.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("update withdrawal status: %w", err)
	}

	w.Status = to
	w.UpdatedAt = at
	if reason != "" {
		w.Reason = reason
	}

	observability.RecordWithdrawalTransition(string(to))
	s.logger.Info().
		Str("withdrawal_id", w.ID).
		Str("status", string(to)).
		Str("reason", reason).
		Msg("withdrawal transitioned")
	return w, nil
}

func (s *Service) ensureNoOpenRequest(ctx context.Context, investmentID string) error {
	existing, err := s.withdrawals.GetByInvestment(ctx, investmentID)
	if err != nil {
		return fmt.Errorf("load withdrawals: %w", err)
	}
	for _, w := range existing {
		if w.Status.IsOpen() {
			return fmt.Errorf("%w: %s is %s", ErrConflictingRequest, w.ID, w.Status)
		}
	}
	return nil
}

func (s *Service) loadInvestment(ctx context.Context, id string) (*domain.Investment, error) {
	inv, err := s.investments.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvestmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load investment: %w", err)
	}
	return inv, nil
}

func (s *Service) loadRequest(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	w, err := s.withdrawals.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load withdrawal: %w", err)
	}
	return w, nil
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &lockEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
