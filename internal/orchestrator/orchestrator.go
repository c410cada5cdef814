// Package orchestrator coordinates the core engines.
// Activation flow: status transition → capital → tier → placement → commissions → ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/commission"
	"matrix-comp/internal/compliance"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/idhash"
	"matrix-comp/internal/ledger"
	"matrix-comp/internal/matrix"
	"matrix-comp/internal/payout"
	"matrix-comp/internal/storage"
	"matrix-comp/internal/tier"
	"matrix-comp/internal/withdrawal"
)

// Orchestrator errors
var (
	ErrParticipantNotFound  = errors.New("participant not found")
	ErrUnknownReferralCode  = errors.New("unknown referral code")
	ErrAlreadyEnrolled      = errors.New("participant already enrolled with a different referrer")
	ErrBelowMinimum         = errors.New("amount is below the lowest tier minimum")
	ErrInvestmentNotFound   = errors.New("investment not found")
	ErrInvestmentNotPending = errors.New("investment is not pending")
)

// Orchestrator coordinates enrollment, investment activation, withdrawals and payout runs.
type Orchestrator struct {
	// Stores
	participants storage.ParticipantStore
	investments  storage.InvestmentStore

	// Engines
	matrix      *matrix.Engine
	tiers       *tier.Engine
	commissions *commission.Engine
	withdrawals *withdrawal.Service
	payouts     *payout.Runner
	catalog     *catalog.Catalog
	guard       *compliance.Guard

	publisher    ledger.Sink
	lockInMonths int
	logger       zerolog.Logger
}

// Options for creating Orchestrator.
type Options struct {
	// Required stores
	Participants storage.ParticipantStore
	Investments  storage.InvestmentStore

	// Required engines
	Matrix      *matrix.Engine
	Tiers       *tier.Engine
	Commissions *commission.Engine
	Withdrawals *withdrawal.Service
	Payouts     *payout.Runner
	Catalog     *catalog.Catalog

	// Optional
	Guard        *compliance.Guard
	Publisher    ledger.Sink // nil drops ledger events
	LockInMonths int         // 0 uses domain.DefaultLockInMonths
	Logger       *zerolog.Logger
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	lockIn := opts.LockInMonths
	if lockIn <= 0 {
		lockIn = domain.DefaultLockInMonths
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = ledger.NewPublisher(nil)
	}
	return &Orchestrator{
		participants: opts.Participants,
		investments:  opts.Investments,
		matrix:       opts.Matrix,
		tiers:        opts.Tiers,
		commissions:  opts.Commissions,
		withdrawals:  opts.Withdrawals,
		payouts:      opts.Payouts,
		catalog:      opts.Catalog,
		guard:        opts.Guard,
		publisher:    publisher,
		lockInMonths: lockIn,
		logger:       logger.With().Str("component", "orchestrator").Logger(),
	}
}

// EnrollRequest identifies a new participant and who referred them.
// ReferralCode, when set, is resolved to the referrer.
type EnrollRequest struct {
	ParticipantID string
	ReferrerID    string
	ReferralCode  string
	At            time.Time
}

// EnrollResult contains the participant and its matrix node.
type EnrollResult struct {
	Participant *domain.Participant
	Node        *domain.MatrixNode
}

// Enroll creates a participant and places it in the matrix exactly once.
// Re-enrolling with the same referrer returns the existing records.
func (o *Orchestrator) Enroll(ctx context.Context, req EnrollRequest) (*EnrollResult, error) {
	if req.ParticipantID == "" {
		return nil, fmt.Errorf("enroll: %w", storage.ErrInvalidInput)
	}

	referrerID := req.ReferrerID
	if req.ReferralCode != "" {
		ref, err := o.participants.GetByReferralCode(ctx, req.ReferralCode)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrUnknownReferralCode
		}
		if err != nil {
			return nil, fmt.Errorf("resolve referral code: %w", err)
		}
		referrerID = ref.ID
	}
	if referrerID == req.ParticipantID {
		return nil, matrix.ErrSelfReferral
	}
	if referrerID != "" {
		if _, err := o.loadParticipant(ctx, referrerID); err != nil {
			if errors.Is(err, ErrParticipantNotFound) {
				return nil, matrix.ErrReferrerNotFound
			}
			return nil, err
		}
	}

	p := &domain.Participant{
		ID:                req.ParticipantID,
		ReferrerID:        referrerID,
		ReferralCode:      idhash.ReferralCode(req.ParticipantID),
		CumulativeCapital: decimal.Zero,
		JoinedAt:          req.At,
	}
	if err := o.participants.Insert(ctx, p); err != nil {
		if !errors.Is(err, storage.ErrDuplicateKey) {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
		existing, loadErr := o.loadParticipant(ctx, req.ParticipantID)
		if loadErr != nil {
			return nil, loadErr
		}
		if existing.ReferrerID != referrerID {
			return nil, ErrAlreadyEnrolled
		}
		p = existing
	}

	node, err := o.matrix.EnsurePlaced(ctx, p.ID, p.ReferrerID, req.At)
	if err != nil {
		return nil, fmt.Errorf("place participant: %w", err)
	}
	o.publish(ctx, ledger.PlacementEvent(node))

	o.logger.Info().
		Str("participant_id", p.ID).
		Str("referrer_id", p.ReferrerID).
		Str("referral_code", p.ReferralCode).
		Msg("participant enrolled")
	return &EnrollResult{Participant: p, Node: node}, nil
}

// RegisterRequest describes a new capital contribution.
type RegisterRequest struct {
	InvestmentID  string // optional, generated when empty
	ParticipantID string
	Amount        decimal.Decimal
	At            time.Time
}

// RegisterInvestment records a pending investment. The tier at time is the
// tier the participant's capital plus this amount qualifies for.
func (o *Orchestrator) RegisterInvestment(ctx context.Context, req RegisterRequest) (*domain.Investment, error) {
	p, err := o.loadParticipant(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}

	lowest := o.catalog.Lowest()
	if !req.Amount.IsPositive() || req.Amount.LessThan(lowest.MinimumContribution) {
		return nil, fmt.Errorf("%w: %s < %s", ErrBelowMinimum, req.Amount, lowest.MinimumContribution)
	}

	eligible, _ := o.catalog.EligibleFor(p.CumulativeCapital.Add(req.Amount))
	current, err := o.catalog.Ordering(p.CurrentTierID)
	if err != nil {
		return nil, err
	}

	id := req.InvestmentID
	if id == "" {
		id = uuid.NewString()
	}
	inv := &domain.Investment{
		ID:             id,
		ParticipantID:  p.ID,
		TierIDAtTime:   eligible.ID,
		Amount:         req.Amount,
		Status:         domain.InvestmentPending,
		InvestmentDate: req.At,
		LockInEndDate:  domain.LockInEnd(req.At, o.lockInMonths),
		IsTierUpgrade:  eligible.Ordering > current,
		AccruedProfit:  decimal.Zero,
	}
	if err := o.investments.Insert(ctx, inv); err != nil {
		return nil, fmt.Errorf("insert investment: %w", err)
	}

	o.logger.Info().
		Str("investment_id", inv.ID).
		Str("participant_id", p.ID).
		Str("amount", inv.Amount.String()).
		Str("tier", inv.TierIDAtTime).
		Bool("tier_upgrade", inv.IsTierUpgrade).
		Msg("investment registered")
	return inv, nil
}

// ActivationResult contains everything an activation produced.
type ActivationResult struct {
	Investment  *domain.Investment
	Tier        *tier.Result
	Node        *domain.MatrixNode
	Commissions []*domain.Commission
	Replayed    bool // the event was delivered before; nothing was paid twice
}

// ActivateInvestment runs the activation flow. Redelivering the same event
// is safe: capital is credited once per investment id, and a delivery that
// failed after the status change finishes the crediting on replay. The
// commission run is guarded by the investment id.
func (o *Orchestrator) ActivateInvestment(ctx context.Context, investmentID string, at time.Time) (*ActivationResult, error) {
	inv, err := o.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}

	result := &ActivationResult{}

	switch inv.Status {
	case domain.InvestmentPending:
		err := o.investments.UpdateStatus(ctx, inv.ID, domain.InvestmentPending, domain.InvestmentActive)
		if err != nil && !errors.Is(err, storage.ErrConflict) {
			return nil, fmt.Errorf("activate investment: %w", err)
		}
		// ErrConflict: lost the race to a concurrent delivery; continue as a replay.
	case domain.InvestmentActive:
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvestmentNotPending, inv.Status)
	}

	inv, err = o.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != domain.InvestmentActive {
		return nil, fmt.Errorf("%w: %s", ErrInvestmentNotPending, inv.Status)
	}
	result.Investment = inv

	_, credited, err := o.participants.ApplyCapital(ctx, inv.ParticipantID, inv.ID, inv.Amount)
	if err != nil {
		return nil, fmt.Errorf("apply capital: %w", err)
	}

	var events []*domain.LedgerEvent
	if credited {
		events = append(events, ledger.ActivationEvent(inv, at))
	}

	result.Tier, err = o.tiers.Evaluate(ctx, inv.ParticipantID, at)
	if err != nil {
		return nil, fmt.Errorf("evaluate tier: %w", err)
	}
	if result.Tier.Upgraded {
		events = append(events, ledger.TierUpgradeEvent(result.Tier.Entry))
	}

	p, err := o.loadParticipant(ctx, inv.ParticipantID)
	if err != nil {
		return nil, err
	}
	result.Node, err = o.matrix.EnsurePlaced(ctx, p.ID, p.ReferrerID, p.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("ensure placed: %w", err)
	}

	rows, err := o.commissions.Distribute(ctx, inv.ID, at)
	switch {
	case err == nil:
		events = append(events, ledger.CommissionEvents(rows)...)
	case errors.Is(err, commission.ErrDuplicateDistribution):
		result.Replayed = true
		rows, err = o.commissions.Existing(ctx, inv.ID)
		if err != nil {
			return nil, fmt.Errorf("load existing commissions: %w", err)
		}
	default:
		return nil, fmt.Errorf("distribute commissions: %w", err)
	}
	result.Commissions = rows

	o.publish(ctx, events...)

	o.logger.Info().
		Str("investment_id", inv.ID).
		Str("participant_id", inv.ParticipantID).
		Bool("replayed", result.Replayed).
		Bool("tier_upgraded", result.Tier.Upgraded).
		Int("commissions", len(rows)).
		Msg("investment activated")
	return result, nil
}

// RejectInvestment moves a pending investment to rejected.
func (o *Orchestrator) RejectInvestment(ctx context.Context, investmentID string, at time.Time) (*domain.Investment, error) {
	err := o.investments.UpdateStatus(ctx, investmentID, domain.InvestmentPending, domain.InvestmentRejected)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, ErrInvestmentNotFound
	case errors.Is(err, storage.ErrConflict):
		return nil, ErrInvestmentNotPending
	case err != nil:
		return nil, fmt.Errorf("reject investment: %w", err)
	}

	inv, err := o.loadInvestment(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	o.logger.Info().Str("investment_id", investmentID).Time("at", at).Msg("investment rejected")
	return inv, nil
}

// EvaluateTier re-evaluates a participant's tier outside the activation flow.
func (o *Orchestrator) EvaluateTier(ctx context.Context, participantID string, at time.Time) (*tier.Result, error) {
	res, err := o.tiers.Evaluate(ctx, participantID, at)
	if err != nil {
		return nil, err
	}
	if res.Upgraded {
		o.publish(ctx, ledger.TierUpgradeEvent(res.Entry))
	}
	return res, nil
}

// SubmitWithdrawal records a withdrawal request and publishes it.
func (o *Orchestrator) SubmitWithdrawal(ctx context.Context, req withdrawal.SubmitRequest) (*domain.WithdrawalRequest, *domain.WithdrawalDecision, error) {
	w, dec, err := o.withdrawals.Submit(ctx, req)
	if err != nil {
		return nil, dec, err
	}
	o.publish(ctx, ledger.WithdrawalEvent(w))
	return w, dec, nil
}

// ApproveWithdrawal approves a pending request.
func (o *Orchestrator) ApproveWithdrawal(ctx context.Context, requestID string, at time.Time) (*domain.WithdrawalRequest, error) {
	return o.publishWithdrawal(ctx)(o.withdrawals.Approve(ctx, requestID, at))
}

// RejectWithdrawal rejects a pending request.
func (o *Orchestrator) RejectWithdrawal(ctx context.Context, requestID, reason string, at time.Time) (*domain.WithdrawalRequest, error) {
	return o.publishWithdrawal(ctx)(o.withdrawals.Reject(ctx, requestID, reason, at))
}

// PayWithdrawal settles an approved request.
func (o *Orchestrator) PayWithdrawal(ctx context.Context, requestID string, at time.Time) (*domain.WithdrawalRequest, error) {
	return o.publishWithdrawal(ctx)(o.withdrawals.MarkPaid(ctx, requestID, at))
}

// RunPayouts executes one profit payout run and publishes the credited payouts.
func (o *Orchestrator) RunPayouts(ctx context.Context, run domain.PayoutRun, at time.Time) (*payout.Result, error) {
	res, err := o.payouts.Run(ctx, run, at)
	if err != nil {
		return nil, err
	}

	owners := make(map[string]string, len(res.Created))
	for _, p := range res.Created {
		inv, err := o.investments.GetByID(ctx, p.InvestmentID)
		if err != nil {
			return nil, fmt.Errorf("load investment %s: %w", p.InvestmentID, err)
		}
		owners[inv.ID] = inv.ParticipantID
	}
	o.publish(ctx, ledger.PayoutEvents(res.Created, func(id string) string { return owners[id] })...)
	return res, nil
}

func (o *Orchestrator) publishWithdrawal(ctx context.Context) func(*domain.WithdrawalRequest, error) (*domain.WithdrawalRequest, error) {
	return func(w *domain.WithdrawalRequest, err error) (*domain.WithdrawalRequest, error) {
		if err != nil {
			return nil, err
		}
		o.publish(ctx, ledger.WithdrawalEvent(w))
		return w, nil
	}
}

// publish hands events to the ledger. The core records are already
// committed, so a ledger failure is logged, not returned.
func (o *Orchestrator) publish(ctx context.Context, events ...*domain.LedgerEvent) {
	if len(events) == 0 {
		return
	}
	if err := o.publisher.Publish(ctx, events); err != nil {
		o.logger.Error().Err(err).Int("events", len(events)).Msg("ledger publish failed")
	}
}

func (o *Orchestrator) loadParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	p, err := o.participants.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load participant: %w", err)
	}
	return p, nil
}

func (o *Orchestrator) loadInvestment(ctx context.Context, id string) (*domain.Investment, error) {
	inv, err := o.investments.GetByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvestmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load investment: %w", err)
	}
	return inv, nil
}
