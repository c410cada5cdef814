package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"matrix-comp/internal/catalog"
	"matrix-comp/internal/commission"
	"matrix-comp/internal/compliance"
	"matrix-comp/internal/domain"
	"matrix-comp/internal/ledger"
	"matrix-comp/internal/matrix"
	"matrix-comp/internal/payout"
	"matrix-comp/internal/storage"
	"matrix-comp/internal/storage/memory"
	"matrix-comp/internal/tier"
	"matrix-comp/internal/withdrawal"
)

// Stores is the full set of persistence dependencies.
type Stores struct {
	Participants storage.ParticipantStore
	TierHistory  storage.TierHistoryStore
	Matrix       storage.MatrixStore
	Investments  storage.InvestmentStore
	Commissions  storage.CommissionStore
	Withdrawals  storage.WithdrawalStore
	CapLedger    storage.CapLedger
	Payouts      storage.ProfitPayoutStore
	Events       storage.LedgerEventStore

	// Backend labels store metrics ("memory", "postgres").
	Backend string
}

// NewMemoryStores returns in-memory stores for tests and local runs.
func NewMemoryStores() Stores {
	return Stores{
		Participants: memory.NewParticipantStore(),
		TierHistory:  memory.NewTierHistoryStore(),
		Matrix:       memory.NewMatrixStore(),
		Investments:  memory.NewInvestmentStore(),
		Commissions:  memory.NewCommissionStore(),
		Withdrawals:  memory.NewWithdrawalStore(),
		CapLedger:    memory.NewCapLedger(),
		Payouts:      memory.NewProfitPayoutStore(),
		Events:       memory.NewLedgerEventStore(),
		Backend:      "memory",
	}
}

// Settings are the business parameters shared by the engines.
type Settings struct {
	Catalog               *catalog.Catalog // nil uses catalog.Default()
	Limits                compliance.Limits
	Penalty               withdrawal.PenaltyPolicy // nil uses withdrawal.DefaultPenalty()
	MoneyScale            int32
	LockInMonths          int
	MaxLevels             int
	RequireActiveAncestor bool
	ClaimTimeout          time.Duration // commission claim takeover; 0 uses commission.DefaultClaimTimeout
	PayoutWorkers         int

	// ExtraSinks receive ledger events after the event store (live feed, analytics).
	ExtraSinks []ledger.Sink
	Logger     *zerolog.Logger
}

// Build wires every engine on top of stores.
func Build(stores Stores, s Settings) (*Orchestrator, error) {
	cat := s.Catalog
	if cat == nil {
		cat = catalog.Default()
	}

	guard, err := compliance.New(compliance.Options{
		Ledger: stores.CapLedger,
		Limits: s.Limits,
		Logger: s.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build compliance guard: %w", err)
	}

	sinks := []ledger.Sink{ledger.StoreSink{Store: stores.Events, Backend: stores.Backend}}
	sinks = append(sinks, s.ExtraSinks...)

	return New(Options{
		Participants: stores.Participants,
		Investments:  stores.Investments,
		Matrix: matrix.New(matrix.Options{
			Store:  stores.Matrix,
			Logger: s.Logger,
		}),
		Tiers: tier.New(tier.Options{
			Participants: stores.Participants,
			History:      stores.TierHistory,
			Catalog:      cat,
			Logger:       s.Logger,
		}),
		Commissions: commission.New(commission.Options{
			Participants:          stores.Participants,
			Investments:           stores.Investments,
			Commissions:           stores.Commissions,
			Guard:                 guard,
			Catalog:               cat,
			Logger:                s.Logger,
			MaxLevels:             s.MaxLevels,
			MoneyScale:            s.MoneyScale,
			RequireActiveAncestor: s.RequireActiveAncestor,
			ClaimTimeout:          s.ClaimTimeout,
		}),
		Withdrawals: withdrawal.NewService(withdrawal.Options{
			Investments: stores.Investments,
			Withdrawals: stores.Withdrawals,
			Policy:      withdrawal.NewPolicy(s.Penalty, s.MoneyScale),
			Logger:      s.Logger,
		}),
		Payouts: payout.NewRunner(payout.Options{
			Investments: stores.Investments,
			Payouts:     stores.Payouts,
			Catalog:     cat,
			Workers:     s.PayoutWorkers,
			MoneyScale:  s.MoneyScale,
			Logger:      s.Logger,
		}),
		Catalog:      cat,
		Guard:        guard,
		Publisher:    ledger.NewPublisher(s.Logger, sinks...),
		LockInMonths: s.LockInMonths,
		Logger:       s.Logger,
	}), nil
}

// Matrix returns the placement engine.
func (o *Orchestrator) Matrix() *matrix.Engine { return o.matrix }

// Tiers returns the tier engine.
func (o *Orchestrator) Tiers() *tier.Engine { return o.tiers }

// Commissions returns the commission engine.
func (o *Orchestrator) Commissions() *commission.Engine { return o.commissions }

// Withdrawals returns the withdrawal service.
func (o *Orchestrator) Withdrawals() *withdrawal.Service { return o.withdrawals }

// Catalog returns the tier catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Guard returns the compliance guard.
func (o *Orchestrator) Guard() *compliance.Guard { return o.guard }

// Participant loads a participant. Returns ErrParticipantNotFound if unknown.
func (o *Orchestrator) Participant(ctx context.Context, id string) (*domain.Participant, error) {
	return o.loadParticipant(ctx, id)
}

// Investment loads an investment. Returns ErrInvestmentNotFound if unknown.
func (o *Orchestrator) Investment(ctx context.Context, id string) (*domain.Investment, error) {
	return o.loadInvestment(ctx, id)
}

// Investments lists a participant's investments.
func (o *Orchestrator) Investments(ctx context.Context, participantID string) ([]*domain.Investment, error) {
	if _, err := o.loadParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	return o.investments.GetByParticipant(ctx, participantID)
}
