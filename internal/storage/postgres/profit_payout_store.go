package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// ProfitPayoutStore implements storage.ProfitPayoutStore using PostgreSQL.
type ProfitPayoutStore struct {
	pool *Pool
}

// NewProfitPayoutStore creates a new ProfitPayoutStore.
func NewProfitPayoutStore(pool *Pool) *ProfitPayoutStore {
	return &ProfitPayoutStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProfitPayoutStore = (*ProfitPayoutStore)(nil)

const payoutColumns = `id, run_id, investment_id, tier_id, principal, rate, amount, created_at`

// Insert adds a payout. Returns ErrDuplicateKey if id or (run_id, investment_id) exists.
func (s *ProfitPayoutStore) Insert(ctx context.Context, p *domain.ProfitPayout) error {
	if p == nil || p.ID == "" || p.RunID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO profit_payouts (`+payoutColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.RunID, p.InvestmentID, p.TierID, p.Principal, p.Rate, p.Amount, p.CreatedAt,
	)
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	default:
		return fmt.Errorf("insert profit payout: %w", err)
	}
}

// GetByRun retrieves payouts for a run ordered by investment_id ASC.
func (s *ProfitPayoutStore) GetByRun(ctx context.Context, runID string) ([]*domain.ProfitPayout, error) {
	return s.query(ctx, "get payouts by run",
		`SELECT `+payoutColumns+` FROM profit_payouts WHERE run_id = $1 ORDER BY investment_id ASC`, runID)
}

// GetByInvestment retrieves payouts ordered by created_at ASC.
func (s *ProfitPayoutStore) GetByInvestment(ctx context.Context, investmentID string) ([]*domain.ProfitPayout, error) {
	return s.query(ctx, "get payouts by investment",
		`SELECT `+payoutColumns+` FROM profit_payouts WHERE investment_id = $1 ORDER BY created_at ASC, id ASC`, investmentID)
}

func (s *ProfitPayoutStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.ProfitPayout, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.ProfitPayout, error) {
		var p domain.ProfitPayout
		err := row.Scan(&p.ID, &p.RunID, &p.InvestmentID, &p.TierID, &p.Principal, &p.Rate, &p.Amount, &p.CreatedAt)
		return &p, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan payout rows: %w", err)
	}
	return result, nil
}
