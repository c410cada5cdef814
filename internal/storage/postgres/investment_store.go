package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// InvestmentStore implements storage.InvestmentStore using PostgreSQL.
type InvestmentStore struct {
	pool *Pool
}

// NewInvestmentStore creates a new InvestmentStore.
func NewInvestmentStore(pool *Pool) *InvestmentStore {
	return &InvestmentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)

const investmentColumns = `
	id, participant_id, tier_id_at_time, amount, status, investment_date, lock_in_end_date,
	is_tier_upgrade, accrued_profit, withdrawn_principal, withdrawn_profit
`

// Insert adds a new investment. Returns ErrDuplicateKey if id exists.
func (s *InvestmentStore) Insert(ctx context.Context, inv *domain.Investment) error {
	if inv == nil || inv.ID == "" || inv.ParticipantID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO investments (` + investmentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		inv.ID,
		inv.ParticipantID,
		inv.TierIDAtTime,
		inv.Amount,
		string(inv.Status),
		inv.InvestmentDate,
		inv.LockInEndDate,
		inv.IsTierUpgrade,
		inv.AccruedProfit,
		inv.WithdrawnPrincipal,
		inv.WithdrawnProfit,
	)
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	case isCheckError(err):
		return storage.ErrInvalidInput
	default:
		return fmt.Errorf("insert investment: %w", err)
	}
}

// GetByID retrieves an investment. Returns ErrNotFound if not exists.
func (s *InvestmentStore) GetByID(ctx context.Context, id string) (*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE id = $1`

	inv, err := scanInvestment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get investment by id: %w", err)
	}
	return inv, nil
}

// GetByParticipant retrieves investments ordered by investment_date ASC.
func (s *InvestmentStore) GetByParticipant(ctx context.Context, participantID string) ([]*domain.Investment, error) {
	query := `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE participant_id = $1
		ORDER BY investment_date ASC, id ASC
	`
	return s.query(ctx, "get investments by participant", query, participantID)
}

// GetActiveBefore retrieves active investments dated before t.
func (s *InvestmentStore) GetActiveBefore(ctx context.Context, t time.Time) ([]*domain.Investment, error) {
	query := `
		SELECT ` + investmentColumns + `
		FROM investments
		WHERE status = 'active' AND investment_date < $1
		ORDER BY investment_date ASC, id ASC
	`
	return s.query(ctx, "get active investments", query, t)
}

// UpdateStatus moves status from -> to. Returns ErrConflict if the status is no longer from.
func (s *InvestmentStore) UpdateStatus(ctx context.Context, id string, from, to domain.InvestmentStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE investments SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to),
	)
	if err != nil {
		return fmt.Errorf("update investment status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.existsOrNotFound(ctx, id)
}

// AddAccruedProfit credits profit to an investment once per payoutID.
func (s *InvestmentStore) AddAccruedProfit(ctx context.Context, id, payoutID string, amount decimal.Decimal) (bool, error) {
	if payoutID == "" {
		return false, storage.ErrInvalidInput
	}

	var applied bool
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := insertPosting(ctx, tx, payoutID, id, "profit_accrual", decimal.Zero, amount)
		if err != nil || !ok {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE investments SET accrued_profit = accrued_profit + $2 WHERE id = $1`,
			id, amount,
		)
		if err != nil {
			return fmt.Errorf("add accrued profit: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrNotFound
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// RecordWithdrawal adds paid principal and profit to an active investment
// once per requestID and moves it to withdrawn once no principal is
// outstanding.
func (s *InvestmentStore) RecordWithdrawal(ctx context.Context, id, requestID string, principal, profit decimal.Decimal) (*domain.Investment, error) {
	if requestID == "" {
		return nil, storage.ErrInvalidInput
	}

	var inv *domain.Investment
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		ok, err := insertPosting(ctx, tx, requestID, id, "withdrawal", principal, profit)
		if err != nil {
			return err
		}
		if !ok {
			inv, err = scanInvestment(tx.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id))
			if err != nil {
				return fmt.Errorf("load settled investment: %w", err)
			}
			return nil
		}

		query := `
			UPDATE investments SET
				withdrawn_principal = withdrawn_principal + $2,
				withdrawn_profit    = withdrawn_profit + $3,
				status = CASE WHEN amount - (withdrawn_principal + $2) <= 0 THEN 'withdrawn' ELSE status END
			WHERE id = $1 AND status = 'active'
			RETURNING ` + investmentColumns

		inv, err = scanInvestment(tx.QueryRow(ctx, query, id, principal, profit))
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrConflict
			}
			return fmt.Errorf("record withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// insertPosting claims postingID for one balance change. It reports false
// when the posting already exists and ErrNotFound when the investment does not.
func insertPosting(ctx context.Context, tx pgx.Tx, postingID, investmentID, kind string, principal, profit decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO investment_postings (posting_id, investment_id, kind, principal, profit)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (posting_id) DO NOTHING
	`, postingID, investmentID, kind, principal, profit)
	if err != nil {
		if isForeignKeyError(err) {
			return false, storage.ErrNotFound
		}
		return false, fmt.Errorf("insert %s posting: %w", kind, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *InvestmentStore) existsOrNotFound(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM investments WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check investment: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *InvestmentStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Investment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []*domain.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investment row: %w", err)
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investment rows: %w", err)
	}
	return result, nil
}

func scanInvestment(row pgx.Row) (*domain.Investment, error) {
	var inv domain.Investment
	var status string
	err := row.Scan(
		&inv.ID,
		&inv.ParticipantID,
		&inv.TierIDAtTime,
		&inv.Amount,
		&status,
		&inv.InvestmentDate,
		&inv.LockInEndDate,
		&inv.IsTierUpgrade,
		&inv.AccruedProfit,
		&inv.WithdrawnPrincipal,
		&inv.WithdrawnProfit,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvestmentStatus(status)
	return &inv, nil
}
