package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// CommissionStore implements storage.CommissionStore using PostgreSQL.
// distribution_runs.investment_id is the idempotency key of a distribution.
type CommissionStore struct {
	pool *Pool
}

// NewCommissionStore creates a new CommissionStore.
func NewCommissionStore(pool *Pool) *CommissionStore {
	return &CommissionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CommissionStore = (*CommissionStore)(nil)

const commissionColumns = `
	id, recipient_id, source_investment_id, source_participant_id, level,
	rate_applied, gross_amount, capped_amount, status, created_at
`

// ClaimRun records the idempotency key. An incomplete run claimed before
// staleBefore is taken over. Returns ErrDuplicateKey if completed or freshly claimed.
func (s *CommissionStore) ClaimRun(ctx context.Context, investmentID string, at, staleBefore time.Time) error {
	if investmentID == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO distribution_runs (investment_id, claimed_at) VALUES ($1, $2)
		ON CONFLICT (investment_id) DO UPDATE SET claimed_at = EXCLUDED.claimed_at
		WHERE NOT distribution_runs.completed AND distribution_runs.claimed_at < $3
	`, investmentID, at, staleBefore)
	switch {
	case err == nil && tag.RowsAffected() == 1:
		return nil
	case err == nil:
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	default:
		return fmt.Errorf("claim distribution run: %w", err)
	}
}

// CompleteRun inserts the rows of a claimed run and marks it complete in one transaction.
func (s *CommissionStore) CompleteRun(ctx context.Context, investmentID string, rows []*domain.Commission) error {
	for _, c := range rows {
		if c == nil || c.ID == "" || c.SourceInvestmentID != investmentID {
			return storage.ErrInvalidInput
		}
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		var completed bool
		err := tx.QueryRow(ctx,
			`SELECT completed FROM distribution_runs WHERE investment_id = $1 FOR UPDATE`,
			investmentID,
		).Scan(&completed)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock distribution run: %w", err)
		}
		if completed {
			return storage.ErrDuplicateKey
		}

		query := `
			INSERT INTO commissions (` + commissionColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`
		for _, c := range rows {
			_, err := tx.Exec(ctx, query,
				c.ID,
				c.RecipientID,
				c.SourceInvestmentID,
				c.SourceParticipantID,
				c.Level,
				c.RateApplied,
				c.GrossAmount,
				c.CappedAmount,
				string(c.Status),
				c.CreatedAt,
			)
			switch {
			case err == nil:
			case isDuplicateKeyError(err):
				return storage.ErrDuplicateKey
			case isCheckError(err) || isForeignKeyError(err):
				return storage.ErrInvalidInput
			default:
				return fmt.Errorf("insert commission %s: %w", c.ID, err)
			}
		}

		_, err = tx.Exec(ctx,
			`UPDATE distribution_runs SET completed = TRUE, row_count = $2 WHERE investment_id = $1`,
			investmentID, len(rows),
		)
		if err != nil {
			return fmt.Errorf("complete distribution run: %w", err)
		}
		return nil
	})
}

// ReleaseRun drops an incomplete claim. Returns ErrConflict if the run completed.
func (s *CommissionStore) ReleaseRun(ctx context.Context, investmentID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM distribution_runs WHERE investment_id = $1 AND NOT completed`,
		investmentID,
	)
	if err != nil {
		return fmt.Errorf("release distribution run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetRun(ctx, investmentID); err != nil {
		return err
	}
	return storage.ErrConflict
}

// GetRun retrieves the run record.
func (s *CommissionStore) GetRun(ctx context.Context, investmentID string) (*domain.DistributionRun, error) {
	var run domain.DistributionRun
	err := s.pool.QueryRow(ctx,
		`SELECT investment_id, claimed_at, completed, row_count FROM distribution_runs WHERE investment_id = $1`,
		investmentID,
	).Scan(&run.InvestmentID, &run.ClaimedAt, &run.Completed, &run.RowCount)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution run: %w", err)
	}
	return &run, nil
}

// GetBySourceInvestment retrieves rows ordered by level ASC.
func (s *CommissionStore) GetBySourceInvestment(ctx context.Context, investmentID string) ([]*domain.Commission, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE source_investment_id = $1
		ORDER BY level ASC
	`
	return s.query(ctx, "get commissions by source", query, investmentID)
}

// GetByRecipient retrieves rows ordered by created_at ASC, level ASC.
func (s *CommissionStore) GetByRecipient(ctx context.Context, recipientID string) ([]*domain.Commission, error) {
	query := `
		SELECT ` + commissionColumns + `
		FROM commissions
		WHERE recipient_id = $1
		ORDER BY created_at ASC, level ASC, id ASC
	`
	return s.query(ctx, "get commissions by recipient", query, recipientID)
}

// MarkPaid moves a pending or capped row to paid. Returns ErrConflict if already paid.
func (s *CommissionStore) MarkPaid(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE commissions SET status = 'paid' WHERE id = $1 AND status <> 'paid'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("mark commission paid: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM commissions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check commission: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func (s *CommissionStore) query(ctx context.Context, op, query string, args ...any) ([]*domain.Commission, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := []*domain.Commission{}
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan commission row: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commission rows: %w", err)
	}
	return result, nil
}

func scanCommission(row pgx.Row) (*domain.Commission, error) {
	var c domain.Commission
	var level int16
	var status string
	err := row.Scan(
		&c.ID,
		&c.RecipientID,
		&c.SourceInvestmentID,
		&c.SourceParticipantID,
		&level,
		&c.RateApplied,
		&c.GrossAmount,
		&c.CappedAmount,
		&status,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Level = int(level)
	c.Status = domain.CommissionStatus(status)
	return &c, nil
}
