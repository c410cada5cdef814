package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// WithdrawalStore implements storage.WithdrawalStore using PostgreSQL.
type WithdrawalStore struct {
	pool *Pool
}

// NewWithdrawalStore creates a new WithdrawalStore.
func NewWithdrawalStore(pool *Pool) *WithdrawalStore {
	return &WithdrawalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WithdrawalStore = (*WithdrawalStore)(nil)

const withdrawalColumns = `
	id, investment_id, participant_id, type, requested_amount, penalty_amount, net_amount,
	status, requested_at, updated_at, reason
`

// Insert adds a new request. Returns ErrDuplicateKey if id exists and
// ErrConflict if the investment already has an open request.
func (s *WithdrawalStore) Insert(ctx context.Context, w *domain.WithdrawalRequest) error {
	if w == nil || w.ID == "" || w.InvestmentID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.pool.Exec(ctx, query,
		w.ID,
		w.InvestmentID,
		w.ParticipantID,
		string(w.Type),
		w.RequestedAmount,
		w.PenaltyAmount,
		w.NetAmount,
		string(w.Status),
		w.RequestedAt,
		w.UpdatedAt,
		w.Reason,
	)
	switch {
	case err == nil:
		return nil
	case isConstraintViolation(err, "uq_withdrawal_requests_open"):
		return storage.ErrConflict
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	case isCheckError(err):
		return storage.ErrInvalidInput
	default:
		return fmt.Errorf("insert withdrawal: %w", err)
	}
}

// GetByID retrieves a request. Returns ErrNotFound if not exists.
func (s *WithdrawalStore) GetByID(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

	w, err := scanWithdrawal(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get withdrawal by id: %w", err)
	}
	return w, nil
}

// GetByInvestment retrieves requests ordered by requested_at ASC.
func (s *WithdrawalStore) GetByInvestment(ctx context.Context, investmentID string) ([]*domain.WithdrawalRequest, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE investment_id = $1
		ORDER BY requested_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, investmentID)
	if err != nil {
		return nil, fmt.Errorf("get withdrawals by investment: %w", err)
	}
	defer rows.Close()

	var result []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan withdrawal row: %w", err)
		}
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate withdrawal rows: %w", err)
	}
	return result, nil
}

// UpdateStatus moves status from -> to. Returns ErrConflict if the status is no longer from.
// A non-empty reason replaces the stored one.
func (s *WithdrawalStore) UpdateStatus(ctx context.Context, id string, from, to domain.WithdrawalStatus, at time.Time, reason string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $3, updated_at = $4, reason = CASE WHEN $5::text = '' THEN reason ELSE $5::text END
		WHERE id = $1 AND status = $2
	`

	tag, err := s.pool.Exec(ctx, query, id, string(from), string(to), at, reason)
	if err != nil {
		return fmt.Errorf("update withdrawal status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	return storage.ErrConflict
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var w domain.WithdrawalRequest
	var wType, status string
	err := row.Scan(
		&w.ID,
		&w.InvestmentID,
		&w.ParticipantID,
		&wType,
		&w.RequestedAmount,
		&w.PenaltyAmount,
		&w.NetAmount,
		&status,
		&w.RequestedAt,
		&w.UpdatedAt,
		&w.Reason,
	)
	if err != nil {
		return nil, err
	}
	w.Type = domain.WithdrawalType(wType)
	w.Status = domain.WithdrawalStatus(status)
	return &w, nil
}
