package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// ParticipantStore implements storage.ParticipantStore using PostgreSQL.
type ParticipantStore struct {
	pool *Pool
}

// NewParticipantStore creates a new ParticipantStore.
func NewParticipantStore(pool *Pool) *ParticipantStore {
	return &ParticipantStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ParticipantStore = (*ParticipantStore)(nil)

const participantColumns = `
	id, COALESCE(referrer_id, ''), referral_code, COALESCE(current_tier_id, ''),
	cumulative_capital, joined_at
`

// Insert adds a new participant. Returns ErrDuplicateKey if id or referral code exists.
func (s *ParticipantStore) Insert(ctx context.Context, p *domain.Participant) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO participants (
			id, referrer_id, referral_code, current_tier_id, cumulative_capital, joined_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		p.ID,
		nullable(p.ReferrerID),
		p.ReferralCode,
		nullable(p.CurrentTierID),
		p.CumulativeCapital,
		p.JoinedAt,
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
		return fmt.Errorf("insert participant: %w", err)
	}
}

// GetByID retrieves a participant. Returns ErrNotFound if not exists.
func (s *ParticipantStore) GetByID(ctx context.Context, id string) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`

	p, err := scanParticipant(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get participant by id: %w", err)
	}
	return p, nil
}

// GetByReferralCode retrieves a participant by referral code.
func (s *ParticipantStore) GetByReferralCode(ctx context.Context, code string) (*domain.Participant, error) {
	query := `SELECT ` + participantColumns + ` FROM participants WHERE referral_code = $1`

	p, err := scanParticipant(s.pool.QueryRow(ctx, query, code))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get participant by referral code: %w", err)
	}
	return p, nil
}

// GetByReferrer retrieves direct referrals, ordered by joined_at ASC.
func (s *ParticipantStore) GetByReferrer(ctx context.Context, referrerID string) ([]*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM participants
		WHERE referrer_id = $1
		ORDER BY joined_at ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, referrerID)
	if err != nil {
		return nil, fmt.Errorf("get participants by referrer: %w", err)
	}
	defer rows.Close()

	var result []*domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant row: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant rows: %w", err)
	}
	return result, nil
}

// AddCapital atomically adds delta to cumulative capital.
func (s *ParticipantStore) AddCapital(ctx context.Context, id string, delta decimal.Decimal) (*domain.Participant, error) {
	query := `
		UPDATE participants SET cumulative_capital = cumulative_capital + $2
		WHERE id = $1
		RETURNING ` + participantColumns

	p, err := scanParticipant(s.pool.QueryRow(ctx, query, id, delta))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("add capital: %w", err)
	}
	return p, nil
}

// ApplyCapital adds amount to cumulative capital once per investmentID.
// The capital_postings row and the balance change commit together.
func (s *ParticipantStore) ApplyCapital(ctx context.Context, id, investmentID string, amount decimal.Decimal) (*domain.Participant, bool, error) {
	if investmentID == "" {
		return nil, false, storage.ErrInvalidInput
	}

	var (
		p       *domain.Participant
		applied bool
	)
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO capital_postings (investment_id, participant_id, amount)
			VALUES ($1, $2, $3)
			ON CONFLICT (investment_id) DO NOTHING
		`, investmentID, id, amount)
		if err != nil {
			if isForeignKeyError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert capital posting: %w", err)
		}
		applied = tag.RowsAffected() == 1

		query := `SELECT ` + participantColumns + ` FROM participants WHERE id = $1`
		args := []any{id}
		if applied {
			query = `
				UPDATE participants SET cumulative_capital = cumulative_capital + $2
				WHERE id = $1
				RETURNING ` + participantColumns
			args = append(args, amount)
		}
		p, err = scanParticipant(tx.QueryRow(ctx, query, args...))
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("apply capital: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return p, applied, nil
}

// SetTier moves current_tier_id from fromTierID to toTierID.
// Returns ErrConflict if the current tier is no longer fromTierID.
func (s *ParticipantStore) SetTier(ctx context.Context, id, fromTierID, toTierID string) error {
	query := `
		UPDATE participants SET current_tier_id = $3
		WHERE id = $1 AND COALESCE(current_tier_id, '') = $2
	`

	tag, err := s.pool.Exec(ctx, query, id, fromTierID, nullable(toTierID))
	if err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.existsOrNotFound(ctx, id)
}

func (s *ParticipantStore) existsOrNotFound(ctx context.Context, id string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check participant: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	err := row.Scan(
		&p.ID,
		&p.ReferrerID,
		&p.ReferralCode,
		&p.CurrentTierID,
		&p.CumulativeCapital,
		&p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
