package postgres

import (
	"context"
	"fmt"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// TierHistoryStore implements storage.TierHistoryStore using PostgreSQL.
type TierHistoryStore struct {
	pool *Pool
}

// NewTierHistoryStore creates a new TierHistoryStore.
func NewTierHistoryStore(pool *Pool) *TierHistoryStore {
	return &TierHistoryStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TierHistoryStore = (*TierHistoryStore)(nil)

// Append adds an entry. Returns ErrDuplicateKey if (participant_id, tier_id) exists.
func (s *TierHistoryStore) Append(ctx context.Context, e *domain.TierHistoryEntry) error {
	if e == nil || e.ParticipantID == "" || e.TierID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tier_history (participant_id, from_tier_id, tier_id, upgraded_at, capital_at_upgrade)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := s.pool.Exec(ctx, query, e.ParticipantID, nullable(e.FromTierID), e.TierID, e.UpgradedAt, e.CapitalAtUpgrade)
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return storage.ErrNotFound
	default:
		return fmt.Errorf("append tier history: %w", err)
	}
}

// GetByParticipant retrieves entries ordered by upgraded_at ASC.
func (s *TierHistoryStore) GetByParticipant(ctx context.Context, participantID string) ([]*domain.TierHistoryEntry, error) {
	query := `
		SELECT participant_id, COALESCE(from_tier_id, ''), tier_id, upgraded_at, capital_at_upgrade
		FROM tier_history
		WHERE participant_id = $1
		ORDER BY upgraded_at ASC
	`

	rows, err := s.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, fmt.Errorf("get tier history: %w", err)
	}
	defer rows.Close()

	var result []*domain.TierHistoryEntry
	for rows.Next() {
		var e domain.TierHistoryEntry
		if err := rows.Scan(&e.ParticipantID, &e.FromTierID, &e.TierID, &e.UpgradedAt, &e.CapitalAtUpgrade); err != nil {
			return nil, fmt.Errorf("scan tier history row: %w", err)
		}
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tier history rows: %w", err)
	}
	return result, nil
}
