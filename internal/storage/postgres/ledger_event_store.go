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

// LedgerEventStore implements storage.LedgerEventStore using PostgreSQL.
// It is the system of record for audit events; ClickHouse holds a copy for analytics.
type LedgerEventStore struct {
	pool *Pool
}

// NewLedgerEventStore creates a new LedgerEventStore.
func NewLedgerEventStore(pool *Pool) *LedgerEventStore {
	return &LedgerEventStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)

// InsertBulk adds events atomically. Fails entire batch on duplicate event_id.
func (s *LedgerEventStore) InsertBulk(ctx context.Context, events []*domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	query := `
		INSERT INTO ledger_events (
			event_id, type, participant_id, investment_id, reference_id, amount, status, detail, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query,
			e.EventID,
			string(e.Type),
			e.ParticipantID,
			e.InvestmentID,
			e.ReferenceID,
			e.Amount,
			e.Status,
			e.Detail,
			e.OccurredAt,
		)
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("insert ledger events: %w", err)
		}
		return nil
	})
}

// GetByParticipant retrieves events ordered by occurred_at ASC.
func (s *LedgerEventStore) GetByParticipant(ctx context.Context, participantID string) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT event_id, type, participant_id, investment_id, reference_id, amount, status, detail, occurred_at
		FROM ledger_events
		WHERE participant_id = $1
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := s.pool.Query(ctx, query, participantID)
	if err != nil {
		return nil, fmt.Errorf("get ledger events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*domain.LedgerEvent, error) {
		var e domain.LedgerEvent
		var eventType string
		err := row.Scan(&e.EventID, &eventType, &e.ParticipantID, &e.InvestmentID, &e.ReferenceID,
			&e.Amount, &e.Status, &e.Detail, &e.OccurredAt)
		e.Type = domain.LedgerEventType(eventType)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan ledger events: %w", err)
	}
	return events, nil
}

// CommissionTotal sums COMMISSION amounts for a participant in [start, end).
func (s *LedgerEventStore) CommissionTotal(ctx context.Context, participantID string, start, end time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM ledger_events
		WHERE participant_id = $1 AND type = $2 AND occurred_at >= $3 AND occurred_at < $4
	`

	total := decimal.Zero
	if err := s.pool.QueryRow(ctx, query, participantID, string(domain.EventCommission), start, end).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("sum commissions: %w", err)
	}
	return total, nil
}
