package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// LedgerEventStore implements storage.LedgerEventStore using ClickHouse.
// The table is a ReplacingMergeTree on event_id, so reads use FINAL.
type LedgerEventStore struct {
	conn *Conn
}

// NewLedgerEventStore creates a new LedgerEventStore.
func NewLedgerEventStore(conn *Conn) *LedgerEventStore {
	return &LedgerEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)

// InsertBulk appends events. Fails the whole batch if any event_id is
// repeated in the batch or already stored.
func (s *LedgerEventStore) InsertBulk(ctx context.Context, events []*domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}

	ids := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[e.EventID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
		ids = append(ids, e.EventID)
	}

	var existing uint64
	if err := s.conn.QueryRow(ctx, `SELECT count() FROM ledger_events FINAL WHERE event_id IN ?`, ids).Scan(&existing); err != nil {
		return fmt.Errorf("check existing events: %w", err)
	}
	if existing > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ledger_events (
			event_id, type, participant_id, investment_id, reference_id,
			amount, status, detail, occurred_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err := batch.Append(
			e.EventID, string(e.Type), e.ParticipantID, e.InvestmentID, e.ReferenceID,
			e.Amount, e.Status, e.Detail, e.OccurredAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByParticipant retrieves events ordered by occurred_at ASC, event_id ASC.
func (s *LedgerEventStore) GetByParticipant(ctx context.Context, participantID string) ([]*domain.LedgerEvent, error) {
	query := `
		SELECT
			event_id, type, participant_id, investment_id, reference_id,
			amount, status, detail, occurred_at
		FROM ledger_events FINAL
		WHERE participant_id = ?
		ORDER BY occurred_at ASC, event_id ASC
	`

	rows, err := s.conn.Query(ctx, query, participantID)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	var events []*domain.LedgerEvent
	for rows.Next() {
		var e domain.LedgerEvent
		var eventType string
		if err := rows.Scan(
			&e.EventID, &eventType, &e.ParticipantID, &e.InvestmentID, &e.ReferenceID,
			&e.Amount, &e.Status, &e.Detail, &e.OccurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		e.Type = domain.LedgerEventType(eventType)
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

// CommissionTotal sums COMMISSION amounts for a participant in [start, end).
func (s *LedgerEventStore) CommissionTotal(ctx context.Context, participantID string, start, end time.Time) (decimal.Decimal, error) {
	query := `
		SELECT toString(sum(amount))
		FROM ledger_events FINAL
		WHERE participant_id = ? AND type = ? AND occurred_at >= ? AND occurred_at < ?
	`

	var raw string
	err := s.conn.QueryRow(ctx, query, participantID, string(domain.EventCommission), start.UTC(), end.UTC()).Scan(&raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum commissions: %w", err)
	}
	total, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse commission total %q: %w", raw, err)
	}
	return total, nil
}
