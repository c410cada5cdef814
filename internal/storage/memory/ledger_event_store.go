package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// LedgerEventStore is an in-memory implementation of storage.LedgerEventStore.
type LedgerEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.LedgerEvent // keyed by event_id
}

// NewLedgerEventStore creates a new in-memory ledger event store.
func NewLedgerEventStore() *LedgerEventStore {
	return &LedgerEventStore{
		data: make(map[string]*domain.LedgerEvent),
	}
}

// InsertBulk adds events. Fails entire batch on duplicate event_id.
func (s *LedgerEventStore) InsertBulk(_ context.Context, events []*domain.LedgerEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[e.EventID]; dup {
			return storage.ErrDuplicateKey
		}
		if _, exists := s.data[e.EventID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.EventID] = struct{}{}
	}

	for _, e := range events {
		eventCopy := *e
		s.data[e.EventID] = &eventCopy
	}
	return nil
}

// GetByParticipant retrieves events ordered by occurred_at ASC.
func (s *LedgerEventStore) GetByParticipant(_ context.Context, participantID string) ([]*domain.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.LedgerEvent
	for _, e := range s.data {
		if e.ParticipantID == participantID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].EventID < result[j].EventID
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})

	return result, nil
}

// CommissionTotal sums COMMISSION amounts for a participant in [start, end).
func (s *LedgerEventStore) CommissionTotal(_ context.Context, participantID string, start, end time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, e := range s.data {
		if e.Type != domain.EventCommission || e.ParticipantID != participantID {
			continue
		}
		if e.OccurredAt.Before(start) || !e.OccurredAt.Before(end) {
			continue
		}
		total = total.Add(e.Amount)
	}
	return total, nil
}

// Verify interface compliance at compile time.
var _ storage.LedgerEventStore = (*LedgerEventStore)(nil)
