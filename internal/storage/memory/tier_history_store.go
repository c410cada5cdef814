package memory

import (
	"context"
	"sort"
	"sync"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// TierHistoryStore is an in-memory implementation of storage.TierHistoryStore.
type TierHistoryStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.TierHistoryEntry // keyed by participant_id
}

// NewTierHistoryStore creates a new in-memory tier history store.
func NewTierHistoryStore() *TierHistoryStore {
	return &TierHistoryStore{
		data: make(map[string][]*domain.TierHistoryEntry),
	}
}

// Append adds an entry. Returns ErrDuplicateKey if (participant_id, tier_id) exists.
func (s *TierHistoryStore) Append(_ context.Context, e *domain.TierHistoryEntry) error {
	if e == nil || e.ParticipantID == "" || e.TierID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.data[e.ParticipantID] {
		if existing.TierID == e.TierID {
			return storage.ErrDuplicateKey
		}
	}

	entryCopy := *e
	s.data[e.ParticipantID] = append(s.data[e.ParticipantID], &entryCopy)
	return nil
}

// GetByParticipant retrieves entries ordered by upgraded_at ASC.
func (s *TierHistoryStore) GetByParticipant(_ context.Context, participantID string) ([]*domain.TierHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.data[participantID]
	result := make([]*domain.TierHistoryEntry, 0, len(entries))
	for _, e := range entries {
		entryCopy := *e
		result = append(result, &entryCopy)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].UpgradedAt.Before(result[j].UpgradedAt)
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TierHistoryStore = (*TierHistoryStore)(nil)
