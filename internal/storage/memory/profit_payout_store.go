package memory

import (
	"context"
	"sort"
	"sync"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// ProfitPayoutStore is an in-memory implementation of storage.ProfitPayoutStore.
type ProfitPayoutStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ProfitPayout // keyed by id
}

// NewProfitPayoutStore creates a new in-memory payout store.
func NewProfitPayoutStore() *ProfitPayoutStore {
	return &ProfitPayoutStore{
		data: make(map[string]*domain.ProfitPayout),
	}
}

// Insert adds a payout. Returns ErrDuplicateKey if id exists.
func (s *ProfitPayoutStore) Insert(_ context.Context, p *domain.ProfitPayout) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	payoutCopy := *p
	s.data[p.ID] = &payoutCopy
	return nil
}

// GetByRun retrieves payouts for a run ordered by investment_id ASC.
func (s *ProfitPayoutStore) GetByRun(_ context.Context, runID string) ([]*domain.ProfitPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ProfitPayout
	for _, p := range s.data {
		if p.RunID == runID {
			payoutCopy := *p
			result = append(result, &payoutCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].InvestmentID < result[j].InvestmentID
	})

	return result, nil
}

// GetByInvestment retrieves payouts ordered by created_at ASC.
func (s *ProfitPayoutStore) GetByInvestment(_ context.Context, investmentID string) ([]*domain.ProfitPayout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ProfitPayout
	for _, p := range s.data {
		if p.InvestmentID == investmentID {
			payoutCopy := *p
			result = append(result, &payoutCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].RunID < result[j].RunID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.ProfitPayoutStore = (*ProfitPayoutStore)(nil)
