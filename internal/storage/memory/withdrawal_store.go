package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// WithdrawalStore is an in-memory implementation of storage.WithdrawalStore.
type WithdrawalStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WithdrawalRequest // keyed by id
}

// NewWithdrawalStore creates a new in-memory withdrawal store.
func NewWithdrawalStore() *WithdrawalStore {
	return &WithdrawalStore{
		data: make(map[string]*domain.WithdrawalRequest),
	}
}

// Insert adds a new request. Returns ErrDuplicateKey if id exists.
func (s *WithdrawalStore) Insert(_ context.Context, w *domain.WithdrawalRequest) error {
	if w == nil || w.ID == "" || w.InvestmentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[w.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if w.Status.IsOpen() {
		for _, other := range s.data {
			if other.InvestmentID == w.InvestmentID && other.Status.IsOpen() {
				return storage.ErrConflict
			}
		}
	}

	reqCopy := *w
	s.data[w.ID] = &reqCopy
	return nil
}

// GetByID retrieves a request. Returns ErrNotFound if not exists.
func (s *WithdrawalStore) GetByID(_ context.Context, id string) (*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	reqCopy := *w
	return &reqCopy, nil
}

// GetByInvestment retrieves requests ordered by requested_at ASC.
func (s *WithdrawalStore) GetByInvestment(_ context.Context, investmentID string) ([]*domain.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WithdrawalRequest
	for _, w := range s.data {
		if w.InvestmentID == investmentID {
			reqCopy := *w
			result = append(result, &reqCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].RequestedAt.Equal(result[j].RequestedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].RequestedAt.Before(result[j].RequestedAt)
	})

	return result, nil
}

// UpdateStatus moves status from -> to.
func (s *WithdrawalStore) UpdateStatus(_ context.Context, id string, from, to domain.WithdrawalStatus, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if w.Status != from {
		return storage.ErrConflict
	}
	w.Status = to
	w.UpdatedAt = at
	if reason != "" {
		w.Reason = reason
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.WithdrawalStore = (*WithdrawalStore)(nil)
