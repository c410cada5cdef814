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

// InvestmentStore is an in-memory implementation of storage.InvestmentStore.
type InvestmentStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Investment // keyed by id
	posted map[string]struct{}           // payout and withdrawal request ids already booked
}

// NewInvestmentStore creates a new in-memory investment store.
func NewInvestmentStore() *InvestmentStore {
	return &InvestmentStore{
		data:   make(map[string]*domain.Investment),
		posted: make(map[string]struct{}),
	}
}

// Insert adds a new investment. Returns ErrDuplicateKey if id exists.
func (s *InvestmentStore) Insert(_ context.Context, inv *domain.Investment) error {
	if inv == nil || inv.ID == "" || inv.ParticipantID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[inv.ID]; exists {
		return storage.ErrDuplicateKey
	}

	invCopy := *inv
	s.data[inv.ID] = &invCopy
	return nil
}

// GetByID retrieves an investment. Returns ErrNotFound if not exists.
func (s *InvestmentStore) GetByID(_ context.Context, id string) (*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	invCopy := *inv
	return &invCopy, nil
}

// GetByParticipant retrieves investments ordered by investment_date ASC.
func (s *InvestmentStore) GetByParticipant(_ context.Context, participantID string) ([]*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Investment
	for _, inv := range s.data {
		if inv.ParticipantID == participantID {
			invCopy := *inv
			result = append(result, &invCopy)
		}
	}

	sortInvestments(result)
	return result, nil
}

// GetActiveBefore retrieves active investments dated before t.
func (s *InvestmentStore) GetActiveBefore(_ context.Context, t time.Time) ([]*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Investment
	for _, inv := range s.data {
		if inv.Status == domain.InvestmentActive && inv.InvestmentDate.Before(t) {
			invCopy := *inv
			result = append(result, &invCopy)
		}
	}

	sortInvestments(result)
	return result, nil
}

// UpdateStatus moves status from -> to.
func (s *InvestmentStore) UpdateStatus(_ context.Context, id string, from, to domain.InvestmentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if inv.Status != from {
		return storage.ErrConflict
	}
	inv.Status = to
	return nil
}

// AddAccruedProfit credits profit to an investment once per payoutID.
func (s *InvestmentStore) AddAccruedProfit(_ context.Context, id, payoutID string, amount decimal.Decimal) (bool, error) {
	if payoutID == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return false, storage.ErrNotFound
	}
	if _, done := s.posted[payoutID]; done {
		return false, nil
	}
	inv.AccruedProfit = inv.AccruedProfit.Add(amount)
	s.posted[payoutID] = struct{}{}
	return true, nil
}

// RecordWithdrawal adds paid principal and profit once per requestID.
func (s *InvestmentStore) RecordWithdrawal(_ context.Context, id, requestID string, principal, profit decimal.Decimal) (*domain.Investment, error) {
	if requestID == "" {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if _, done := s.posted[requestID]; done {
		invCopy := *inv
		return &invCopy, nil
	}
	if inv.Status != domain.InvestmentActive {
		return nil, storage.ErrConflict
	}

	inv.WithdrawnPrincipal = inv.WithdrawnPrincipal.Add(principal)
	inv.WithdrawnProfit = inv.WithdrawnProfit.Add(profit)
	if !inv.OutstandingPrincipal().IsPositive() {
		inv.Status = domain.InvestmentWithdrawn
	}
	s.posted[requestID] = struct{}{}

	invCopy := *inv
	return &invCopy, nil
}

func sortInvestments(result []*domain.Investment) {
	sort.Slice(result, func(i, j int) bool {
		if result[i].InvestmentDate.Equal(result[j].InvestmentDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].InvestmentDate.Before(result[j].InvestmentDate)
	})
}

// Verify interface compliance at compile time.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)
