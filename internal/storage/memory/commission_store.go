package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// CommissionStore is an in-memory implementation of storage.CommissionStore.
type CommissionStore struct {
	mu    sync.RWMutex
	runs  map[string]*domain.DistributionRun // keyed by investment_id
	rows  map[string]*domain.Commission      // keyed by commission id
	bySrc map[string][]string                // investment_id -> commission ids
}

// NewCommissionStore creates a new in-memory commission store.
func NewCommissionStore() *CommissionStore {
	return &CommissionStore{
		runs:  make(map[string]*domain.DistributionRun),
		rows:  make(map[string]*domain.Commission),
		bySrc: make(map[string][]string),
	}
}

// ClaimRun records the idempotency key for an investment, taking over an
// incomplete run claimed before staleBefore.
func (s *CommissionStore) ClaimRun(_ context.Context, investmentID string, at, staleBefore time.Time) error {
	if investmentID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if run, exists := s.runs[investmentID]; exists {
		if run.Completed || !run.ClaimedAt.Before(staleBefore) {
			return storage.ErrDuplicateKey
		}
		run.ClaimedAt = at
		return nil
	}
	s.runs[investmentID] = &domain.DistributionRun{InvestmentID: investmentID, ClaimedAt: at}
	return nil
}

// CompleteRun inserts the rows of a claimed run atomically and marks it complete.
func (s *CommissionStore) CompleteRun(_ context.Context, investmentID string, rows []*domain.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[investmentID]
	if !exists {
		return storage.ErrNotFound
	}
	if run.Completed {
		return storage.ErrDuplicateKey
	}

	// Validate whole batch before writing anything
	seen := make(map[string]struct{}, len(rows))
	for _, c := range rows {
		if c == nil || c.ID == "" || c.SourceInvestmentID != investmentID {
			return storage.ErrInvalidInput
		}
		if _, dup := seen[c.ID]; dup {
			return storage.ErrDuplicateKey
		}
		if _, dup := s.rows[c.ID]; dup {
			return storage.ErrDuplicateKey
		}
		seen[c.ID] = struct{}{}
	}

	for _, c := range rows {
		rowCopy := *c
		s.rows[c.ID] = &rowCopy
		s.bySrc[investmentID] = append(s.bySrc[investmentID], c.ID)
	}
	run.Completed = true
	run.RowCount = len(rows)
	return nil
}

// ReleaseRun drops an incomplete claim.
func (s *CommissionStore) ReleaseRun(_ context.Context, investmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[investmentID]
	if !exists {
		return storage.ErrNotFound
	}
	if run.Completed {
		return storage.ErrConflict
	}
	delete(s.runs, investmentID)
	return nil
}

// GetRun retrieves the run record.
func (s *CommissionStore) GetRun(_ context.Context, investmentID string) (*domain.DistributionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[investmentID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	runCopy := *run
	return &runCopy, nil
}

// GetBySourceInvestment retrieves rows ordered by level ASC.
func (s *CommissionStore) GetBySourceInvestment(_ context.Context, investmentID string) ([]*domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySrc[investmentID]
	result := make([]*domain.Commission, 0, len(ids))
	for _, id := range ids {
		rowCopy := *s.rows[id]
		result = append(result, &rowCopy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Level < result[j].Level
	})

	return result, nil
}

// GetByRecipient retrieves rows ordered by created_at ASC, level ASC.
func (s *CommissionStore) GetByRecipient(_ context.Context, recipientID string) ([]*domain.Commission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Commission
	for _, c := range s.rows {
		if c.RecipientID == recipientID {
			rowCopy := *c
			result = append(result, &rowCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			if result[i].Level == result[j].Level {
				return result[i].ID < result[j].ID
			}
			return result[i].Level < result[j].Level
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// MarkPaid moves a pending or capped row to paid.
func (s *CommissionStore) MarkPaid(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.rows[id]
	if !exists {
		return storage.ErrNotFound
	}
	if c.Status == domain.CommissionPaid {
		return storage.ErrConflict
	}
	c.Status = domain.CommissionPaid
	return nil
}

// Verify interface compliance at compile time.
var _ storage.CommissionStore = (*CommissionStore)(nil)
