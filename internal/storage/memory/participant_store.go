package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// ParticipantStore is an in-memory implementation of storage.ParticipantStore.
type ParticipantStore struct {
	mu     sync.RWMutex
	data   map[string]*domain.Participant // keyed by id
	byCode map[string]string              // referral code -> id
	posted map[string]struct{}            // investment ids credited by ApplyCapital
}

// NewParticipantStore creates a new in-memory participant store.
func NewParticipantStore() *ParticipantStore {
	return &ParticipantStore{
		data:   make(map[string]*domain.Participant),
		byCode: make(map[string]string),
		posted: make(map[string]struct{}),
	}
}

// Insert adds a new participant. Returns ErrDuplicateKey if id or referral code exists.
func (s *ParticipantStore) Insert(_ context.Context, p *domain.Participant) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}
	if p.ReferralCode != "" {
		if _, exists := s.byCode[p.ReferralCode]; exists {
			return storage.ErrDuplicateKey
		}
		s.byCode[p.ReferralCode] = p.ID
	}

	// Store a copy to prevent external mutation
	participantCopy := *p
	s.data[p.ID] = &participantCopy
	return nil
}

// GetByID retrieves a participant. Returns ErrNotFound if not exists.
func (s *ParticipantStore) GetByID(_ context.Context, id string) (*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	participantCopy := *p
	return &participantCopy, nil
}

// GetByReferralCode retrieves a participant by referral code.
func (s *ParticipantStore) GetByReferralCode(ctx context.Context, code string) (*domain.Participant, error) {
	s.mu.RLock()
	id, exists := s.byCode[code]
	s.mu.RUnlock()

	if !exists {
		return nil, storage.ErrNotFound
	}
	return s.GetByID(ctx, id)
}

// GetByReferrer retrieves direct referrals, ordered by joined_at ASC.
func (s *ParticipantStore) GetByReferrer(_ context.Context, referrerID string) ([]*domain.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Participant
	for _, p := range s.data {
		if p.ReferrerID == referrerID {
			participantCopy := *p
			result = append(result, &participantCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})

	return result, nil
}

// AddCapital atomically adds delta to cumulative capital.
func (s *ParticipantStore) AddCapital(_ context.Context, id string, delta decimal.Decimal) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	p.CumulativeCapital = p.CumulativeCapital.Add(delta)

	participantCopy := *p
	return &participantCopy, nil
}

// ApplyCapital adds amount to cumulative capital once per investmentID.
func (s *ParticipantStore) ApplyCapital(_ context.Context, id, investmentID string, amount decimal.Decimal) (*domain.Participant, bool, error) {
	if investmentID == "" {
		return nil, false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[id]
	if !exists {
		return nil, false, storage.ErrNotFound
	}
	_, done := s.posted[investmentID]
	if !done {
		p.CumulativeCapital = p.CumulativeCapital.Add(amount)
		s.posted[investmentID] = struct{}{}
	}

	participantCopy := *p
	return &participantCopy, !done, nil
}

// SetTier moves current_tier_id from fromTierID to toTierID.
func (s *ParticipantStore) SetTier(_ context.Context, id, fromTierID, toTierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if p.CurrentTierID != fromTierID {
		return storage.ErrConflict
	}
	p.CurrentTierID = toTierID
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ParticipantStore = (*ParticipantStore)(nil)
