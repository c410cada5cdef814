package memory

import (
	"context"
	"sort"
	"sync"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

type slotKey struct {
	parentID string
	slot     int
}

// MatrixStore is an in-memory implementation of storage.MatrixStore.
// Attach is a compare-and-set on the (parent_id, slot_index) pair.
type MatrixStore struct {
	mu       sync.RWMutex
	nodes    map[string]*domain.MatrixNode // keyed by participant_id
	slots    map[slotKey]string            // occupied slot -> participant_id
	children map[string][]string           // parent_id -> child participant ids in seq order
	nextSeq  int64
}

// NewMatrixStore creates a new in-memory matrix store.
func NewMatrixStore() *MatrixStore {
	return &MatrixStore{
		nodes:    make(map[string]*domain.MatrixNode),
		slots:    make(map[slotKey]string),
		children: make(map[string][]string),
	}
}

// Attach inserts a node and assigns Seq.
func (s *MatrixStore) Attach(_ context.Context, n *domain.MatrixNode) (*domain.MatrixNode, error) {
	if n == nil || n.ParticipantID == "" {
		return nil, storage.ErrInvalidInput
	}
	if !n.IsRoot() && (n.SlotIndex < 0 || n.SlotIndex >= domain.MatrixWidth) {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[n.ParticipantID]; exists {
		return nil, storage.ErrDuplicateKey
	}

	if !n.IsRoot() {
		if _, exists := s.nodes[n.ParentID]; !exists {
			return nil, storage.ErrNotFound
		}
		key := slotKey{parentID: n.ParentID, slot: n.SlotIndex}
		if _, taken := s.slots[key]; taken {
			return nil, storage.ErrSlotOccupied
		}
		s.slots[key] = n.ParticipantID
		s.children[n.ParentID] = append(s.children[n.ParentID], n.ParticipantID)
	}

	s.nextSeq++
	nodeCopy := *n
	nodeCopy.Seq = s.nextSeq
	s.nodes[n.ParticipantID] = &nodeCopy

	result := nodeCopy
	return &result, nil
}

// GetByParticipant retrieves a node. Returns ErrNotFound if not placed.
func (s *MatrixStore) GetByParticipant(_ context.Context, participantID string) (*domain.MatrixNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, exists := s.nodes[participantID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	nodeCopy := *n
	return &nodeCopy, nil
}

// GetChildren retrieves children of all given parents, ordered by seq ASC.
func (s *MatrixStore) GetChildren(_ context.Context, parentIDs []string) ([]*domain.MatrixNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.MatrixNode
	for _, parentID := range parentIDs {
		for _, childID := range s.children[parentID] {
			nodeCopy := *s.nodes[childID]
			result = append(result, &nodeCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Seq < result[j].Seq
	})

	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.MatrixStore = (*MatrixStore)(nil)
