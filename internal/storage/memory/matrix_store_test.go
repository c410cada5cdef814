package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

func TestMatrixStore_AttachAssignsSeq(t *testing.T) {
	store := NewMatrixStore()
	ctx := context.Background()

	root, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "a", SlotIndex: domain.RootSlot})
	if err != nil {
		t.Fatalf("Attach root failed: %v", err)
	}
	child, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "b", ParentID: "a", SlotIndex: 0, Depth: 1})
	if err != nil {
		t.Fatalf("Attach child failed: %v", err)
	}

	if root.Seq != 1 || child.Seq != 2 {
		t.Errorf("Seq mismatch: got %d, %d want 1, 2", root.Seq, child.Seq)
	}
}

func TestMatrixStore_SlotOccupied(t *testing.T) {
	store := NewMatrixStore()
	ctx := context.Background()

	if _, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "a", SlotIndex: domain.RootSlot}); err != nil {
		t.Fatalf("Attach root failed: %v", err)
	}
	if _, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "b", ParentID: "a", SlotIndex: 0}); err != nil {
		t.Fatalf("Attach b failed: %v", err)
	}

	_, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "c", ParentID: "a", SlotIndex: 0})
	if !errors.Is(err, storage.ErrSlotOccupied) {
		t.Errorf("Expected ErrSlotOccupied, got %v", err)
	}

	_, err = store.Attach(ctx, &domain.MatrixNode{ParticipantID: "b", ParentID: "a", SlotIndex: 1})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestMatrixStore_InvalidSlotAndMissingParent(t *testing.T) {
	store := NewMatrixStore()
	ctx := context.Background()

	_, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "b", ParentID: "a", SlotIndex: 3})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}

	_, err = store.Attach(ctx, &domain.MatrixNode{ParticipantID: "b", ParentID: "missing", SlotIndex: 0})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestMatrixStore_ConcurrentAttachSameSlot(t *testing.T) {
	store := NewMatrixStore()
	ctx := context.Background()

	if _, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: "root", SlotIndex: domain.RootSlot}); err != nil {
		t.Fatalf("Attach root failed: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_, err := store.Attach(ctx, &domain.MatrixNode{ParticipantID: id, ParentID: "root", SlotIndex: 1})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly 1 winner, got %d", wins)
	}
}

func TestMatrixStore_GetChildrenOrderedBySeq(t *testing.T) {
	store := NewMatrixStore()
	ctx := context.Background()

	nodes := []*domain.MatrixNode{
		{ParticipantID: "r", SlotIndex: domain.RootSlot},
		{ParticipantID: "x", ParentID: "r", SlotIndex: 2},
		{ParticipantID: "y", ParentID: "r", SlotIndex: 0},
		{ParticipantID: "z", ParentID: "x", SlotIndex: 0},
		{ParticipantID: "w", ParentID: "y", SlotIndex: 0},
	}
	for _, n := range nodes {
		if _, err := store.Attach(ctx, n); err != nil {
			t.Fatalf("Attach %s failed: %v", n.ParticipantID, err)
		}
	}

	children, err := store.GetChildren(ctx, []string{"y", "x"})
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(children))
	}
	if children[0].ParticipantID != "z" || children[1].ParticipantID != "w" {
		t.Errorf("Order mismatch: got %s, %s", children[0].ParticipantID, children[1].ParticipantID)
	}
}
