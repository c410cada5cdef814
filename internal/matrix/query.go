package matrix

import (
	"context"
	"fmt"

	"matrix-comp/internal/domain"
)

// SubtreeNode is a read-only view of one node for display collaborators.
type SubtreeNode struct {
	ParticipantID string         `json:"participant_id"`
	SlotIndex     int            `json:"slot_index"`
	Depth         int            `json:"depth"` // relative to the snapshot root
	Children      []*SubtreeNode `json:"children,omitempty"`
}

// DownlineCounts returns the number of nodes at relative depths 1..maxDepth.
// counts[0] is the number of direct children.
func (e *Engine) DownlineCounts(ctx context.Context, participantID string, maxDepth int) ([]int, error) {
	if maxDepth < 1 {
		return nil, ErrInvalidDepth
	}
	if maxDepth > MaxQueryDepth {
		maxDepth = MaxQueryDepth
	}

	root, err := e.placed(ctx, participantID)
	if err != nil {
		return nil, err
	}

	counts := make([]int, maxDepth)
	frontier := []string{root.ParticipantID}
	for level := 0; level < maxDepth && len(frontier) > 0; level++ {
		children, err := e.store.GetChildren(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load level %d: %w", level+1, err)
		}
		counts[level] = len(children)

		next := make([]string, 0, len(children))
		for _, c := range children {
			next = append(next, c.ParticipantID)
		}
		frontier = next
	}
	return counts, nil
}

// SnapshotSubtree returns the subtree rooted at the participant, down to maxDepth
// levels below it. Children are ordered by slot.
func (e *Engine) SnapshotSubtree(ctx context.Context, participantID string, maxDepth int) (*SubtreeNode, error) {
	if maxDepth < 0 {
		return nil, ErrInvalidDepth
	}
	if maxDepth > MaxQueryDepth {
		maxDepth = MaxQueryDepth
	}

	root, err := e.placed(ctx, participantID)
	if err != nil {
		return nil, err
	}

	snapshot := &SubtreeNode{ParticipantID: root.ParticipantID, SlotIndex: root.SlotIndex}
	index := map[string]*SubtreeNode{root.ParticipantID: snapshot}
	frontier := []string{root.ParticipantID}

	for level := 1; level <= maxDepth && len(frontier) > 0; level++ {
		children, err := e.store.GetChildren(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("load level %d: %w", level, err)
		}

		next := make([]string, 0, len(children))
		for _, c := range children {
			view := &SubtreeNode{ParticipantID: c.ParticipantID, SlotIndex: c.SlotIndex, Depth: level}
			parent := index[c.ParentID]
			parent.Children = insertBySlot(parent.Children, view)
			index[c.ParticipantID] = view
			next = append(next, c.ParticipantID)
		}
		frontier = next
	}

	return snapshot, nil
}

// Path returns the matrix ancestry from the participant up to its root.
func (e *Engine) Path(ctx context.Context, participantID string) ([]*domain.MatrixNode, error) {
	node, err := e.placed(ctx, participantID)
	if err != nil {
		return nil, err
	}

	path := []*domain.MatrixNode{node}
	for !node.IsRoot() {
		node, err = e.store.GetByParticipant(ctx, node.ParentID)
		if err != nil {
			return nil, fmt.Errorf("load ancestor: %w", err)
		}
		path = append(path, node)
	}
	return path, nil
}

func (e *Engine) placed(ctx context.Context, participantID string) (*domain.MatrixNode, error) {
	node, err := e.lookup(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNotPlaced
	}
	return node, nil
}

func insertBySlot(children []*SubtreeNode, n *SubtreeNode) []*SubtreeNode {
	i := len(children)
	for i > 0 && children[i-1].SlotIndex > n.SlotIndex {
		i--
	}
	children = append(children, nil)
	copy(children[i+1:], children[i:])
	children[i] = n
	return children
}
