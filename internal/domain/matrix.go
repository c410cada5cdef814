package domain

import "time"

// MatrixWidth is the branching factor of the placement tree.
const MatrixWidth = 3

// RootSlot is the slot index recorded for tree roots.
const RootSlot = -1

// MatrixNode is a participant's single, immutable position in the matrix tree.
// Corresponds to matrix_nodes table in PostgreSQL.
type MatrixNode struct {
	ParticipantID string // node identity, one node per participant
	ParentID      string // parent node participant, empty for roots
	SlotIndex     int    // 0..2, RootSlot for roots
	Depth         int    // absolute depth, 0 for roots
	Seq           int64  // global insertion order
	AnchorID      string // referrer the placement was requested under
	PlacedAt      time.Time
}

// IsRoot reports whether the node has no parent.
func (n *MatrixNode) IsRoot() bool {
	return n.ParentID == ""
}

// Spillover reports whether the node landed below someone other than its anchor.
func (n *MatrixNode) Spillover() bool {
	return n.AnchorID != "" && n.ParentID != n.AnchorID
}
