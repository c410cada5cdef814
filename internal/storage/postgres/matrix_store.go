package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/storage"
)

// MatrixStore implements storage.MatrixStore using PostgreSQL.
// The uq_matrix_nodes_slot constraint is the compare-and-set on (parent_id, slot_index).
type MatrixStore struct {
	pool *Pool
}

// NewMatrixStore creates a new MatrixStore.
func NewMatrixStore(pool *Pool) *MatrixStore {
	return &MatrixStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MatrixStore = (*MatrixStore)(nil)

const (
	matrixSlotConstraint = "uq_matrix_nodes_slot"
	matrixColumns        = `participant_id, COALESCE(parent_id, ''), slot_index, depth, seq, COALESCE(anchor_id, ''), placed_at`
)

// Attach inserts a node and assigns Seq. Returns ErrSlotOccupied when the
// slot was taken concurrently, ErrDuplicateKey when the participant is
// already placed and ErrNotFound when the parent is not placed.
func (s *MatrixStore) Attach(ctx context.Context, n *domain.MatrixNode) (*domain.MatrixNode, error) {
	if n == nil || n.ParticipantID == "" {
		return nil, storage.ErrInvalidInput
	}
	if !n.IsRoot() && (n.SlotIndex < 0 || n.SlotIndex >= domain.MatrixWidth) {
		return nil, storage.ErrInvalidInput
	}

	slot := n.SlotIndex
	if n.IsRoot() {
		slot = domain.RootSlot
	}

	query := `
		INSERT INTO matrix_nodes (participant_id, parent_id, slot_index, depth, anchor_id, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + matrixColumns

	node, err := scanNode(s.pool.QueryRow(ctx, query,
		n.ParticipantID,
		nullable(n.ParentID),
		slot,
		n.Depth,
		nullable(n.AnchorID),
		n.PlacedAt,
	))
	switch {
	case err == nil:
		return node, nil
	case isConstraintViolation(err, matrixSlotConstraint):
		return nil, storage.ErrSlotOccupied
	case isDuplicateKeyError(err):
		return nil, storage.ErrDuplicateKey
	case isForeignKeyError(err):
		return nil, storage.ErrNotFound
	default:
		return nil, fmt.Errorf("attach matrix node: %w", err)
	}
}

// GetByParticipant retrieves a node. Returns ErrNotFound if not placed.
func (s *MatrixStore) GetByParticipant(ctx context.Context, participantID string) (*domain.MatrixNode, error) {
	query := `SELECT ` + matrixColumns + ` FROM matrix_nodes WHERE participant_id = $1`

	n, err := scanNode(s.pool.QueryRow(ctx, query, participantID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get matrix node: %w", err)
	}
	return n, nil
}

// GetChildren retrieves children of all given parents, ordered by seq ASC.
func (s *MatrixStore) GetChildren(ctx context.Context, parentIDs []string) ([]*domain.MatrixNode, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + matrixColumns + `
		FROM matrix_nodes
		WHERE parent_id = ANY($1)
		ORDER BY seq ASC
	`

	rows, err := s.pool.Query(ctx, query, parentIDs)
	if err != nil {
		return nil, fmt.Errorf("get matrix children: %w", err)
	}
	defer rows.Close()

	var result []*domain.MatrixNode
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan matrix node row: %w", err)
		}
		result = append(result, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matrix node rows: %w", err)
	}
	return result, nil
}

func scanNode(row pgx.Row) (*domain.MatrixNode, error) {
	var n domain.MatrixNode
	var slot int16
	err := row.Scan(&n.ParticipantID, &n.ParentID, &slot, &n.Depth, &n.Seq, &n.AnchorID, &n.PlacedAt)
	if err != nil {
		return nil, err
	}
	n.SlotIndex = int(slot)
	return &n, nil
}
