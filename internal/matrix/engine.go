// Package matrix places participants into the width-3 placement tree.
//
// Placement anchors at the referrer's node. When the referrer already holds
// three children the engine searches the referrer's subtree breadth-first,
// level by level, visiting nodes in insertion order, and attaches to the
// first node with an open slot (spillover). Nodes never move once attached.
package matrix

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"matrix-comp/internal/domain"
	"matrix-comp/internal/observability"
	"matrix-comp/internal/storage"
)

// Placement errors
var (
	ErrReferrerNotFound = errors.New("referrer is not placed in the matrix")
	ErrSelfReferral     = errors.New("participant cannot be placed under itself")
	ErrAlreadyPlaced    = errors.New("participant is already placed")
	ErrNotPlaced        = errors.New("participant is not placed")
	ErrInvalidDepth     = errors.New("depth must be positive")
	ErrNoOpenSlot       = errors.New("no open slot found")
)

// DefaultMaxAttachRetries bounds how often a lost slot race is retried.
const DefaultMaxAttachRetries = 5

// MaxQueryDepth bounds read-only subtree traversals.
const MaxQueryDepth = 32

// Engine places participants and answers read-only tree queries.
// Placement is serialized by a single mutex; the store's slot CAS covers
// writers outside this process.
type Engine struct {
	store      storage.MatrixStore
	logger     zerolog.Logger
	maxRetries int

	mu sync.Mutex
}

// Options for creating Engine.
type Options struct {
	Store      storage.MatrixStore
	Logger     *zerolog.Logger
	MaxRetries int // 0 uses DefaultMaxAttachRetries
}

// New creates a placement engine.
func New(opts Options) *Engine {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxAttachRetries
	}
	return &Engine{
		store:      opts.Store,
		logger:     logger.With().Str("component", "matrix").Logger(),
		maxRetries: retries,
	}
}

// PlaceRoot creates a root node for a participant without a referrer.
func (e *Engine) PlaceRoot(ctx context.Context, participantID string, at time.Time) (*domain.MatrixNode, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, err := e.lookup(ctx, participantID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ErrAlreadyPlaced
	}

	node, err := e.store.Attach(ctx, &domain.MatrixNode{
		ParticipantID: participantID,
		SlotIndex:     domain.RootSlot,
		PlacedAt:      at,
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, ErrAlreadyPlaced
		}
		return nil, fmt.Errorf("attach root %s: %w", participantID, err)
	}

	observability.RecordPlacement(0, false)
	e.logger.Info().Str("participant_id", participantID).Int64("seq", node.Seq).Msg("root placed")
	return node, nil
}

// Place attaches a participant below its referrer, spilling over breadth-first
// when the referrer is full.
//
// On ErrAlreadyPlaced the existing node is returned alongside the error so
// idempotent callers can ignore it.
func (e *Engine) Place(ctx context.Context, participantID, referrerID string, at time.Time) (*domain.MatrixNode, error) {
	if participantID == referrerID {
		return nil, ErrSelfReferral
	}

	start := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, err := e.lookup(ctx, participantID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, ErrAlreadyPlaced
	}

	anchor, err := e.lookup(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return nil, ErrReferrerNotFound
	}

	for attempt := 0; attempt < e.maxRetries; attempt++ {
		parent, slot, err := e.findOpenSlot(ctx, anchor)
		if err != nil {
			return nil, err
		}

		node, err := e.store.Attach(ctx, &domain.MatrixNode{
			ParticipantID: participantID,
			ParentID:      parent.ParticipantID,
			SlotIndex:     slot,
			Depth:         parent.Depth + 1,
			AnchorID:      referrerID,
			PlacedAt:      at,
		})
		switch {
		case err == nil:
			relDepth := node.Depth - anchor.Depth
			observability.RecordPlacement(relDepth, node.Spillover())
			observability.RecordLatency("matrix_place", time.Since(start).Seconds())
			e.logger.Info().
				Str("participant_id", participantID).
				Str("referrer_id", referrerID).
				Str("parent_id", node.ParentID).
				Int("slot", node.SlotIndex).
				Int("relative_depth", relDepth).
				Bool("spillover", node.Spillover()).
				Msg("participant placed")
			return node, nil
		case errors.Is(err, storage.ErrSlotOccupied):
			e.logger.Debug().
				Str("participant_id", participantID).
				Str("parent_id", parent.ParticipantID).
				Int("slot", slot).
				Msg("slot taken concurrently, retrying")
			continue
		case errors.Is(err, storage.ErrDuplicateKey):
			existing, lookupErr := e.lookup(ctx, participantID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return existing, ErrAlreadyPlaced
		default:
			return nil, fmt.Errorf("attach %s under %s: %w", participantID, parent.ParticipantID, err)
		}
	}

	return nil, fmt.Errorf("place %s: %w after %d attempts", participantID, storage.ErrSlotOccupied, e.maxRetries)
}

// EnsurePlaced returns the participant's node, placing it first if needed.
// An empty referrerID places the participant as a root.
func (e *Engine) EnsurePlaced(ctx context.Context, participantID, referrerID string, at time.Time) (*domain.MatrixNode, error) {
	var (
		node *domain.MatrixNode
		err  error
	)
	if referrerID == "" {
		node, err = e.PlaceRoot(ctx, participantID, at)
	} else {
		node, err = e.Place(ctx, participantID, referrerID, at)
	}
	if errors.Is(err, ErrAlreadyPlaced) && node != nil {
		return node, nil
	}
	return node, err
}

// findOpenSlot walks the anchor's subtree level by level. Nodes within a
// level are visited in insertion order; slots fill in numeric order.
func (e *Engine) findOpenSlot(ctx context.Context, anchor *domain.MatrixNode) (*domain.MatrixNode, int, error) {
	frontier := []*domain.MatrixNode{anchor}

	for len(frontier) > 0 {
		ids := make([]string, len(frontier))
		for i, n := range frontier {
			ids[i] = n.ParticipantID
		}

		children, err := e.store.GetChildren(ctx, ids)
		if err != nil {
			return nil, 0, fmt.Errorf("load children: %w", err)
		}

		occupied := make(map[string][domain.MatrixWidth]bool, len(frontier))
		for _, c := range children {
			slots := occupied[c.ParentID]
			slots[c.SlotIndex] = true
			occupied[c.ParentID] = slots
		}

		for _, n := range frontier {
			slots := occupied[n.ParticipantID]
			for slot := 0; slot < domain.MatrixWidth; slot++ {
				if !slots[slot] {
					return n, slot, nil
				}
			}
		}

		frontier = children
	}

	// Unreachable for a finite tree: the deepest level always has open slots.
	return nil, 0, ErrNoOpenSlot
}

func (e *Engine) lookup(ctx context.Context, participantID string) (*domain.MatrixNode, error) {
	node, err := e.store.GetByParticipant(ctx, participantID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load node %s: %w", participantID, err)
	}
	return node, nil
}
