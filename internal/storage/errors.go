// Package storage declares the persistence contracts shared by the memory,
// PostgreSQL, ClickHouse and Redis backends.
package storage

import "errors"

// Every backend reports failures with these sentinels so callers can branch
// with errors.Is regardless of the store behind the interface.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict means a compare-and-set precondition (expected status,
	// expected tier) no longer held when the write landed.
	ErrConflict = errors.New("conflict: record changed concurrently")

	// ErrSlotOccupied means a concurrent placement claimed the same
	// (parent, slot) first.
	ErrSlotOccupied = errors.New("matrix slot already occupied")
)
