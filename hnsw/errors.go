package hnsw

import (
	"errors"
	"fmt"

	"github.com/hupe1980/harmonia/model"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyVector is returned for zero-length vectors.
	ErrEmptyVector = errors.New("empty vector")

	// errEntryPointDeleted signals that the entry point vanished during
	// a concurrent mutation and the traversal must retry.
	errEntryPointDeleted = errors.New("entry point deleted")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrDuplicateTrack indicates an Insert for a track that is already
// indexed. Callers must use Update instead.
type ErrDuplicateTrack struct {
	ID model.TrackID
}

func (e *ErrDuplicateTrack) Error() string {
	return fmt.Sprintf("track already indexed: %s", e.ID)
}

// ErrTrackNotFound indicates an Update for a track that is not indexed.
type ErrTrackNotFound struct {
	ID model.TrackID
}

func (e *ErrTrackNotFound) Error() string {
	return fmt.Sprintf("track not indexed: %s", e.ID)
}
