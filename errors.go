package harmonia

import (
	"errors"
	"fmt"

	"github.com/hupe1980/harmonia/catalog"
	"github.com/hupe1980/harmonia/engine"
	"github.com/hupe1980/harmonia/fusion"
	"github.com/hupe1980/harmonia/hnsw"
)

var (
	// ErrNotFound is returned when a track is unknown.
	ErrNotFound = errors.New("track not found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrEmptyCatalog is returned when a recommendation is requested
	// against an empty engine.
	ErrEmptyCatalog = errors.New("catalog is empty")

	// ErrNoModalities is returned when a track has no usable modality
	// vectors.
	ErrNoModalities = errors.New("track has no modality vectors")

	// ErrClosed is returned when operations hit a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// ErrDimensionMismatch indicates a vector width mismatch.
//
// The underlying error, if any, can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// translateError normalizes subpackage errors into the facade
// taxonomy so callers match on one set of sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not-found unification.
	var enf *engine.ErrTrackNotFound
	if errors.As(err, &enf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var hnf *hnsw.ErrTrackNotFound
	if errors.As(err, &hnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Dimension normalization across catalog, fusion and index.
	var cdm *catalog.ErrDimensionMismatch
	if errors.As(err, &cdm) {
		return &ErrDimensionMismatch{Expected: cdm.Expected, Actual: cdm.Actual, cause: err}
	}
	var fdm *fusion.ErrDimensionMismatch
	if errors.As(err, &fdm) {
		return &ErrDimensionMismatch{Expected: fdm.Expected, Actual: fdm.Actual, cause: err}
	}
	var idm *hnsw.ErrDimensionMismatch
	if errors.As(err, &idm) {
		return &ErrDimensionMismatch{Expected: idm.Expected, Actual: idm.Actual, cause: err}
	}

	// Argument sentinels.
	if errors.Is(err, hnsw.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	if errors.Is(err, engine.ErrEmptyCatalog) {
		return fmt.Errorf("%w: %w", ErrEmptyCatalog, err)
	}
	if errors.Is(err, fusion.ErrNoModalities) {
		return fmt.Errorf("%w: %w", ErrNoModalities, err)
	}

	return err
}
