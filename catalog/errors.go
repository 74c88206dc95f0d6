package catalog

import (
	"fmt"

	"github.com/hupe1980/harmonia/model"
)

// ErrDimensionMismatch indicates a vector whose width disagrees with
// the modality's fixed width.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Modality model.Modality
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.Modality, e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrUnknownModality indicates a modality tag outside the defined set.
type ErrUnknownModality struct {
	Modality model.Modality
}

func (e *ErrUnknownModality) Error() string {
	return fmt.Sprintf("unknown modality: %s", e.Modality)
}
