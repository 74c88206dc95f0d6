package engine

import (
	"errors"
	"fmt"

	"github.com/hupe1980/harmonia/model"
)

// ErrEmptyCatalog is returned when a recommendation is requested
// against an index with no live entries. Valid but unsatisfiable;
// not fatal.
var ErrEmptyCatalog = errors.New("empty catalog")

// ErrTrackNotFound indicates a seed track that is neither indexed nor
// present in the catalog.
type ErrTrackNotFound struct {
	ID model.TrackID
}

func (e *ErrTrackNotFound) Error() string {
	return fmt.Sprintf("track not found: %s", e.ID)
}
