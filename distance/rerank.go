package distance

import (
	"github.com/hupe1980/harmonia/model"
)

// Engine computes composite and per-modality distances for one fixed
// layout. It is stateless and safe for concurrent use.
type Engine struct {
	layout model.Layout
}

// NewEngine creates a distance engine for the given layout.
func NewEngine(layout model.Layout) *Engine {
	return &Engine{layout: layout}
}

// Layout returns the layout the engine was built with.
func (e *Engine) Layout() model.Layout {
	return e.layout
}

// Rerank computes the exact re-rank metric between two composite
// vectors: a weighted sum of per-modality cosine distances, taken only
// over segments where both masks carry real (non-placeholder) data.
// Weights are renormalized over the shared segments so tracks are not
// penalized for lacking data a query cannot compare anyway.
//
// If the masks share no modality, the pair is defined to be maximally
// distant (MaxDistance).
func (e *Engine) Rerank(a, b model.CompositeVector) float32 {
	shared := a.Mask & b.Mask
	if shared == 0 {
		return MaxDistance
	}

	var sum, weight float32
	for _, m := range model.Modalities() {
		if !shared.Has(m) {
			continue
		}
		w := e.layout.Weights[m]
		if w <= 0 {
			continue
		}
		lo, hi := e.layout.Segment(m)
		sum += w * Cosine(a.Components[lo:hi], b.Components[lo:hi])
		weight += w
	}
	if weight == 0 {
		return MaxDistance
	}
	return sum / weight
}
