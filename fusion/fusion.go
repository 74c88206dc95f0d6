// Package fusion implements the encoder that combines a track's
// modality vectors into one fixed-dimension composite vector.
package fusion

import (
	"errors"
	"fmt"

	"github.com/hupe1980/harmonia/distance"
	"github.com/hupe1980/harmonia/internal/math32"
	"github.com/hupe1980/harmonia/model"
)

// ErrNoModalities is returned when a record with zero populated
// modalities reaches the encoder.
var ErrNoModalities = errors.New("no modalities available")

// ErrDimensionMismatch indicates a modality vector whose width
// disagrees with the encoder's expected input width.
type ErrDimensionMismatch struct {
	Modality model.Modality
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch for %s: expected %d, got %d", e.Modality, e.Expected, e.Actual)
}

// Projection is a dense linear map from a modality's native width to
// its target segment width. Weights are row-major, Out rows by In
// columns. Projections are supplied pre-trained; the encoder only
// applies them.
type Projection struct {
	In      int
	Out     int
	Weights []float32
}

// Apply computes dst = W * src. dst must have length Out.
func (p *Projection) Apply(dst, src []float32) {
	for r := 0; r < p.Out; r++ {
		row := p.Weights[r*p.In : (r+1)*p.In]
		dst[r] = math32.Dot(row, src)
	}
}

// Options holds encoder configuration.
type Options struct {
	// Projections optionally maps each modality from its native width
	// to the layout's segment width. Nil means identity: the input must
	// already match the segment width.
	Projections [model.NumModalities]*Projection

	// Placeholders are the segment values substituted for missing
	// modalities. Nil means a zero centroid.
	Placeholders [model.NumModalities][]float32
}

// Option configures the encoder.
type Option func(*Options)

// WithProjection sets the projection for one modality.
func WithProjection(m model.Modality, p *Projection) Option {
	return func(o *Options) { o.Projections[m] = p }
}

// WithPlaceholder sets the placeholder centroid for one modality.
func WithPlaceholder(m model.Modality, centroid []float32) Option {
	return func(o *Options) { o.Placeholders[m] = centroid }
}

// Encoder fuses track records into composite vectors. Encoding is
// deterministic: identical inputs produce bit-identical outputs.
//
// Each present modality segment is L2-normalized, then scaled by its
// weight renormalized over the present modalities, so the composite
// supports a single uniform distance metric. Missing segments receive
// the placeholder centroid and a cleared availability bit. The full
// composite is L2-normalized last.
type Encoder struct {
	layout       model.Layout
	projections  [model.NumModalities]*Projection
	placeholders [model.NumModalities][]float32
}

// NewEncoder creates an encoder for the given layout. It validates
// that configured projections and placeholders agree with the layout's
// segment widths.
func NewEncoder(layout model.Layout, optFns ...Option) (*Encoder, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	for _, m := range model.Modalities() {
		width := layout.Widths[m]

		if p := opts.Projections[m]; p != nil {
			if p.Out != width {
				return nil, fmt.Errorf("projection for %s outputs %d, segment width is %d", m, p.Out, width)
			}
			if len(p.Weights) != p.In*p.Out {
				return nil, fmt.Errorf("projection for %s has %d weights, want %d", m, len(p.Weights), p.In*p.Out)
			}
		}

		if ph := opts.Placeholders[m]; ph != nil && len(ph) != width {
			return nil, fmt.Errorf("placeholder for %s has width %d, segment width is %d", m, len(ph), width)
		}
		if layout.Weights[m] < 0 {
			return nil, fmt.Errorf("negative weight for %s", m)
		}
	}

	return &Encoder{
		layout:       layout,
		projections:  opts.Projections,
		placeholders: opts.Placeholders,
	}, nil
}

// Layout returns the encoder's composite layout.
func (e *Encoder) Layout() model.Layout {
	return e.layout
}

// InputWidth returns the vector width the encoder expects for a
// modality: the projection's input width if one is configured,
// otherwise the segment width itself.
func (e *Encoder) InputWidth(m model.Modality) int {
	if p := e.projections[m]; p != nil {
		return p.In
	}
	return e.layout.Widths[m]
}

// Encode fuses a track record into a composite vector of dimension
// Layout().Dimension().
func (e *Encoder) Encode(rec model.TrackRecord) (model.CompositeVector, error) {
	if rec.Empty() {
		return model.CompositeVector{}, fmt.Errorf("track %q: %w", rec.ID, ErrNoModalities)
	}

	var mask model.AvailabilityMask
	var weightSum float32
	for _, m := range model.Modalities() {
		if rec.Has(m) {
			mask = mask.Set(m)
			weightSum += e.layout.Weights[m]
		}
	}
	if weightSum == 0 {
		return model.CompositeVector{}, fmt.Errorf("track %q: all present modalities have zero weight: %w", rec.ID, ErrNoModalities)
	}

	composite := make([]float32, e.layout.Dimension())

	for _, m := range model.Modalities() {
		lo, hi := e.layout.Segment(m)
		seg := composite[lo:hi]

		if !mask.Has(m) {
			if ph := e.placeholders[m]; ph != nil {
				copy(seg, ph)
			}
			continue
		}

		vec := rec.Vectors[m]
		if want := e.InputWidth(m); len(vec) != want {
			return model.CompositeVector{}, &ErrDimensionMismatch{Modality: m, Expected: want, Actual: len(vec)}
		}

		if p := e.projections[m]; p != nil {
			p.Apply(seg, vec)
		} else {
			copy(seg, vec)
		}

		distance.NormalizeL2InPlace(seg)
		math32.ScaleInPlace(seg, e.layout.Weights[m]/weightSum)
	}

	distance.NormalizeL2InPlace(composite)

	return model.CompositeVector{
		ID:         rec.ID,
		Components: composite,
		Mask:       mask,
	}, nil
}
