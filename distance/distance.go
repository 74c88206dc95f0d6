// Package distance implements the distance engine: the composite
// cosine metric used by the ANN index and the availability-aware
// weighted re-rank metric used by the query coordinator.
package distance

import (
	"slices"

	"github.com/hupe1980/harmonia/internal/math32"
)

// MaxDistance is the defined distance of a zero vector to anything.
// Zero vectors are never compared by dot product against a zero
// denominator.
const MaxDistance float32 = 1.0

// Func is a function type for distance calculation. The index holds
// its metric as a Func.
type Func func(a, b []float32) float32

// Cosine calculates the cosine distance (1 - cosine similarity)
// between two vectors of the same length. Either vector having zero
// L2 norm yields MaxDistance.
func Cosine(a, b []float32) float32 {
	na := math32.Dot(a, a)
	nb := math32.Dot(b, b)
	if na == 0 || nb == 0 {
		return MaxDistance
	}
	sim := math32.Dot(a, b) / (math32.Sqrt(na) * math32.Sqrt(nb))
	return clampDistance(1 - sim)
}

// CosineUnit calculates the cosine distance between two L2-normalized
// vectors. For unit vectors 1 - dot equals 0.5 * squared L2, so this
// is the metric the index uses after normalizing on ingest.
func CosineUnit(a, b []float32) float32 {
	return clampDistance(1 - math32.Dot(a, b))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	norm2 := math32.Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := 1 / math32.Sqrt(norm2)
	math32.ScaleInPlace(v, inv)
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// Cosine distance of antipodal vectors rounds slightly above 2 in
// float32; negative values come from rounding near identical vectors.
func clampDistance(d float32) float32 {
	if d < 0 {
		return 0
	}
	if d > 2 {
		return 2
	}
	return d
}
