package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/harmonia/model"
)

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		a := []float32{1, 2, 3}
		assert.InDelta(t, 0.0, Cosine(a, a), 1e-6)
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{0, 1}
		assert.InDelta(t, 1.0, Cosine(a, b), 1e-6)
	})

	t.Run("opposite vectors", func(t *testing.T) {
		a := []float32{1, 0}
		b := []float32{-1, 0}
		assert.InDelta(t, 2.0, Cosine(a, b), 1e-6)
	})

	t.Run("scale invariance", func(t *testing.T) {
		a := []float32{1, 2, 3}
		b := []float32{10, 20, 30}
		assert.InDelta(t, 0.0, Cosine(a, b), 1e-6)
	})

	t.Run("zero vector has maximal distance", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		a := []float32{1, 2, 3}
		assert.Equal(t, MaxDistance, Cosine(zero, a))
		assert.Equal(t, MaxDistance, Cosine(a, zero))
		assert.Equal(t, MaxDistance, Cosine(zero, zero))
	})
}

func TestCosineUnitMatchesCosine(t *testing.T) {
	a, ok := NormalizeL2Copy([]float32{3, 1, -2, 0.5})
	require.True(t, ok)
	b, ok := NormalizeL2Copy([]float32{-1, 4, 0, 2})
	require.True(t, ok)

	assert.InDelta(t, float64(Cosine(a, b)), float64(CosineUnit(a, b)), 1e-5)
}

func TestNormalizeL2(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))
	assert.False(t, NormalizeL2InPlace(nil))

	_, ok := NormalizeL2Copy([]float32{0, 0, 0})
	assert.False(t, ok)
}

func testLayout() model.Layout {
	return model.Layout{
		Widths:  [model.NumModalities]int{2, 2, 2},
		Weights: [model.NumModalities]float32{1, 1, 1},
	}
}

func composite(mask model.AvailabilityMask, comps ...float32) model.CompositeVector {
	return model.CompositeVector{Components: comps, Mask: mask}
}

func TestRerankSharedSegmentsOnly(t *testing.T) {
	e := NewEngine(testLayout())

	full := model.AvailabilityMask(0).
		Set(model.ModalityLowLevelAudio).
		Set(model.ModalityHighLevelAudio).
		Set(model.ModalityLyricEmbedding)
	noLyrics := model.AvailabilityMask(0).
		Set(model.ModalityLowLevelAudio).
		Set(model.ModalityHighLevelAudio)

	// Identical audio segments, wildly different lyric segment.
	a := composite(full, 1, 0, 0, 1, 1, 0)
	b := composite(noLyrics, 1, 0, 0, 1, 0, 0)

	// The lyric segment must be discounted: only a's side has data.
	assert.InDelta(t, 0.0, e.Rerank(a, b), 1e-6)
}

func TestRerankWeighted(t *testing.T) {
	layout := testLayout()
	layout.Weights = [model.NumModalities]float32{3, 1, 0}
	e := NewEngine(layout)

	mask := model.AvailabilityMask(0).
		Set(model.ModalityLowLevelAudio).
		Set(model.ModalityHighLevelAudio)

	// Segment 0 identical (d=0), segment 1 orthogonal (d=1).
	a := composite(mask, 1, 0, 1, 0, 0, 0)
	b := composite(mask, 1, 0, 0, 1, 0, 0)

	// (3*0 + 1*1) / 4
	assert.InDelta(t, 0.25, e.Rerank(a, b), 1e-6)
}

func TestRerankNoSharedModalities(t *testing.T) {
	e := NewEngine(testLayout())

	onlyAudio := model.AvailabilityMask(0).Set(model.ModalityLowLevelAudio)
	onlyLyrics := model.AvailabilityMask(0).Set(model.ModalityLyricEmbedding)

	a := composite(onlyAudio, 1, 0, 0, 0, 0, 0)
	b := composite(onlyLyrics, 0, 0, 0, 0, 1, 0)

	assert.Equal(t, MaxDistance, e.Rerank(a, b))
}

func TestRerankDeterministic(t *testing.T) {
	e := NewEngine(testLayout())
	mask := model.AvailabilityMask(0).
		Set(model.ModalityLowLevelAudio).
		Set(model.ModalityHighLevelAudio)

	a := composite(mask, 0.3, 0.7, -0.1, 0.4, 0, 0)
	b := composite(mask, 0.1, 0.2, 0.9, -0.5, 0, 0)

	first := e.Rerank(a, b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Rerank(a, b))
	}
}
