package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/harmonia/model"
)

func testLayout() model.Layout {
	return model.Layout{
		Widths:  [model.NumModalities]int{4, 8, 8},
		Weights: [model.NumModalities]float32{1, 1, 1},
	}
}

func TestStore_PutGet(t *testing.T) {
	s := New(testLayout())

	err := s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4})
	require.NoError(t, err)

	rec, ok := s.Get("track-1")
	require.True(t, ok)
	assert.Equal(t, model.TrackID("track-1"), rec.ID)
	assert.Equal(t, []float32{1, 2, 3, 4}, rec.Vectors[model.ModalityLowLevelAudio])
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestStore_PutDimensionMismatch(t *testing.T) {
	s := New(testLayout())

	err := s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestStore_PutUnknownModality(t *testing.T) {
	s := New(testLayout())

	err := s.Put("track-1", model.Modality(9), []float32{1})
	var um *ErrUnknownModality
	require.ErrorAs(t, err, &um)
}

func TestStore_PutCopiesInput(t *testing.T) {
	s := New(testLayout())

	vec := []float32{1, 2, 3, 4}
	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, vec))
	vec[0] = 99

	rec, _ := s.Get("track-1")
	assert.Equal(t, float32(1), rec.Vectors[model.ModalityLowLevelAudio][0])
}

func TestStore_UpsertBumpsTimestamp(t *testing.T) {
	s := New(testLayout())

	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	rec1, _ := s.Get("track-1")

	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, []float32{4, 3, 2, 1}))
	rec2, _ := s.Get("track-1")

	assert.False(t, rec2.UpdatedAt.Before(rec1.UpdatedAt))
	assert.Equal(t, []float32{4, 3, 2, 1}, rec2.Vectors[model.ModalityLowLevelAudio])
}

func TestStore_UpsertHook(t *testing.T) {
	var seen []model.TrackRecord
	s := New(testLayout(), WithOnUpsert(func(r model.TrackRecord) {
		seen = append(seen, r)
	}))

	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Put("track-1", model.ModalityHighLevelAudio, make([]float32, 8)))

	require.Len(t, seen, 2)
	assert.True(t, seen[0].Has(model.ModalityLowLevelAudio))
	assert.True(t, seen[1].Has(model.ModalityHighLevelAudio))
	assert.True(t, seen[1].Has(model.ModalityLowLevelAudio), "hook sees the full record")
}

func TestStore_RemoveHook(t *testing.T) {
	var removed []model.TrackID
	s := New(testLayout(), WithOnRemove(func(id model.TrackID) {
		removed = append(removed, id)
	}))

	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Remove("track-1"))

	_, ok := s.Get("track-1")
	assert.False(t, ok)
	assert.Equal(t, []model.TrackID{"track-1"}, removed)
}

func TestStore_RemoveIsIdempotent(t *testing.T) {
	calls := 0
	s := New(testLayout(), WithOnRemove(func(model.TrackID) { calls++ }))

	require.NoError(t, s.Put("track-1", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Remove("track-1"))
	require.NoError(t, s.Remove("track-1"))

	assert.Equal(t, 1, calls, "hook fires only on the first removal")
}

func TestStore_ListMissing(t *testing.T) {
	s := New(testLayout())

	require.NoError(t, s.Put("a", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Put("a", model.ModalityLyricEmbedding, make([]float32, 8)))
	require.NoError(t, s.Put("b", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Put("c", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))

	collect := func(m model.Modality) []model.TrackID {
		var out []model.TrackID
		for id := range s.ListMissing(m) {
			out = append(out, id)
		}
		return out
	}

	assert.ElementsMatch(t, []model.TrackID{"b", "c"}, collect(model.ModalityLyricEmbedding))
	assert.Empty(t, collect(model.ModalityLowLevelAudio))

	// Restartable: a second pass yields the same set.
	assert.ElementsMatch(t, []model.TrackID{"b", "c"}, collect(model.ModalityLyricEmbedding))

	// Early break is safe.
	for range s.ListMissing(model.ModalityLyricEmbedding) {
		break
	}
}

func TestStore_Meta(t *testing.T) {
	s := New(testLayout())

	s.PutMeta("track-1", model.TrackMeta{Artist: "Boards of Canada", Title: "Roygbiv"})

	meta, ok := s.Meta("track-1")
	require.True(t, ok)
	assert.Equal(t, "Boards of Canada", meta.Artist)

	// Meta-only records exist but hold no vectors.
	rec, ok := s.Get("track-1")
	require.True(t, ok)
	assert.True(t, rec.Empty())
}

func TestStore_All(t *testing.T) {
	s := New(testLayout())

	require.NoError(t, s.Put("a", model.ModalityLowLevelAudio, []float32{1, 2, 3, 4}))
	require.NoError(t, s.Put("b", model.ModalityHighLevelAudio, make([]float32, 8)))

	var ids []model.TrackID
	for rec := range s.All() {
		ids = append(ids, rec.ID)
	}
	assert.ElementsMatch(t, []model.TrackID{"a", "b"}, ids)
	assert.Equal(t, 2, s.Len())
}

func TestStore_Restore(t *testing.T) {
	var upserts int
	s := New(testLayout(), WithOnUpsert(func(model.TrackRecord) { upserts++ }))

	stamp := time.Unix(0, 1700000000000000000)
	require.NoError(t, s.Restore(model.TrackRecord{
		ID: "a",
		Vectors: map[model.Modality][]float32{
			model.ModalityLowLevelAudio: {1, 0, 0, 0},
		},
		Meta:      model.TrackMeta{Artist: "Autechre"},
		UpdatedAt: stamp,
	}))

	// Restore bypasses hooks and preserves the timestamp.
	assert.Zero(t, upserts)

	rec, ok := s.Get("a")
	require.True(t, ok)
	assert.True(t, stamp.Equal(rec.UpdatedAt))
	assert.Equal(t, "Autechre", rec.Meta.Artist)

	var missing []model.TrackID
	for id := range s.ListMissing(model.ModalityLyricEmbedding) {
		missing = append(missing, id)
	}
	assert.Equal(t, []model.TrackID{"a"}, missing)
}

func TestStore_RestoreRejectsBadWidth(t *testing.T) {
	s := New(testLayout())

	err := s.Restore(model.TrackRecord{
		ID: "a",
		Vectors: map[model.Modality][]float32{
			model.ModalityLowLevelAudio: {1, 0},
		},
	})
	var dim *ErrDimensionMismatch
	assert.ErrorAs(t, err, &dim)
}
