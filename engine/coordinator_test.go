package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/harmonia/catalog"
	"github.com/hupe1980/harmonia/distance"
	"github.com/hupe1980/harmonia/fusion"
	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
	"github.com/hupe1980/harmonia/testutil"
)

type testEnv struct {
	store   *catalog.Store
	encoder *fusion.Encoder
	index   *hnsw.Index
	coord   *Coordinator
}

func newTestEnv(t *testing.T, optFns ...Option) *testEnv {
	t.Helper()

	layout := model.Layout{
		Widths:  [model.NumModalities]int{4, 8, 8},
		Weights: [model.NumModalities]float32{1, 1, 1},
	}

	encoder, err := fusion.NewEncoder(layout)
	require.NoError(t, err)

	index, err := hnsw.New(layout.Dimension(), hnsw.WithRandomSeed(42))
	require.NoError(t, err)

	store := catalog.New(layout,
		catalog.WithOnUpsert(func(rec model.TrackRecord) {
			cv, err := encoder.Encode(rec)
			require.NoError(t, err)
			require.NoError(t, index.Upsert(context.Background(), cv))
		}),
		catalog.WithOnRemove(func(id model.TrackID) {
			require.NoError(t, index.Remove(context.Background(), id))
		}),
	)

	coord := New(store, encoder, index, distance.NewEngine(layout), optFns...)

	return &testEnv{store: store, encoder: encoder, index: index, coord: coord}
}

func (e *testEnv) add(t *testing.T, id model.TrackID, artist string, vectors map[model.Modality][]float32) {
	t.Helper()
	if artist != "" {
		e.store.PutMeta(id, model.TrackMeta{Artist: artist})
	}
	for m, vec := range vectors {
		require.NoError(t, e.store.Put(id, m, vec))
	}
}

func lowVec(a, b, c, d float32) []float32 {
	return []float32{a, b, c, d}
}

func lyricVec(seed float32) []float32 {
	v := make([]float32, 8)
	v[0] = seed
	v[1] = 1 - seed
	return v
}

func TestCoordinator_EmptyCatalog(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.coord.Recommend(context.Background(), Query{Seed: "a", K: 3})
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestCoordinator_TrackNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.add(t, "a", "", map[model.Modality][]float32{
		model.ModalityLowLevelAudio: lowVec(1, 0, 0, 0),
	})

	_, err := env.coord.Recommend(context.Background(), Query{Seed: "ghost", K: 3})
	var nf *ErrTrackNotFound
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, model.TrackID("ghost"), nf.ID)
}

func TestCoordinator_InvalidK(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.coord.Recommend(context.Background(), Query{Seed: "a", K: 0})
	assert.ErrorIs(t, err, hnsw.ErrInvalidK)
}

func TestCoordinator_ExcludesSeed(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 5; i++ {
		env.add(t, model.TrackID(fmt.Sprintf("t%d", i)), "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio: lowVec(1, float32(i)*0.1, 0, 0),
		})
	}

	res, err := env.coord.Recommend(context.Background(), Query{Seed: "t0", K: 10})
	require.NoError(t, err)
	for _, item := range res.Items {
		assert.NotEqual(t, model.TrackID("t0"), item.ID)
	}
	assert.Len(t, res.Items, 4)
	assert.False(t, res.Partial)
}

func TestCoordinator_ExclusionSet(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 6; i++ {
		env.add(t, model.TrackID(fmt.Sprintf("t%d", i)), "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio: lowVec(1, float32(i)*0.1, 0, 0),
		})
	}

	res, err := env.coord.Recommend(context.Background(), Query{
		Seed:    "t0",
		K:       10,
		Exclude: []model.TrackID{"t1", "t2"},
	})
	require.NoError(t, err)
	for _, item := range res.Items {
		assert.NotContains(t, []model.TrackID{"t0", "t1", "t2"}, item.ID)
	}
	assert.Len(t, res.Items, 3)
}

// Tracks A and B share identical lyric embeddings with nearby audio; C
// has no lyrics and distant audio. The availability-aware re-rank must
// place B above C: A-B compares audio and lyrics, A-C only audio.
func TestCoordinator_MissingLyricsScenario(t *testing.T) {
	env := newTestEnv(t)

	sharedLyrics := lyricVec(0.7)

	env.add(t, "A", "", map[model.Modality][]float32{
		model.ModalityLowLevelAudio:  lowVec(1, 0, 0, 0),
		model.ModalityLyricEmbedding: sharedLyrics,
	})
	env.add(t, "B", "", map[model.Modality][]float32{
		model.ModalityLowLevelAudio:  lowVec(0.9, 0.4359, 0, 0),
		model.ModalityLyricEmbedding: sharedLyrics,
	})
	env.add(t, "C", "", map[model.Modality][]float32{
		model.ModalityLowLevelAudio: lowVec(0, 1, 0, 0),
	})

	res, err := env.coord.Recommend(context.Background(), Query{Seed: "A", K: 2})
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, model.TrackID("B"), res.Items[0].ID)
	assert.Equal(t, model.TrackID("C"), res.Items[1].ID)
	assert.Less(t, res.Items[0].Score, res.Items[1].Score)
}

func TestCoordinator_ArtistCap(t *testing.T) {
	env := newTestEnv(t)

	// Five close tracks by one artist, one farther track by another.
	for i := 0; i < 5; i++ {
		env.add(t, model.TrackID(fmt.Sprintf("prolific-%d", i)), "Prolific", map[model.Modality][]float32{
			model.ModalityLowLevelAudio: lowVec(1, float32(i)*0.05, 0, 0),
		})
	}
	env.add(t, "other", "Other", map[model.Modality][]float32{
		model.ModalityLowLevelAudio: lowVec(0.5, 0.8, 0, 0),
	})
	env.add(t, "seed", "Seed", map[model.Modality][]float32{
		model.ModalityLowLevelAudio: lowVec(1, 0.01, 0, 0),
	})

	res, err := env.coord.Recommend(context.Background(), Query{
		Seed:         "seed",
		K:            3,
		MaxPerArtist: 2,
	})
	require.NoError(t, err)

	require.Len(t, res.Items, 3)
	counts := map[model.TrackID]bool{}
	prolific := 0
	for _, item := range res.Items {
		counts[item.ID] = true
		if meta, ok := env.store.Meta(item.ID); ok && meta.Artist == "Prolific" {
			prolific++
		}
	}
	assert.Equal(t, 2, prolific, "artist cap keeps two Prolific tracks")
	assert.True(t, counts["other"], "the farther track fills the freed slot")
}

func TestCoordinator_AdHocVector(t *testing.T) {
	env := newTestEnv(t)
	rng := testutil.NewRNG(9)

	ids := testutil.TrackIDs(20)
	for _, id := range ids {
		env.add(t, id, "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio:  rng.UnitVector(4),
			model.ModalityHighLevelAudio: rng.UnitVector(8),
			model.ModalityLyricEmbedding: rng.UnitVector(8),
		})
	}

	entry, ok := env.index.Get(ids[3])
	require.True(t, ok)

	res, err := env.coord.Recommend(context.Background(), Query{
		Vector: entry.Composite.Components,
		K:      1,
	})
	require.NoError(t, err)

	// An ad-hoc query does not exclude any track, so the track whose
	// composite we borrowed comes back first.
	require.NotEmpty(t, res.Items)
	assert.Equal(t, ids[3], res.Items[0].ID)
}

func TestCoordinator_SeedFusedLiveWhenNotIndexed(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 4; i++ {
		env.add(t, model.TrackID(fmt.Sprintf("t%d", i)), "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio: lowVec(1, float32(i)*0.2, 0, 0),
		})
	}

	// The seed exists in the catalog but was removed from the index;
	// the coordinator fuses it live.
	env.add(t, "seed", "", map[model.Modality][]float32{
		model.ModalityLowLevelAudio: lowVec(1, 0.1, 0, 0),
	})
	require.NoError(t, env.index.Remove(context.Background(), "seed"))

	res, err := env.coord.Recommend(context.Background(), Query{Seed: "seed", K: 2})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
}

func TestCoordinator_ResultsSortedAscending(t *testing.T) {
	env := newTestEnv(t)
	rng := testutil.NewRNG(17)

	ids := testutil.TrackIDs(50)
	for _, id := range ids {
		env.add(t, id, "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio:  rng.UnitVector(4),
			model.ModalityHighLevelAudio: rng.UnitVector(8),
		})
	}

	res, err := env.coord.Recommend(context.Background(), Query{Seed: ids[0], K: 10})
	require.NoError(t, err)

	require.NotEmpty(t, res.Items)
	for i := 1; i < len(res.Items); i++ {
		assert.LessOrEqual(t, res.Items[i-1].Score, res.Items[i].Score)
	}
}

func TestCoordinator_ExpiredDeadlineReturnsPartial(t *testing.T) {
	env := newTestEnv(t)
	rng := testutil.NewRNG(23)

	ids := testutil.TrackIDs(200)
	for _, id := range ids {
		env.add(t, id, "", map[model.Modality][]float32{
			model.ModalityLowLevelAudio:  rng.UnitVector(4),
			model.ModalityHighLevelAudio: rng.UnitVector(8),
		})
	}

	ctx, cancel := context.WithDeadline(context.Background(), time.Unix(0, 0))
	defer cancel()

	// A spent deadline degrades to a flagged best-effort result, never
	// an error.
	res, err := env.coord.Recommend(ctx, Query{Seed: ids[0], K: 5})
	require.NoError(t, err)
	assert.True(t, res.Partial)

	for i := 1; i < len(res.Items); i++ {
		assert.LessOrEqual(t, res.Items[i-1].Score, res.Items[i].Score)
	}
}
