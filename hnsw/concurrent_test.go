package hnsw

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/harmonia/model"
	"github.com/hupe1980/harmonia/testutil"
)

func TestIndex_ConcurrentInserts(t *testing.T) {
	ix := newTestIndex(t)
	rng := testutil.NewRNG(21)

	const (
		workers = 8
		perW    = 100
	)
	vectors := rng.UnitVectors(workers*perW, testDim)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				n := w*perW + i
				id := model.TrackID(fmt.Sprintf("track-%d", n))
				assert.NoError(t, ix.Insert(context.Background(), composite(id, vectors[n])))
			}
		}(w)
	}
	wg.Wait()

	require.Equal(t, workers*perW, ix.Len())

	// Every inserted track is reachable.
	misses := 0
	for n := 0; n < workers*perW; n++ {
		res, _, err := ix.Search(context.Background(), vectors[n], 1, 400)
		require.NoError(t, err)
		if len(res) == 0 || res[0].ID != model.TrackID(fmt.Sprintf("track-%d", n)) {
			misses++
		}
	}
	assert.LessOrEqual(t, misses, workers*perW/100, "self-queries should almost always hit")
}

func TestIndex_ConcurrentSearchWhileMutating(t *testing.T) {
	ix := newTestIndex(t)
	ids, vectors := fillIndex(t, ix, 500)
	rng := testutil.NewRNG(22)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	// Searchers.
	var searches atomic.Int64
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			qrng := testutil.NewRNG(seed)
			for ctx.Err() == nil {
				q := qrng.UnitVector(testDim)
				res, _, err := ix.Search(context.Background(), q, 10, 0)
				assert.NoError(t, err)
				assert.LessOrEqual(t, len(res), 10)
				searches.Add(1)
			}
		}(int64(100 + w))
	}

	// Mutator: removes, re-inserts, updates.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			id := ids[rng.Intn(len(ids))]
			assert.NoError(t, ix.Remove(context.Background(), id))
			assert.NoError(t, ix.Insert(context.Background(), composite(id, rng.UnitVector(testDim))))
		}
		for i := 0; i < 100; i++ {
			id := ids[rng.Intn(len(ids))]
			err := ix.Update(context.Background(), composite(id, rng.UnitVector(testDim)))
			// The track may have been re-slotted by the loop above; only
			// not-found is acceptable.
			if err != nil {
				var nf *ErrTrackNotFound
				assert.ErrorAs(t, err, &nf)
			}
		}
		cancel()
	}()

	wg.Wait()
	assert.Positive(t, searches.Load())
	_ = vectors
}

func TestIndex_ConcurrentCompact(t *testing.T) {
	ix := newTestIndex(t)
	ids, _ := fillIndex(t, ix, 400)
	rng := testutil.NewRNG(23)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			qrng := testutil.NewRNG(seed)
			for ctx.Err() == nil {
				_, _, err := ix.Search(context.Background(), qrng.UnitVector(testDim), 5, 0)
				assert.NoError(t, err)
			}
		}(int64(200 + w))
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, ix.Remove(context.Background(), ids[rng.Intn(len(ids))]))
	}
	_, err := ix.Compact(context.Background())
	require.NoError(t, err)
	cancel()
	wg.Wait()

	stats := ix.Stats()
	assert.Zero(t, stats.Tombstones)
}
