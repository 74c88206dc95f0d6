// Package testutil provides seeded vector generators and recall
// helpers for tests.
package testutil

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/harmonia/model"
)

// SearchResult is a ground-truth or approximate search hit.
type SearchResult struct {
	ID       model.TrackID
	Distance float32
}

// RNG is a seeded, thread-safe random number generator.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

// UnitVector generates one random vector on the unit hypersphere.
func (r *RNG) UnitVector(dimensions int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dimensions)
}

// UnitVectors generates num random vectors on the unit hypersphere.
func (r *RNG) UnitVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range vectors {
		vectors[i] = r.unitVectorLocked(dimensions)
	}
	return vectors
}

func (r *RNG) unitVectorLocked(dimensions int) []float32 {
	vec := make([]float32, dimensions)
	var norm float64
	for {
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		norm = 0
		for _, c := range vec {
			norm += float64(c) * float64(c)
		}
		if norm > 0 {
			break
		}
	}
	inv := float32(1 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= inv
	}
	return vec
}

// ClusteredVectors generates unit vectors grouped around random
// cluster centroids, a more realistic workload than uniform noise.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range vectors {
		c := centroids[r.rand.Intn(clusters)]
		vec := make([]float32, dim)
		var norm float64
		for j := range vec {
			vec[j] = c[j] + float32(r.rand.NormFloat64())*spread
			norm += float64(vec[j]) * float64(vec[j])
		}
		if norm > 0 {
			inv := float32(1 / math.Sqrt(norm))
			for j := range vec {
				vec[j] *= inv
			}
		}
		vectors[i] = vec
	}
	return vectors
}

// TrackIDs returns n synthetic track IDs ("track-0" .. "track-n-1").
func TrackIDs(n int) []model.TrackID {
	ids := make([]model.TrackID, n)
	for i := range ids {
		ids[i] = model.TrackID(fmt.Sprintf("track-%d", i))
	}
	return ids
}

// BruteForceSearch computes the exact k nearest vectors to query by
// cosine distance over unit vectors.
func BruteForceSearch(ids []model.TrackID, vectors [][]float32, query []float32, k int) []SearchResult {
	results := make([]SearchResult, 0, len(vectors))
	for i, vec := range vectors {
		var dot float64
		for j := range vec {
			dot += float64(vec[j]) * float64(query[j])
		}
		results = append(results, SearchResult{
			ID:       ids[i],
			Distance: float32(1 - dot),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}

// ComputeRecall returns the fraction of ground-truth IDs present in
// the approximate result set.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 {
		return 1.0
	}

	found := make(map[model.TrackID]struct{}, len(approximate))
	for _, r := range approximate {
		found[r.ID] = struct{}{}
	}

	hits := 0
	for _, gt := range groundTruth {
		if _, ok := found[gt.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}
