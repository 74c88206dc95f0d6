package searcher

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_MinHeapOrder(t *testing.T) {
	q := NewQueue(false)

	rng := rand.New(rand.NewSource(1))
	dists := make([]float32, 0, 100)
	for i := 0; i < 100; i++ {
		d := rng.Float32()
		dists = append(dists, d)
		q.Push(Item{Node: uint32(i), Distance: d})
	}
	sort.Slice(dists, func(i, j int) bool { return dists[i] < dists[j] })

	for _, want := range dists {
		it, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, want, it.Distance)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_MaxHeapTop(t *testing.T) {
	q := NewQueue(true)

	q.Push(Item{Node: 1, Distance: 0.5})
	q.Push(Item{Node: 2, Distance: 0.9})
	q.Push(Item{Node: 3, Distance: 0.1})

	top, ok := q.Top()
	require.True(t, ok)
	assert.Equal(t, float32(0.9), top.Distance)

	m, ok := q.Min()
	require.True(t, ok)
	assert.Equal(t, float32(0.1), m.Distance)
}

func TestQueue_PushBounded(t *testing.T) {
	q := NewQueue(true)

	// Fill to capacity 3 with distances 0.7, 0.8, 0.9.
	q.PushBounded(Item{Node: 1, Distance: 0.7}, 3)
	q.PushBounded(Item{Node: 2, Distance: 0.8}, 3)
	q.PushBounded(Item{Node: 3, Distance: 0.9}, 3)
	require.Equal(t, 3, q.Len())

	// A worse candidate is rejected.
	q.PushBounded(Item{Node: 4, Distance: 1.5}, 3)
	require.Equal(t, 3, q.Len())
	top, _ := q.Top()
	assert.Equal(t, float32(0.9), top.Distance)

	// A better candidate evicts the worst.
	q.PushBounded(Item{Node: 5, Distance: 0.1}, 3)
	require.Equal(t, 3, q.Len())
	top, _ = q.Top()
	assert.Equal(t, float32(0.8), top.Distance)
}

func TestVisitedSet(t *testing.T) {
	v := NewVisitedSet(64)

	assert.False(t, v.Visited(10))
	v.Visit(10)
	assert.True(t, v.Visited(10))

	// Grows past initial capacity.
	v.Visit(100_000)
	assert.True(t, v.Visited(100_000))

	v.Reset()
	assert.False(t, v.Visited(10))
	assert.False(t, v.Visited(100_000))
}

func TestVisitedSet_ResetIsSparse(t *testing.T) {
	v := NewVisitedSet(1 << 20)

	v.Visit(5)
	v.Visit(999_999)
	v.Reset()

	assert.Empty(t, v.dirty)
	assert.False(t, v.Visited(5))
	assert.False(t, v.Visited(999_999))
}

func TestSearcher_PoolReuse(t *testing.T) {
	s := Get()
	s.Visited.Visit(1)
	s.Results.Push(Item{Node: 1, Distance: 0.5})
	s.Frontier.Push(Item{Node: 2, Distance: 0.3})
	Put(s)

	s2 := Get()
	assert.False(t, s2.Visited.Visited(1))
	assert.Zero(t, s2.Results.Len())
	assert.Zero(t, s2.Frontier.Len())
	Put(s2)
}
