package searcher

import "sync"

// Searcher is a reusable execution context for graph search. It owns
// all scratch memory required for a traversal, eliminating heap
// allocations in the steady state.
//
// Searcher is NOT thread-safe. It is owned by a single goroutine for
// the duration of one search.
type Searcher struct {
	// Visited tracks visited nodes during graph traversal.
	Visited *VisitedSet

	// Results is a max-heap bounded to the beam width; its top is the
	// current worst candidate in the working set.
	Results *Queue

	// Frontier is a min-heap of candidates still to be explored.
	Frontier *Queue

	// ScratchItems is a reusable buffer for collecting intermediate
	// candidates (neighbor selection, re-rank staging).
	ScratchItems []Item
}

var pool = sync.Pool{
	New: func() any {
		return New(1024, 128)
	},
}

// New creates a searcher with the given initial capacities.
func New(visitedCap, queueCap int) *Searcher {
	return &Searcher{
		Visited:      NewVisitedSet(visitedCap),
		Results:      NewQueue(true),
		Frontier:     NewQueue(false),
		ScratchItems: make([]Item, 0, queueCap),
	}
}

// Get returns a reset Searcher from the pool.
func Get() *Searcher {
	s := pool.Get().(*Searcher)
	s.Reset()
	return s
}

// Put returns a Searcher to the pool.
func Put(s *Searcher) {
	pool.Put(s)
}

// Reset clears the searcher state for reuse.
func (s *Searcher) Reset() {
	s.Visited.Reset()
	s.Results.Reset()
	s.Frontier.Reset()
	s.ScratchItems = s.ScratchItems[:0]
}
