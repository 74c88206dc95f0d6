// Package searcher implements reusable search scratch state: binary
// heaps, a visited set and a pooled Searcher context.
package searcher

// Item represents a candidate node with its distance to the query.
// Value-based to keep heap operations allocation-free.
type Item struct {
	Node     uint32
	Distance float32
}

// Queue implements a binary heap of Items. It is value-based and does
// NOT implement container/heap to avoid interface overhead.
type Queue struct {
	isMaxHeap bool
	items     []Item
}

// NewQueue creates a new queue. A max-heap keeps the worst candidate
// on top (bounded result sets); a min-heap pops the closest first
// (exploration frontier).
func NewQueue(isMaxHeap bool) *Queue {
	return &Queue{
		isMaxHeap: isMaxHeap,
		items:     make([]Item, 0, 16),
	}
}

// Reset clears the queue for reuse.
func (q *Queue) Reset() {
	q.items = q.items[:0]
}

// Len returns the number of elements in the heap.
func (q *Queue) Len() int {
	return len(q.items)
}

// Top returns the top element without removing it.
func (q *Queue) Top() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	return q.items[0], true
}

// Min returns the item with the smallest distance. O(N) for a
// max-heap, but N (the beam width) is small.
func (q *Queue) Min() (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	m := q.items[0]
	for _, it := range q.items[1:] {
		if it.Distance < m.Distance {
			m = it
		}
	}
	return m, true
}

// Push inserts an item while maintaining the heap invariant.
func (q *Queue) Push(item Item) {
	q.items = append(q.items, item)
	q.siftUp(len(q.items) - 1)
}

// PushBounded inserts an item into a heap bounded at capacity. When
// full, the item replaces the top only if it is better.
func (q *Queue) PushBounded(item Item, capacity int) {
	if len(q.items) < capacity {
		q.Push(item)
		return
	}

	top := q.items[0]
	if q.isMaxHeap {
		// Top is the largest distance; keep smaller.
		if item.Distance < top.Distance {
			q.items[0] = item
			q.siftDown(0)
		}
	} else {
		if item.Distance > top.Distance {
			q.items[0] = item
			q.siftDown(0)
		}
	}
}

// Pop removes and returns the top element.
func (q *Queue) Pop() (Item, bool) {
	n := len(q.items)
	if n == 0 {
		return Item{}, false
	}

	item := q.items[0]
	q.items[0] = q.items[n-1]
	q.items = q.items[:n-1]

	if len(q.items) > 0 {
		q.siftDown(0)
	}

	return item, true
}

func (q *Queue) less(i, j int) bool {
	if q.isMaxHeap {
		return q.items[i].Distance > q.items[j].Distance
	}
	return q.items[i].Distance < q.items[j].Distance
}

func (q *Queue) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *Queue) siftDown(i int) {
	n := len(q.items)
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		child := left
		if right := left + 1; right < n && q.less(right, left) {
			child = right
		}
		if !q.less(child, i) {
			break
		}
		q.items[i], q.items[child] = q.items[child], q.items[i]
		i = child
	}
}
