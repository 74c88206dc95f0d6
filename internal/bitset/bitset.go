// Package bitset implements a thread-safe, lock-free, segmented
// bitset. It backs the index tombstone set: searches test bits without
// locks while removals set them concurrently.
package bitset

import (
	"math/bits"
	"sync/atomic"
)

const (
	// segmentBits determines the size of each segment.
	// 16 bits = 65536 bits per segment.
	segmentBits = 16
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1

	// wordsPerSegment is the number of uint64 words in a segment.
	wordsPerSegment = segmentSize / 64
)

// Segment is a fixed-size segment of the bitset.
type Segment [wordsPerSegment]atomic.Uint64

// BitSet is a thread-safe, lock-free, segmented bitset.
type BitSet struct {
	segments atomic.Pointer[[]*Segment]
	size     atomic.Uint64
}

// New creates a new BitSet with the given size (in bits).
func New(size uint64) *BitSet {
	b := &BitSet{}
	b.size.Store(size)
	b.growSegments(size)
	return b
}

// Grow ensures the bitset can hold at least size bits.
func (b *BitSet) Grow(size uint64) {
	for {
		cur := b.size.Load()
		if cur >= size {
			break
		}
		if b.size.CompareAndSwap(cur, size) {
			break
		}
	}
	b.growSegments(size)
}

// growSegments ensures enough segments exist for the given size.
func (b *BitSet) growSegments(size uint64) {
	if size == 0 {
		return
	}
	targetIdx := int((size - 1) >> segmentBits)

	// Fast path
	segments := b.segments.Load()
	if segments != nil && len(*segments) > targetIdx && (*segments)[targetIdx] != nil {
		return
	}

	// Slow path: CAS loop
	for {
		oldSegments := b.segments.Load()
		currentLen := 0
		if oldSegments != nil {
			currentLen = len(*oldSegments)
		}

		if targetIdx < currentLen && (*oldSegments)[targetIdx] != nil {
			return // Already grown
		}

		newLen := max(targetIdx+1, currentLen)
		newSegments := make([]*Segment, newLen)
		if oldSegments != nil {
			copy(newSegments, *oldSegments)
		}
		for i := currentLen; i < newLen; i++ {
			if newSegments[i] == nil {
				newSegments[i] = new(Segment)
			}
		}

		newSegmentsPtr := new([]*Segment)
		*newSegmentsPtr = newSegments

		if b.segments.CompareAndSwap(oldSegments, newSegmentsPtr) {
			return
		}
	}
}

func (b *BitSet) segment(i uint64) *Segment {
	if i >= b.size.Load() {
		return nil
	}
	segments := b.segments.Load()
	segIdx := int(i >> segmentBits)
	if segments == nil || segIdx >= len(*segments) {
		return nil
	}
	return (*segments)[segIdx]
}

// Set sets the bit at the given index.
func (b *BitSet) Set(i uint64) {
	seg := b.segment(i)
	if seg == nil {
		return
	}
	offset := i & segmentMask
	seg[offset/64].Or(uint64(1) << (offset % 64))
}

// Unset clears the bit at the given index.
func (b *BitSet) Unset(i uint64) {
	seg := b.segment(i)
	if seg == nil {
		return
	}
	offset := i & segmentMask
	seg[offset/64].And(^(uint64(1) << (offset % 64)))
}

// Test returns true if the bit at the given index is set.
func (b *BitSet) Test(i uint64) bool {
	seg := b.segment(i)
	if seg == nil {
		return false
	}
	offset := i & segmentMask
	return seg[offset/64].Load()&(uint64(1)<<(offset%64)) != 0
}

// TestAndSet sets the bit and returns true if it was ALREADY set.
func (b *BitSet) TestAndSet(i uint64) bool {
	seg := b.segment(i)
	if seg == nil {
		return false
	}
	offset := i & segmentMask
	mask := uint64(1) << (offset % 64)
	old := seg[offset/64].Or(mask)
	return old&mask != 0
}

// Count returns the number of set bits.
func (b *BitSet) Count() uint64 {
	segments := b.segments.Load()
	if segments == nil {
		return 0
	}
	var count uint64
	for _, seg := range *segments {
		if seg == nil {
			continue
		}
		for i := range seg {
			count += uint64(bits.OnesCount64(seg[i].Load()))
		}
	}
	return count
}
