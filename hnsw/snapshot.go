package hnsw

import (
	"fmt"
	"iter"

	"github.com/hupe1980/harmonia/model"
)

// NodeDump is the serializable form of one live node. Layer edges
// reference positions within the same dump, densely renumbered, so a
// dump is self-contained.
type NodeDump struct {
	ID         model.TrackID
	Mask       model.AvailabilityMask
	Generation uint64
	Level      int32
	Vector     []float32
	Layers     [][]uint32
}

// Dump captures the live graph structure: nodes, levels and edges,
// with tombstoned slots dropped and edges to them pruned. Restoring a
// dump reproduces the graph exactly, so search results survive a
// save/load round trip.
func (ix *Index) Dump() []NodeDump {
	ix.writeGate.Lock()
	defer ix.writeGate.Unlock()

	g := ix.current.Load()
	limit := g.nextSlot.Load()

	remap := make(map[uint32]uint32)
	var next uint32
	for slot := uint32(0); slot < limit; slot++ {
		if g.node(slot) == nil || g.tombstones.Test(uint64(slot)) {
			continue
		}
		remap[slot] = next
		next++
	}

	out := make([]NodeDump, 0, next)
	for slot := uint32(0); slot < limit; slot++ {
		if _, ok := remap[slot]; !ok {
			continue
		}
		n := g.node(slot)

		layers := make([][]uint32, int(n.level)+1)
		for l := range layers {
			conns := n.connections(l)
			kept := make([]uint32, 0, len(conns))
			for _, c := range conns {
				if target, live := remap[c.slot]; live {
					kept = append(kept, target)
				}
			}
			layers[l] = kept
		}

		vec := make([]float32, len(n.vector))
		copy(vec, n.vector)

		out = append(out, NodeDump{
			ID:         n.id,
			Mask:       n.mask,
			Generation: n.generation,
			Level:      n.level,
			Vector:     vec,
			Layers:     layers,
		})
	}

	return out
}

// Restore builds an index directly from a dump, reconstructing nodes
// and edges without re-running insertion.
func Restore(dimension int, dump []NodeDump, optFns ...Option) (*Index, error) {
	ix, err := New(dimension, optFns...)
	if err != nil {
		return nil, err
	}

	g := ix.current.Load()

	var maxLevel int32 = -1
	var entry uint32
	for i, nd := range dump {
		slot := uint32(i)

		if len(nd.Vector) != dimension {
			return nil, &ErrDimensionMismatch{Expected: dimension, Actual: len(nd.Vector)}
		}
		if len(nd.Layers) != int(nd.Level)+1 {
			return nil, fmt.Errorf("node %s: %d layers for level %d", nd.ID, len(nd.Layers), nd.Level)
		}

		n := newNode(nd.ID, nd.Mask, nd.Generation, nd.Level, nd.Vector)
		g.tombstones.Grow(uint64(slot) + 1)
		g.setNode(slot, n)
		g.byID[nd.ID] = slot

		if nd.Level > maxLevel {
			maxLevel = nd.Level
			entry = slot
		}
	}

	// Second pass: edges need every node present to resolve distances.
	for i, nd := range dump {
		n := g.node(uint32(i))
		for l, edges := range nd.Layers {
			conns := make([]neighbor, 0, len(edges))
			for _, target := range edges {
				if int(target) >= len(dump) {
					return nil, fmt.Errorf("node %s: edge to unknown slot %d", nd.ID, target)
				}
				conns = append(conns, neighbor{
					slot: target,
					dist: ix.distToSlot(g, n.vector, target),
				})
			}
			n.storeConnections(l, conns)
		}
	}

	g.nextSlot.Store(uint32(len(dump)))
	g.live.Store(int64(len(dump)))
	g.maxLevel.Store(maxLevel)
	g.entrySlot.Store(entry)

	return ix, nil
}

// Entries iterates over the live index entries in slot order. Vectors
// are shared read-only views.
func (ix *Index) Entries() iter.Seq[model.IndexEntry] {
	return func(yield func(model.IndexEntry) bool) {
		g := ix.current.Load()
		limit := g.nextSlot.Load()
		for slot := uint32(0); slot < limit; slot++ {
			n := g.node(slot)
			if n == nil || g.tombstones.Test(uint64(slot)) {
				continue
			}
			entry := model.IndexEntry{
				ID: n.id,
				Composite: model.CompositeVector{
					ID:         n.id,
					Components: n.vector,
					Mask:       n.mask,
				},
				Generation: n.generation,
			}
			if !yield(entry) {
				return
			}
		}
	}
}
