package hnsw

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Compact rebuilds the graph without tombstoned slots and swaps it in.
// Searches already in flight keep the old graph; mutations are blocked
// for the duration of the rebuild. Returns the number of tombstones
// reclaimed.
func (ix *Index) Compact(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	ix.writeGate.Lock()
	defer ix.writeGate.Unlock()

	g := ix.current.Load()
	reclaimed := int(g.tombstones.Count())
	if reclaimed == 0 {
		return 0, nil
	}

	fresh, err := ix.rebuild(ctx, g)
	if err != nil {
		return 0, err
	}
	ix.current.Store(fresh)

	if ix.logger != nil {
		ix.logger.Info("index compacted", "reclaimed", reclaimed, "live", fresh.live.Load())
	}

	return reclaimed, nil
}

// rebuild copies the live nodes of g into a fresh graph, renumbering
// slots densely and dropping edges to dead nodes.
func (ix *Index) rebuild(ctx context.Context, g *graph) (*graph, error) {
	fresh := newEmptyGraph()

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

	var maxLevel int32 = -1
	var entry uint32
	for slot := uint32(0); slot < limit; slot++ {
		if slot&deadlineCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		newSlot, ok := remap[slot]
		if !ok {
			continue
		}
		old := g.node(slot)

		n := newNode(old.id, old.mask, old.generation, old.level, old.vector)
		for l := 0; l <= int(old.level); l++ {
			conns := old.connections(l)
			kept := make([]neighbor, 0, len(conns))
			for _, c := range conns {
				if target, live := remap[c.slot]; live {
					kept = append(kept, neighbor{slot: target, dist: c.dist})
				}
			}
			n.storeConnections(l, kept)
		}

		fresh.tombstones.Grow(uint64(newSlot) + 1)
		fresh.setNode(newSlot, n)
		fresh.byID[old.id] = newSlot

		if old.level > maxLevel {
			maxLevel = old.level
			entry = newSlot
		}
	}

	fresh.nextSlot.Store(next)
	fresh.live.Store(int64(next))
	fresh.maxLevel.Store(maxLevel)
	fresh.entrySlot.Store(entry)

	return fresh, nil
}

// MaintenanceOptions tunes the background compaction loop.
type MaintenanceOptions struct {
	// Interval is the minimum time between compaction checks.
	Interval time.Duration

	// TombstoneRatio is the dead/total fraction above which a check
	// triggers a compaction.
	TombstoneRatio float64

	// OnCompact, if set, is called after each compaction with the
	// number of reclaimed slots and the time it took.
	OnCompact func(reclaimed int, elapsed time.Duration)
}

// DefaultMaintenanceOptions are the defaults applied by Maintain.
var DefaultMaintenanceOptions = MaintenanceOptions{
	Interval:       time.Minute,
	TombstoneRatio: 0.2,
}

// Maintain runs the periodic tombstone reclamation loop until the
// context is cancelled. The loop is rate limited to one check per
// interval so bursts of removals cannot cause back-to-back rebuilds.
func (ix *Index) Maintain(ctx context.Context, opts MaintenanceOptions) error {
	if opts.Interval <= 0 {
		opts.Interval = DefaultMaintenanceOptions.Interval
	}
	if opts.TombstoneRatio <= 0 {
		opts.TombstoneRatio = DefaultMaintenanceOptions.TombstoneRatio
	}

	limiter := rate.NewLimiter(rate.Every(opts.Interval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		g := ix.current.Load()
		dead := float64(g.tombstones.Count())
		total := float64(g.nextSlot.Load())
		if total == 0 || dead/total < opts.TombstoneRatio {
			continue
		}

		start := time.Now()
		reclaimed, err := ix.Compact(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if opts.OnCompact != nil {
			opts.OnCompact(reclaimed, time.Since(start))
		}
	}
}
