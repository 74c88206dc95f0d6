package hnsw

// Stats is a point-in-time snapshot of index shape and health.
type Stats struct {
	// Live is the number of searchable entries.
	Live int

	// Tombstones is the number of soft-deleted slots awaiting Compact.
	Tombstones int

	// Slots is the total number of allocated node slots.
	Slots int

	// MaxLevel is the highest populated graph layer.
	MaxLevel int

	// Dimension is the composite vector width.
	Dimension int
}

// Stats returns current index statistics.
func (ix *Index) Stats() Stats {
	g := ix.current.Load()
	return Stats{
		Live:       int(g.live.Load()),
		Tombstones: int(g.tombstones.Count()),
		Slots:      int(g.nextSlot.Load()),
		MaxLevel:   int(g.maxLevel.Load()),
		Dimension:  ix.dimension,
	}
}
