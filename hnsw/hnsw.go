// Package hnsw implements the approximate nearest neighbor index: a
// hierarchical navigable small world graph over composite track
// vectors.
//
// Nodes live in a segmented slot store referenced by integer handles.
// Connection lists are replaced copy-on-write, so searches read the
// graph without locks while mutations take narrow sharded locks.
// Removal tombstones the slot; traversal skips tombstoned nodes lazily
// and Compact reclaims them.
package hnsw

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/harmonia/distance"
	"github.com/hupe1980/harmonia/internal/bitset"
	"github.com/hupe1980/harmonia/internal/searcher"
	"github.com/hupe1980/harmonia/model"
)

const (
	// minimumM is the minimum valid value for M.
	minimumM = 2

	// DefaultM is the default number of bidirectional links per node.
	DefaultM = 8

	// DefaultBreadth is the default beam width of the layer-0 search.
	DefaultBreadth = 200

	// mmax0Multiplier is the multiplier for the layer-0 degree bound.
	mmax0Multiplier = 2

	// nodeSegmentSize is the node count per storage segment. Segments
	// avoid copying the whole node array during growth.
	nodeSegmentBits = 12
	nodeSegmentSize = 1 << nodeSegmentBits
	nodeSegmentMask = nodeSegmentSize - 1

	// deadlineCheckMask controls how often the layer search polls the
	// context deadline (every 64 frontier pops).
	deadlineCheckMask = 63
)

// Options configures the index.
type Options struct {
	// Dimension is the composite vector width. Required.
	Dimension int

	// M is the maximum number of bidirectional links per node above
	// layer 0; layer 0 allows 2*M.
	M int

	// Breadth is the default layer-0 beam width used when a search does
	// not supply its own.
	Breadth int

	// Heuristic enables the relative-neighborhood selection heuristic
	// instead of plain nearest-M.
	Heuristic bool

	// RandomSeed fixes level assignment, making the graph structure
	// reproducible for a fixed insert order.
	RandomSeed *int64

	// Logger receives structured debug output. Nil disables logging.
	Logger *slog.Logger
}

// Option configures the index.
type Option func(*Options)

// DefaultOptions are the defaults applied by New.
var DefaultOptions = Options{
	M:         DefaultM,
	Breadth:   DefaultBreadth,
	Heuristic: true,
}

// Result is one search hit. Generation is the entry's generation at
// the time the hit was collected; callers compare it against the
// current entry to detect concurrent replacement.
type Result struct {
	ID         model.TrackID
	Distance   float32
	Generation uint64
}

// neighbor is one directed edge with its cached distance.
type neighbor struct {
	slot uint32
	dist float32
}

// node is an immutable vector plus mutable connection lists. The
// connection slices are replaced wholesale, never mutated in place.
type node struct {
	id         model.TrackID
	mask       model.AvailabilityMask
	generation uint64
	level      int32
	vector     []float32
	layers     []connList
}

type connList struct {
	p atomic.Pointer[[]neighbor]
}

func newNode(id model.TrackID, mask model.AvailabilityMask, generation uint64, level int32, vector []float32) *node {
	return &node{
		id:         id,
		mask:       mask,
		generation: generation,
		level:      level,
		vector:     vector,
		layers:     make([]connList, level+1),
	}
}

func (n *node) connections(level int) []neighbor {
	if level > int(n.level) {
		return nil
	}
	p := n.layers[level].p.Load()
	if p == nil {
		return nil
	}
	return *p
}

// storeConnections publishes conns for the level. The caller must not
// retain or mutate the slice afterwards.
func (n *node) storeConnections(level int, conns []neighbor) {
	if level > int(n.level) {
		return
	}
	n.layers[level].p.Store(&conns)
}

type nodeSegment [nodeSegmentSize]atomic.Pointer[node]

// graph holds the mutable index state. Compact builds a fresh graph
// and swaps it in RCU-style, so in-flight searches keep a consistent
// view.
type graph struct {
	entrySlot atomic.Uint32
	maxLevel  atomic.Int32
	nextSlot  atomic.Uint32
	live      atomic.Int64

	nodes   atomic.Pointer[[]*nodeSegment]
	nodesMu sync.Mutex

	idsMu sync.RWMutex
	byID  map[model.TrackID]uint32

	shardedLocks []sync.RWMutex
	tombstones   *bitset.BitSet
}

func newEmptyGraph() *graph {
	g := &graph{
		byID:         make(map[model.TrackID]uint32),
		shardedLocks: make([]sync.RWMutex, 1024),
		tombstones:   bitset.New(1024),
	}
	g.maxLevel.Store(-1)
	nodes := make([]*nodeSegment, 1)
	nodes[0] = new(nodeSegment)
	g.nodes.Store(&nodes)
	return g
}

func (g *graph) node(slot uint32) *node {
	nodes := g.nodes.Load()
	segIdx := int(slot >> nodeSegmentBits)
	if nodes == nil || segIdx >= len(*nodes) || (*nodes)[segIdx] == nil {
		return nil
	}
	return (*nodes)[segIdx][slot&nodeSegmentMask].Load()
}

func (g *graph) setNode(slot uint32, n *node) {
	g.growNodes(slot)
	nodes := g.nodes.Load()
	(*nodes)[slot>>nodeSegmentBits][slot&nodeSegmentMask].Store(n)
}

func (g *graph) growNodes(slot uint32) {
	segIdx := int(slot >> nodeSegmentBits)

	nodes := g.nodes.Load()
	if nodes != nil && segIdx < len(*nodes) && (*nodes)[segIdx] != nil {
		return
	}

	g.nodesMu.Lock()
	defer g.nodesMu.Unlock()

	nodes = g.nodes.Load()
	var current []*nodeSegment
	if nodes != nil {
		current = *nodes
	}
	if segIdx < len(current) && current[segIdx] != nil {
		return
	}

	grown := current
	for len(grown) <= segIdx {
		grown = append(grown, new(nodeSegment))
	}
	g.nodes.Store(&grown)
}

func (g *graph) shard(slot uint32) *sync.RWMutex {
	return &g.shardedLocks[uint64(slot)%uint64(len(g.shardedLocks))]
}

// Index is the hierarchical navigable small world graph.
type Index struct {
	current atomic.Pointer[graph]

	dimension        int
	maxConnsPerLayer int
	maxConnsLayer0   int
	breadth          int
	heuristic        bool
	levelMultiplier  float64
	seed             uint64

	// metric scores two prepared (L2-normalized) vectors.
	metric distance.Func

	logger *slog.Logger

	// writeGate excludes mutations during Compact. Mutations take the
	// read side; Compact takes the write side.
	writeGate sync.RWMutex
}

// New creates an empty index.
func New(dimension int, optFns ...Option) (*Index, error) {
	opts := DefaultOptions
	opts.Dimension = dimension
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, &ErrDimensionMismatch{Expected: 1, Actual: opts.Dimension}
	}
	if opts.M < minimumM {
		opts.M = minimumM
	}
	if opts.Breadth <= 0 {
		opts.Breadth = DefaultBreadth
	}

	var seed uint64
	if opts.RandomSeed != nil {
		seed = uint64(*opts.RandomSeed)
	} else {
		seed = uint64(time.Now().UnixNano())
	}

	ix := &Index{
		dimension:        opts.Dimension,
		maxConnsPerLayer: opts.M,
		maxConnsLayer0:   mmax0Multiplier * opts.M,
		breadth:          opts.Breadth,
		heuristic:        opts.Heuristic,
		levelMultiplier:  1.0 / math.Log(float64(opts.M)),
		seed:             seed,
		metric:           distance.CosineUnit,
		logger:           opts.Logger,
	}
	ix.current.Store(newEmptyGraph())

	return ix, nil
}

// WithM sets the per-node link bound.
func WithM(m int) Option {
	return func(o *Options) { o.M = m }
}

// WithBreadth sets the default search beam width.
func WithBreadth(breadth int) Option {
	return func(o *Options) { o.Breadth = breadth }
}

// WithHeuristic toggles heuristic neighbor selection.
func WithHeuristic(enabled bool) Option {
	return func(o *Options) { o.Heuristic = enabled }
}

// WithRandomSeed fixes the level-assignment seed.
func WithRandomSeed(seed int64) Option {
	return func(o *Options) { o.RandomSeed = &seed }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Dimension returns the composite vector width the index accepts.
func (ix *Index) Dimension() int {
	return ix.dimension
}

// Len returns the number of live (non-tombstoned) entries.
func (ix *Index) Len() int {
	return int(ix.current.Load().live.Load())
}

// levelForSlot derives the node level from the slot via a splitmix64
// hash, so level assignment is deterministic for a fixed seed.
func (ix *Index) levelForSlot(slot uint32) int32 {
	x := uint64(slot) ^ ix.seed
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	x ^= x >> 31

	const inv = 1.0 / (1 << 53)
	r := float64(x>>11) * inv
	if r == 0 {
		r = inv
	}
	return int32(math.Floor(-math.Log(r) * ix.levelMultiplier))
}

func (ix *Index) maxConnsFor(level int) int {
	if level == 0 {
		return ix.maxConnsLayer0
	}
	return ix.maxConnsPerLayer
}

// prepareVector validates and normalizes an input vector into a fresh
// copy.
func (ix *Index) prepareVector(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, ErrEmptyVector
	}
	if len(v) != ix.dimension {
		return nil, &ErrDimensionMismatch{Expected: ix.dimension, Actual: len(v)}
	}
	vec := make([]float32, len(v))
	copy(vec, v)
	// A zero vector stays zero and keeps maximal distance to everything.
	distance.NormalizeL2InPlace(vec)
	return vec, nil
}

func (ix *Index) distToSlot(g *graph, query []float32, slot uint32) float32 {
	n := g.node(slot)
	if n == nil {
		return math.MaxFloat32
	}
	return ix.metric(query, n.vector)
}

// Insert adds a new track. It fails with ErrDuplicateTrack if the
// track is already indexed; callers must Update instead.
func (ix *Index) Insert(ctx context.Context, cv model.CompositeVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	vec, err := ix.prepareVector(cv.Components)
	if err != nil {
		return err
	}

	ix.writeGate.RLock()
	defer ix.writeGate.RUnlock()

	g := ix.current.Load()

	g.idsMu.Lock()
	if _, ok := g.byID[cv.ID]; ok {
		g.idsMu.Unlock()
		return &ErrDuplicateTrack{ID: cv.ID}
	}
	slot := g.nextSlot.Add(1) - 1
	g.byID[cv.ID] = slot
	g.idsMu.Unlock()

	level := ix.levelForSlot(slot)
	n := newNode(cv.ID, cv.Mask, 1, level, vec)

	g.tombstones.Grow(uint64(slot) + 1)
	g.setNode(slot, n)

	if err := ix.link(ctx, g, slot, n, true); err != nil {
		return err
	}

	if ix.logger != nil {
		ix.logger.Debug("index insert", "track", cv.ID, "slot", slot, "level", level)
	}

	return nil
}

// Update replaces a track's composite vector, reusing the node slot
// and bumping its generation. Fails with ErrTrackNotFound if the track
// is not indexed.
func (ix *Index) Update(ctx context.Context, cv model.CompositeVector) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	vec, err := ix.prepareVector(cv.Components)
	if err != nil {
		return err
	}

	ix.writeGate.RLock()
	defer ix.writeGate.RUnlock()

	g := ix.current.Load()

	g.idsMu.RLock()
	slot, ok := g.byID[cv.ID]
	g.idsMu.RUnlock()
	if !ok {
		return &ErrTrackNotFound{ID: cv.ID}
	}

	old := g.node(slot)
	if old == nil {
		return &ErrTrackNotFound{ID: cv.ID}
	}

	// The replacement keeps the old level and starts from the old
	// connections, so the graph stays connected while it is re-linked
	// from the node's new position.
	n := newNode(cv.ID, cv.Mask, old.generation+1, old.level, vec)
	for l := 0; l <= int(old.level); l++ {
		if conns := old.connections(l); len(conns) > 0 {
			cp := make([]neighbor, len(conns))
			copy(cp, conns)
			n.storeConnections(l, cp)
		}
	}

	lock := g.shard(slot)
	lock.Lock()
	g.setNode(slot, n)
	lock.Unlock()

	if err := ix.link(ctx, g, slot, n, false); err != nil {
		return err
	}

	if ix.logger != nil {
		ix.logger.Debug("index update", "track", cv.ID, "slot", slot, "generation", n.generation)
	}

	return nil
}

// Upsert inserts the track or updates it if already indexed.
func (ix *Index) Upsert(ctx context.Context, cv model.CompositeVector) error {
	err := ix.Insert(ctx, cv)
	var dup *ErrDuplicateTrack
	if errors.As(err, &dup) {
		return ix.Update(ctx, cv)
	}
	return err
}

// Remove tombstones a track. Edges pointing at it are skipped lazily
// during traversal and reclaimed by Compact. Removing an unknown track
// is a no-op.
func (ix *Index) Remove(ctx context.Context, id model.TrackID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ix.writeGate.RLock()
	defer ix.writeGate.RUnlock()

	g := ix.current.Load()

	g.idsMu.Lock()
	slot, ok := g.byID[id]
	if ok {
		delete(g.byID, id)
	}
	g.idsMu.Unlock()
	if !ok {
		return nil
	}

	lock := g.shard(slot)
	lock.Lock()
	defer lock.Unlock()

	g.tombstones.Grow(uint64(slot) + 1)
	if g.tombstones.TestAndSet(uint64(slot)) {
		return nil
	}
	g.live.Add(-1)

	if ix.logger != nil {
		ix.logger.Debug("index remove", "track", id, "slot", slot)
	}

	return nil
}

// Get returns the current index entry for a track. The returned vector
// is shared and must not be mutated.
func (ix *Index) Get(id model.TrackID) (model.IndexEntry, bool) {
	g := ix.current.Load()

	g.idsMu.RLock()
	slot, ok := g.byID[id]
	g.idsMu.RUnlock()
	if !ok {
		return model.IndexEntry{}, false
	}
	if g.tombstones.Test(uint64(slot)) {
		return model.IndexEntry{}, false
	}

	n := g.node(slot)
	if n == nil {
		return model.IndexEntry{}, false
	}

	return model.IndexEntry{
		ID: id,
		Composite: model.CompositeVector{
			ID:         id,
			Components: n.vector,
			Mask:       n.mask,
		},
		Generation: n.generation,
	}, true
}

// Has reports whether a track is indexed and live.
func (ix *Index) Has(id model.TrackID) bool {
	_, ok := ix.Get(id)
	return ok
}

// link connects a published node into the graph, handling the
// first-node case and entry point races.
func (ix *Index) link(ctx context.Context, g *graph, slot uint32, n *node, countLive bool) error {
	retries := 0
	for {
		if countLive && g.live.Load() == 0 {
			if g.live.CompareAndSwap(0, 1) {
				g.entrySlot.Store(slot)
				g.maxLevel.Store(n.level)
				return nil
			}
			// Lost the race, fall through to a normal insert.
		}

		err := ix.insertNode(ctx, g, slot, n)
		if errors.Is(err, errEntryPointDeleted) {
			retries++
			if retries > 10 {
				ix.recoverEntryPoint(g)
				retries = 0
			}
			runtime.Gosched()
			continue
		}
		if err != nil {
			return err
		}

		if countLive {
			g.live.Add(1)
		}
		ix.updateEntryPoint(g, slot, int(n.level))
		return nil
	}
}

// insertNode performs the graph traversal and linking.
func (ix *Index) insertNode(ctx context.Context, g *graph, slot uint32, n *node) error {
	epSlot := g.entrySlot.Load()
	ep := g.node(epSlot)
	if ep == nil {
		return errEntryPointDeleted
	}

	currSlot := epSlot
	currDist := ix.metric(n.vector, ep.vector)

	maxLevel := int(g.maxLevel.Load())
	for level := maxLevel; level > int(n.level); level-- {
		currSlot, currDist = ix.greedyStep(g, n.vector, currSlot, currDist, level)
	}

	s := searcher.Get()
	defer searcher.Put(s)

	for level := min(int(n.level), maxLevel); level >= 0; level-- {
		ix.searchLayer(ctx, s, g, n.vector, currSlot, currDist, level, ix.breadth, nil)

		// Best candidate seeds the next lower level.
		if best, ok := s.Results.Min(); ok {
			currSlot = best.Node
			currDist = best.Distance
		}

		maxConns := ix.maxConnsFor(level)
		cands := extractAscending(s.Results, s)
		selected := ix.selectNeighbors(g, cands, maxConns)

		conns := make([]neighbor, len(selected))
		for i, it := range selected {
			conns[i] = neighbor{slot: it.Node, dist: it.Distance}
		}

		lock := g.shard(slot)
		lock.Lock()
		n.storeConnections(level, conns)
		lock.Unlock()

		for _, it := range selected {
			ix.addConnection(g, it.Node, slot, level, it.Distance)
		}
	}

	return nil
}

// greedyStep walks one layer greedily toward the query.
func (ix *Index) greedyStep(g *graph, query []float32, currSlot uint32, currDist float32, level int) (uint32, float32) {
	for {
		changed := false
		n := g.node(currSlot)
		if n != nil {
			for _, nb := range n.connections(level) {
				d := ix.distToSlot(g, query, nb.slot)
				if d < currDist {
					currSlot = nb.slot
					currDist = d
					changed = true
				}
			}
		}
		if !changed {
			return currSlot, currDist
		}
	}
}

// searchLayer runs a beam search over one layer, filling s.Results
// with up to ef non-tombstoned candidates. When truncated is non-nil,
// the context deadline is polled and traversal stops early, flagging
// the partial result.
func (ix *Index) searchLayer(ctx context.Context, s *searcher.Searcher, g *graph, query []float32, epSlot uint32, epDist float32, level, ef int, truncated *bool) {
	s.Visited.Reset()
	s.Frontier.Reset()
	s.Results.Reset()

	s.Visited.Visit(epSlot)
	s.Frontier.Push(searcher.Item{Node: epSlot, Distance: epDist})
	if !g.tombstones.Test(uint64(epSlot)) {
		s.Results.Push(searcher.Item{Node: epSlot, Distance: epDist})
	}

	steps := 0
	for s.Frontier.Len() > 0 {
		if truncated != nil {
			steps++
			if steps&deadlineCheckMask == 0 && ctx.Err() != nil {
				*truncated = true
				return
			}
		}

		curr, _ := s.Frontier.Pop()

		if s.Results.Len() >= ef {
			if worst, ok := s.Results.Top(); ok && curr.Distance > worst.Distance {
				break
			}
		}

		n := g.node(curr.Node)
		if n == nil {
			continue
		}

		for _, nb := range n.connections(level) {
			if s.Visited.Visited(nb.slot) {
				continue
			}
			s.Visited.Visit(nb.slot)

			d := ix.distToSlot(g, query, nb.slot)

			if s.Results.Len() >= ef {
				if worst, _ := s.Results.Top(); d > worst.Distance {
					continue
				}
			}

			s.Frontier.Push(searcher.Item{Node: nb.slot, Distance: d})
			if !g.tombstones.Test(uint64(nb.slot)) {
				s.Results.PushBounded(searcher.Item{Node: nb.slot, Distance: d}, ef)
			}
		}
	}
}

// extractAscending drains a max-heap into a distance-ascending slice
// backed by the searcher's scratch buffer.
func extractAscending(q *searcher.Queue, s *searcher.Searcher) []searcher.Item {
	out := s.ScratchItems[:0]
	for q.Len() > 0 {
		it, _ := q.Pop()
		out = append(out, it)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	s.ScratchItems = out
	return out
}

// selectNeighbors picks up to m neighbors from distance-ascending
// candidates. With the heuristic enabled, a candidate is kept only if
// it is closer to the query node than to every already kept neighbor,
// which spreads edges around the query instead of clustering them.
func (ix *Index) selectNeighbors(g *graph, cands []searcher.Item, m int) []searcher.Item {
	if len(cands) <= m {
		return cands
	}
	if !ix.heuristic {
		return cands[:m]
	}

	result := make([]searcher.Item, 0, m)
	for _, c := range cands {
		if len(result) >= m {
			break
		}
		cn := g.node(c.Node)
		if cn == nil {
			continue
		}
		good := true
		for _, r := range result {
			rn := g.node(r.Node)
			if rn != nil && ix.metric(cn.vector, rn.vector) < c.Distance {
				good = false
				break
			}
		}
		if good {
			result = append(result, c)
		}
	}

	// Fill up with the nearest skipped candidates.
	for _, c := range cands {
		if len(result) >= m {
			break
		}
		found := false
		for _, r := range result {
			if r.Node == c.Node {
				found = true
				break
			}
		}
		if !found {
			result = append(result, c)
		}
	}

	return result
}

// addConnection adds a back-link, pruning the source's connection list
// when it exceeds its degree bound.
func (ix *Index) addConnection(g *graph, sourceSlot, targetSlot uint32, level int, dist float32) {
	lock := g.shard(sourceSlot)
	lock.Lock()
	defer lock.Unlock()

	n := g.node(sourceSlot)
	if n == nil || level > int(n.level) {
		return
	}

	conns := n.connections(level)
	for _, c := range conns {
		if c.slot == targetSlot {
			return
		}
	}

	maxM := ix.maxConnsFor(level)
	if len(conns) < maxM {
		grown := make([]neighbor, 0, len(conns)+1)
		grown = append(grown, conns...)
		grown = append(grown, neighbor{slot: targetSlot, dist: dist})
		n.storeConnections(level, grown)
		return
	}

	cands := make([]searcher.Item, 0, len(conns)+1)
	for _, c := range conns {
		cands = append(cands, searcher.Item{Node: c.slot, Distance: c.dist})
	}
	cands = append(cands, searcher.Item{Node: targetSlot, Distance: dist})
	sort.Slice(cands, func(i, j int) bool { return cands[i].Distance < cands[j].Distance })

	selected := ix.selectNeighbors(g, cands, maxM)
	pruned := make([]neighbor, len(selected))
	for i, it := range selected {
		pruned[i] = neighbor{slot: it.Node, dist: it.Distance}
	}
	n.storeConnections(level, pruned)
}

func (ix *Index) updateEntryPoint(g *graph, slot uint32, level int) {
	for {
		oldMax := g.maxLevel.Load()
		if level <= int(oldMax) {
			return
		}
		if g.maxLevel.CompareAndSwap(oldMax, int32(level)) {
			g.entrySlot.Store(slot)
			return
		}
	}
}

func (ix *Index) recoverEntryPoint(g *graph) {
	epSlot := g.entrySlot.Load()
	if g.node(epSlot) != nil {
		return
	}

	limit := g.nextSlot.Load()
	for slot := uint32(0); slot < limit; slot++ {
		n := g.node(slot)
		if n == nil || g.tombstones.Test(uint64(slot)) {
			continue
		}
		g.entrySlot.Store(slot)
		g.maxLevel.Store(n.level)
		return
	}

	g.live.Store(0)
}

// Search returns the approximately k nearest live tracks, ordered by
// ascending composite distance. breadth <= 0 falls back to the index
// default; larger breadth trades latency for recall. The second return
// reports deadline truncation: the results are a valid best-effort
// prefix of the traversal, not a failure.
func (ix *Index) Search(ctx context.Context, query []float32, k, breadth int) ([]Result, bool, error) {
	if k <= 0 {
		return nil, false, ErrInvalidK
	}
	if len(query) != ix.dimension {
		return nil, false, &ErrDimensionMismatch{Expected: ix.dimension, Actual: len(query)}
	}

	g := ix.current.Load()
	if g.live.Load() == 0 {
		return nil, false, nil
	}

	epSlot := g.entrySlot.Load()
	if g.node(epSlot) == nil {
		return nil, false, nil
	}

	s := searcher.Get()
	defer searcher.Put(s)

	q := make([]float32, len(query))
	copy(q, query)
	distance.NormalizeL2InPlace(q)

	ef := breadth
	if ef <= 0 {
		ef = ix.breadth
	}
	if ef < k {
		ef = k
	}

	currSlot := epSlot
	currDist := ix.distToSlot(g, q, epSlot)
	for level := int(g.maxLevel.Load()); level > 0; level-- {
		currSlot, currDist = ix.greedyStep(g, q, currSlot, currDist, level)
	}

	truncated := false
	ix.searchLayer(ctx, s, g, q, currSlot, currDist, 0, ef, &truncated)

	for s.Results.Len() > k {
		_, _ = s.Results.Pop()
	}

	out := make([]Result, s.Results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		it, _ := s.Results.Pop()
		n := g.node(it.Node)
		if n == nil {
			continue
		}
		out[i] = Result{ID: n.id, Distance: it.Distance, Generation: n.generation}
	}

	return out, truncated, nil
}

// BruteSearch scans every live entry and returns the exact k nearest
// by composite distance. Used for ground truth and tiny catalogs.
func (ix *Index) BruteSearch(ctx context.Context, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(query) != ix.dimension {
		return nil, &ErrDimensionMismatch{Expected: ix.dimension, Actual: len(query)}
	}

	g := ix.current.Load()

	q := make([]float32, len(query))
	copy(q, query)
	distance.NormalizeL2InPlace(q)

	pq := searcher.NewQueue(true)
	limit := g.nextSlot.Load()
	for slot := uint32(0); slot < limit; slot++ {
		if slot&deadlineCheckMask == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n := g.node(slot)
		if n == nil || g.tombstones.Test(uint64(slot)) {
			continue
		}
		pq.PushBounded(searcher.Item{Node: slot, Distance: ix.metric(q, n.vector)}, k)
	}

	out := make([]Result, pq.Len())
	for i := len(out) - 1; i >= 0; i-- {
		it, _ := pq.Pop()
		n := g.node(it.Node)
		out[i] = Result{ID: n.id, Distance: it.Distance, Generation: n.generation}
	}

	return out, nil
}
