package harmonia

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/harmonia/catalog"
	"github.com/hupe1980/harmonia/distance"
	"github.com/hupe1980/harmonia/engine"
	"github.com/hupe1980/harmonia/fusion"
	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
	"github.com/hupe1980/harmonia/persistence"
)

// Query is a recommendation request. See engine.Query for field
// documentation.
type Query = engine.Query

// Result is a recommendation response.
type Result = engine.Result

// components groups the swappable engine internals so Load can
// replace them atomically.
type components struct {
	store   *catalog.Store
	encoder *fusion.Encoder
	index   *hnsw.Index
	dist    *distance.Engine
	coord   *engine.Coordinator
}

// Engine is the hybrid music similarity engine: a modality catalog, a
// fusion encoder, an ANN index over fused composites and a query
// coordinator, behind one facade. Safe for concurrent use.
type Engine struct {
	layout  model.Layout
	opts    options
	metrics MetricsCollector
	logger  *Logger
	pm      *persistence.Manager

	mu   sync.RWMutex
	comp components

	maintOpts   *hnsw.MaintenanceOptions
	maintCancel context.CancelFunc
	maintDone   chan struct{}
	closed      atomic.Bool
}

// New creates an engine with the given options.
func New(optFns ...Option) (*Engine, error) {
	opts := applyOptions(optFns)

	comp, err := buildComponents(opts, nil)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		layout:  opts.layout,
		opts:    opts,
		metrics: opts.metrics,
		logger:  opts.logger,
		comp:    comp,
	}

	if opts.persist {
		popts := append([]persistence.Option{
			persistence.WithLogger(opts.logger.Slog()),
		}, opts.persistenceOpts...)
		pm, err := persistence.NewManager(opts.snapshotPath, popts...)
		if err != nil {
			return nil, err
		}
		e.pm = pm
	}

	if opts.maintenance != nil {
		mo := *opts.maintenance
		userHook := mo.OnCompact
		mo.OnCompact = func(reclaimed int, elapsed time.Duration) {
			e.metrics.RecordCompaction(reclaimed, elapsed)
			e.logger.Info("index compacted", "reclaimed", reclaimed, "elapsed", elapsed)
			if userHook != nil {
				userHook(reclaimed, elapsed)
			}
		}
		e.maintOpts = &mo
		e.startMaintenance()
	}

	return e, nil
}

func buildComponents(opts options, dump []hnsw.NodeDump) (components, error) {
	encoder, err := fusion.NewEncoder(opts.layout, opts.fusionOpts...)
	if err != nil {
		return components{}, translateError(err)
	}

	indexOpts := append([]hnsw.Option{
		hnsw.WithLogger(opts.logger.Slog()),
	}, opts.indexOpts...)

	var index *hnsw.Index
	if dump != nil {
		index, err = hnsw.Restore(opts.layout.Dimension(), dump, indexOpts...)
	} else {
		index, err = hnsw.New(opts.layout.Dimension(), indexOpts...)
	}
	if err != nil {
		return components{}, translateError(err)
	}

	store := catalog.New(opts.layout, catalog.WithLogger(opts.logger.Slog()))
	dist := distance.NewEngine(opts.layout)

	engineOpts := append([]engine.Option{
		engine.WithLogger(opts.logger.Slog()),
	}, opts.engineOpts...)
	coord := engine.New(store, encoder, index, dist, engineOpts...)

	return components{
		store:   store,
		encoder: encoder,
		index:   index,
		dist:    dist,
		coord:   coord,
	}, nil
}

func (e *Engine) components() components {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.comp
}

// Layout returns the immutable composite layout.
func (e *Engine) Layout() model.Layout {
	return e.layout
}

// Put upserts one modality vector for a track and refreshes its fused
// composite in the index.
func (e *Engine) Put(ctx context.Context, id model.TrackID, m model.Modality, vec []float32) error {
	start := time.Now()
	err := e.put(ctx, id, m, vec)
	e.metrics.RecordUpsert(time.Since(start), err)
	if err != nil {
		e.logger.Error("put failed", "track", string(id), "modality", m.String(), "error", err)
	} else {
		e.logger.Debug("put completed", "track", string(id), "modality", m.String())
	}
	return err
}

func (e *Engine) put(ctx context.Context, id model.TrackID, m model.Modality, vec []float32) error {
	if e.closed.Load() {
		return ErrClosed
	}
	comp := e.components()

	if err := comp.store.Put(id, m, vec); err != nil {
		return translateError(err)
	}

	rec, ok := comp.store.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	cv, err := comp.encoder.Encode(rec)
	if err != nil {
		return translateError(err)
	}
	return translateError(comp.index.Upsert(ctx, cv))
}

// PutMeta upserts track metadata. Metadata does not affect the fused
// composite, so the index is untouched.
func (e *Engine) PutMeta(id model.TrackID, meta model.TrackMeta) error {
	if e.closed.Load() {
		return ErrClosed
	}
	e.components().store.PutMeta(id, meta)
	return nil
}

// Get returns a copy of the track's catalog record.
func (e *Engine) Get(id model.TrackID) (model.TrackRecord, bool) {
	return e.components().store.Get(id)
}

// Meta returns the track's metadata.
func (e *Engine) Meta(id model.TrackID) (model.TrackMeta, bool) {
	return e.components().store.Meta(id)
}

// Composite returns the track's current fused composite from the
// index.
func (e *Engine) Composite(id model.TrackID) (model.IndexEntry, bool) {
	return e.components().index.Get(id)
}

// Remove deletes a track from the catalog and tombstones it in the
// index. Removing an unknown track is a no-op.
func (e *Engine) Remove(ctx context.Context, id model.TrackID) error {
	start := time.Now()
	err := e.remove(ctx, id)
	e.metrics.RecordRemove(time.Since(start), err)
	return err
}

func (e *Engine) remove(ctx context.Context, id model.TrackID) error {
	if e.closed.Load() {
		return ErrClosed
	}
	comp := e.components()

	if err := comp.store.Remove(id); err != nil {
		return translateError(err)
	}
	return translateError(comp.index.Remove(ctx, id))
}

// ListMissing yields IDs of live tracks lacking the given modality,
// for backfill pipelines.
func (e *Engine) ListMissing(m model.Modality) iter.Seq[model.TrackID] {
	return e.components().store.ListMissing(m)
}

// Len returns the number of live tracks.
func (e *Engine) Len() int {
	return e.components().store.Len()
}

// IndexStats returns counters describing the ANN index.
func (e *Engine) IndexStats() hnsw.Stats {
	return e.components().index.Stats()
}

// Recommend runs an approximate search plus exact re-rank and returns
// up to q.K recommendations.
func (e *Engine) Recommend(ctx context.Context, q Query) (*Result, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	start := time.Now()
	res, err := e.components().coord.Recommend(ctx, q)
	var partial bool
	if res != nil {
		partial = res.Partial
	}
	e.metrics.RecordRecommend(q.K, time.Since(start), partial, err)
	if err != nil {
		return nil, translateError(err)
	}
	return res, nil
}

// Compact rebuilds the index without tombstoned nodes and returns the
// number of reclaimed slots.
func (e *Engine) Compact(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	start := time.Now()
	reclaimed, err := e.components().index.Compact(ctx)
	if err == nil {
		e.metrics.RecordCompaction(reclaimed, time.Since(start))
	}
	return reclaimed, translateError(err)
}

// Save writes a snapshot of the catalog and index to the configured
// persistence targets.
func (e *Engine) Save(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.pm == nil {
		return persistence.ErrNoTarget
	}
	comp := e.components()

	start := time.Now()

	var records []model.TrackRecord
	for rec := range comp.store.All() {
		records = append(records, rec)
	}

	snap := &persistence.Snapshot{
		Layout:    e.layout,
		Dimension: e.layout.Dimension(),
		Records:   records,
		Nodes:     comp.index.Dump(),
	}

	err := e.pm.Save(ctx, snap)
	e.metrics.RecordSnapshot(time.Since(start), err)
	return err
}

// Load replaces the engine state with the most recent snapshot. The
// restored graph is structurally identical to the one dumped, so
// search results survive the round trip exactly.
func (e *Engine) Load(ctx context.Context) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if e.pm == nil {
		return persistence.ErrNoTarget
	}

	start := time.Now()
	err := e.load(ctx)
	e.metrics.RecordSnapshot(time.Since(start), err)
	return err
}

func (e *Engine) load(ctx context.Context) error {
	snap, err := e.pm.Load(ctx)
	if err != nil {
		return err
	}
	if snap.Layout != e.layout {
		return fmt.Errorf("snapshot layout %v does not match engine layout %v", snap.Layout, e.layout)
	}

	comp, err := buildComponents(e.opts, snap.Nodes)
	if err != nil {
		return err
	}
	for _, rec := range snap.Records {
		if err := comp.store.Restore(rec); err != nil {
			return translateError(err)
		}
	}

	e.mu.Lock()
	e.comp = comp
	e.mu.Unlock()

	// The maintenance loop holds the pre-swap index; move it to the
	// restored one.
	if e.maintOpts != nil && !e.closed.Load() {
		e.stopMaintenance()
		e.startMaintenance()
	}

	e.logger.Info("snapshot loaded",
		"records", len(snap.Records),
		"nodes", len(snap.Nodes),
	)
	return nil
}

// Close stops background maintenance and releases persistence
// resources. The engine rejects further operations.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.stopMaintenance()
	if e.pm != nil {
		return e.pm.Close()
	}
	return nil
}

// startMaintenance runs the reclamation loop against the current
// index. Load swaps the index out, so the loop is restarted there
// rather than left maintaining an abandoned graph.
func (e *Engine) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	e.maintCancel = cancel
	e.maintDone = make(chan struct{})

	ix := e.components().index
	done := e.maintDone
	go func() {
		defer close(done)
		// The loop only returns on cancellation or a failed rebuild.
		if err := ix.Maintain(ctx, *e.maintOpts); err != nil {
			e.logger.Error("maintenance loop stopped", "error", err)
		}
	}()
}

func (e *Engine) stopMaintenance() {
	if e.maintCancel == nil {
		return
	}
	e.maintCancel()
	<-e.maintDone
	e.maintCancel = nil
}
