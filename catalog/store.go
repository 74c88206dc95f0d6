// Package catalog implements the vector record store: the per-track
// source of truth for raw modality vectors and metadata.
package catalog

import (
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/harmonia/model"
)

// UpsertHandler is invoked after a vector upsert with a snapshot of the
// changed record. The store calls it outside its lock; handlers may
// call back into the store.
type UpsertHandler func(model.TrackRecord)

// RemoveHandler is invoked after a track has been removed.
type RemoveHandler func(model.TrackID)

// Options holds configuration for the store.
type Options struct {
	Logger   *slog.Logger
	OnUpsert UpsertHandler
	OnRemove RemoveHandler
}

// Option configures the store.
type Option func(*Options)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithOnUpsert registers the re-fusion hook fired after every vector
// upsert.
func WithOnUpsert(h UpsertHandler) Option {
	return func(o *Options) { o.OnUpsert = h }
}

// WithOnRemove registers the hook fired after a track removal.
func WithOnRemove(h RemoveHandler) Option {
	return func(o *Options) { o.OnRemove = h }
}

// Store is an in-memory track record store. Each modality has a fixed
// vector width taken from the layout; vectors of any other width are
// rejected.
//
// Internally tracks are assigned dense uint32 slots so per-modality
// presence can be kept in roaring bitmaps, which makes ListMissing a
// cheap bitmap difference instead of a full scan.
type Store struct {
	layout model.Layout

	mu       sync.RWMutex
	records  map[model.TrackID]*model.TrackRecord
	slots    map[model.TrackID]uint32
	ids      map[uint32]model.TrackID
	nextSlot uint32
	live     *roaring.Bitmap
	presence [model.NumModalities]*roaring.Bitmap

	logger   *slog.Logger
	onUpsert UpsertHandler
	onRemove RemoveHandler
}

// New creates an empty store for the given composite layout.
func New(layout model.Layout, optFns ...Option) *Store {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Store{
		layout:   layout,
		records:  make(map[model.TrackID]*model.TrackRecord),
		slots:    make(map[model.TrackID]uint32),
		ids:      make(map[uint32]model.TrackID),
		live:     roaring.New(),
		logger:   opts.Logger,
		onUpsert: opts.OnUpsert,
		onRemove: opts.OnRemove,
	}
	for m := range s.presence {
		s.presence[m] = roaring.New()
	}

	return s
}

// Layout returns the composite layout the store validates against.
func (s *Store) Layout() model.Layout {
	return s.layout
}

// Put upserts one modality vector for a track, creating the record if
// needed. The vector is copied. Fires the upsert hook with a snapshot
// of the full record.
func (s *Store) Put(id model.TrackID, m model.Modality, vec []float32) error {
	if !m.Valid() {
		return &ErrUnknownModality{Modality: m}
	}

	if want := s.layout.Widths[m]; len(vec) != want {
		return &ErrDimensionMismatch{Modality: m, Expected: want, Actual: len(vec)}
	}

	cp := make([]float32, len(vec))
	copy(cp, vec)

	s.mu.Lock()

	rec, ok := s.records[id]
	if !ok {
		rec = &model.TrackRecord{
			ID:      id,
			Vectors: make(map[model.Modality][]float32, model.NumModalities),
		}
		s.records[id] = rec
		slot := s.nextSlot
		s.nextSlot++
		s.slots[id] = slot
		s.ids[slot] = id
		s.live.Add(slot)
	}

	rec.Vectors[m] = cp
	rec.UpdatedAt = time.Now()
	s.presence[m].Add(s.slots[id])

	snapshot := rec.Clone()
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("catalog put", "track", id, "modality", m.String(), "dim", len(vec))
	}

	if s.onUpsert != nil {
		s.onUpsert(snapshot)
	}

	return nil
}

// PutMeta upserts track metadata, creating the record if needed.
// Metadata changes do not trigger re-fusion.
func (s *Store) PutMeta(id model.TrackID, meta model.TrackMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		rec = &model.TrackRecord{
			ID:      id,
			Vectors: make(map[model.Modality][]float32, model.NumModalities),
		}
		s.records[id] = rec
		slot := s.nextSlot
		s.nextSlot++
		s.slots[id] = slot
		s.ids[slot] = id
		s.live.Add(slot)
	}

	rec.Meta = meta
	rec.UpdatedAt = time.Now()
}

// Restore installs a record wholesale, preserving its timestamp and
// skipping hooks. Used when rebuilding the store from a snapshot; the
// record must already satisfy the layout.
func (s *Store) Restore(rec model.TrackRecord) error {
	for m, vec := range rec.Vectors {
		if !m.Valid() {
			return &ErrUnknownModality{Modality: m}
		}
		if want := s.layout.Widths[m]; len(vec) != want {
			return &ErrDimensionMismatch{Modality: m, Expected: want, Actual: len(vec)}
		}
	}

	cp := rec.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; !ok {
		slot := s.nextSlot
		s.nextSlot++
		s.slots[rec.ID] = slot
		s.ids[slot] = rec.ID
		s.live.Add(slot)
	}
	s.records[rec.ID] = &cp

	slot := s.slots[rec.ID]
	for _, m := range model.Modalities() {
		if _, ok := cp.Vectors[m]; ok {
			s.presence[m].Add(slot)
		} else {
			s.presence[m].Remove(slot)
		}
	}
	return nil
}

// Get returns a copy of the track record.
func (s *Store) Get(id model.TrackID) (model.TrackRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return model.TrackRecord{}, false
	}

	return rec.Clone(), true
}

// Meta returns the track's metadata.
func (s *Store) Meta(id model.TrackID) (model.TrackMeta, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return model.TrackMeta{}, false
	}

	return rec.Meta, true
}

// Remove deletes all modalities and metadata for a track and fires the
// removal hook. Removing an unknown track is a no-op.
func (s *Store) Remove(id model.TrackID) error {
	s.mu.Lock()

	_, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}

	slot := s.slots[id]
	delete(s.records, id)
	delete(s.slots, id)
	delete(s.ids, slot)
	s.live.Remove(slot)
	for m := range s.presence {
		s.presence[m].Remove(slot)
	}

	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Debug("catalog remove", "track", id)
	}

	if s.onRemove != nil {
		s.onRemove(id)
	}

	return nil
}

// ListMissing reports the tracks that have no vector for the given
// modality. The sequence is finite and restartable; each restart
// re-snapshots the store.
func (s *Store) ListMissing(m model.Modality) iter.Seq[model.TrackID] {
	return func(yield func(model.TrackID) bool) {
		if !m.Valid() {
			return
		}

		s.mu.RLock()
		missing := roaring.AndNot(s.live, s.presence[m])
		ids := make([]model.TrackID, 0, missing.GetCardinality())
		it := missing.Iterator()
		for it.HasNext() {
			ids = append(ids, s.ids[it.Next()])
		}
		s.mu.RUnlock()

		for _, id := range ids {
			if !yield(id) {
				return
			}
		}
	}
}

// All iterates over copies of all records. The sequence is a snapshot;
// mutations during iteration are not observed.
func (s *Store) All() iter.Seq[model.TrackRecord] {
	return func(yield func(model.TrackRecord) bool) {
		s.mu.RLock()
		recs := make([]model.TrackRecord, 0, len(s.records))
		for _, rec := range s.records {
			recs = append(recs, rec.Clone())
		}
		s.mu.RUnlock()

		for _, rec := range recs {
			if !yield(rec) {
				return
			}
		}
	}
}

// Len returns the number of tracks in the store.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}
