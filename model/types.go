// Package model defines the shared core types of the harmonia engine.
package model

import (
	"fmt"
	"time"
)

// TrackID is the user-facing stable identifier of a track.
// It is opaque to the engine and stable across all modalities.
type TrackID string

// Modality identifies one source of feature data for a track.
type Modality uint8

const (
	// ModalityLowLevelAudio covers frame-level audio statistics
	// (MFCC means/stds, spectral centroid/flatness/flux, RMS).
	ModalityLowLevelAudio Modality = iota

	// ModalityHighLevelAudio covers embeddings from a pre-trained
	// audio model.
	ModalityHighLevelAudio

	// ModalityLyricEmbedding covers semantic embeddings of lyrics.
	// Absent for instrumental tracks.
	ModalityLyricEmbedding

	// NumModalities is the number of defined modalities.
	NumModalities = 3
)

func (m Modality) String() string {
	switch m {
	case ModalityLowLevelAudio:
		return "LowLevelAudio"
	case ModalityHighLevelAudio:
		return "HighLevelAudio"
	case ModalityLyricEmbedding:
		return "LyricEmbedding"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(m))
	}
}

// Valid reports whether m is a defined modality.
func (m Modality) Valid() bool {
	return m < NumModalities
}

// Modalities returns all defined modalities in fixed order.
func Modalities() [NumModalities]Modality {
	return [NumModalities]Modality{
		ModalityLowLevelAudio,
		ModalityHighLevelAudio,
		ModalityLyricEmbedding,
	}
}

// ModalityVector is a feature vector tagged with its modality.
// Within one modality all vectors share identical dimensionality.
type ModalityVector struct {
	Modality   Modality
	Components []float32
}

// TrackMeta holds catalog metadata carried alongside the vectors.
// Artist drives the per-artist result cap in the query coordinator.
type TrackMeta struct {
	Artist string
	Title  string
}

// TrackRecord is the per-track source of truth owned by the catalog.
// A track may exist with only a subset of modalities populated.
type TrackRecord struct {
	ID        TrackID
	Vectors   map[Modality][]float32
	Meta      TrackMeta
	UpdatedAt time.Time
}

// Has reports whether the record holds a vector for m.
func (r *TrackRecord) Has(m Modality) bool {
	_, ok := r.Vectors[m]
	return ok
}

// Empty reports whether the record has zero populated modalities.
func (r *TrackRecord) Empty() bool {
	return len(r.Vectors) == 0
}

// Clone returns a deep copy of the record.
func (r *TrackRecord) Clone() TrackRecord {
	out := TrackRecord{
		ID:        r.ID,
		Meta:      r.Meta,
		UpdatedAt: r.UpdatedAt,
		Vectors:   make(map[Modality][]float32, len(r.Vectors)),
	}
	for m, v := range r.Vectors {
		cp := make([]float32, len(v))
		copy(cp, v)
		out.Vectors[m] = cp
	}
	return out
}

// AvailabilityMask records which modality segments of a composite
// vector carry real data (bit set) versus a placeholder (bit clear).
type AvailabilityMask uint8

// Set returns the mask with the bit for m set.
func (a AvailabilityMask) Set(m Modality) AvailabilityMask {
	return a | 1<<m
}

// Has reports whether the bit for m is set.
func (a AvailabilityMask) Has(m Modality) bool {
	return a&(1<<m) != 0
}

// Count returns the number of set bits.
func (a AvailabilityMask) Count() int {
	n := 0
	for m := Modality(0); m < NumModalities; m++ {
		if a.Has(m) {
			n++
		}
	}
	return n
}

// CompositeVector is the fused fixed-dimension representation of one
// track, produced by the fusion encoder.
type CompositeVector struct {
	ID         TrackID
	Components []float32
	Mask       AvailabilityMask
}

// IndexEntry is the unit the ANN index stores and snapshots.
// Generation increments on every update of the same track, letting the
// coordinator detect candidates removed or replaced between search and
// re-rank.
type IndexEntry struct {
	ID         TrackID
	Composite  CompositeVector
	Generation uint64
}

// Layout describes how a composite vector decomposes into modality
// segments: per-modality target widths and base weights.
type Layout struct {
	Widths  [NumModalities]int
	Weights [NumModalities]float32
}

// Dimension returns the total composite dimensionality (sum of widths).
func (l Layout) Dimension() int {
	d := 0
	for _, w := range l.Widths {
		d += w
	}
	return d
}

// Segment returns the [lo, hi) component range of modality m.
func (l Layout) Segment(m Modality) (lo, hi int) {
	for i := Modality(0); i < m; i++ {
		lo += l.Widths[i]
	}
	return lo, lo + l.Widths[m]
}

// Recommendation is one ranked result of a recommend query.
// Score is the exact re-rank distance (lower is more similar).
type Recommendation struct {
	ID    TrackID
	Score float32
}
