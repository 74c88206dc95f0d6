package persistence

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
)

func testSnapshot() *Snapshot {
	layout := model.Layout{
		Widths:  [model.NumModalities]int{2, 2, 4},
		Weights: [model.NumModalities]float32{1, 0.5, 2},
	}
	return &Snapshot{
		Layout:    layout,
		Dimension: layout.Dimension(),
		Records: []model.TrackRecord{
			{
				ID: "track-a",
				Vectors: map[model.Modality][]float32{
					model.ModalityLowLevelAudio:  {0.1, 0.2},
					model.ModalityLyricEmbedding: {1, 2, 3, 4},
				},
				Meta:      model.TrackMeta{Artist: "Artist A", Title: "Song A"},
				UpdatedAt: time.Unix(0, 1700000000000000000),
			},
			{
				ID: "track-b",
				Vectors: map[model.Modality][]float32{
					model.ModalityHighLevelAudio: {0.3, -0.4},
				},
				UpdatedAt: time.Unix(0, 1700000001000000000),
			},
		},
		Nodes: []hnsw.NodeDump{
			{
				ID:         "track-a",
				Mask:       0b101,
				Generation: 1,
				Level:      1,
				Vector:     []float32{0.1, 0.2, 0, 0, 0.5, 0.5, 0.5, 0.5},
				Layers:     [][]uint32{{1}, nil},
			},
			{
				ID:         "track-b",
				Mask:       0b010,
				Generation: 3,
				Level:      0,
				Vector:     []float32{0, 0, 0.6, -0.8, 0, 0, 0, 0},
				Layers:     [][]uint32{{0}},
			},
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	codecs := []Compression{CompressionNone, CompressionZstd, CompressionLZ4}

	for _, codec := range codecs {
		t.Run(codec.String(), func(t *testing.T) {
			snap := testSnapshot()

			var buf bytes.Buffer
			require.NoError(t, WriteSnapshot(&buf, snap, codec))

			got, err := ReadSnapshot(&buf)
			require.NoError(t, err)

			assert.Equal(t, snap.Layout, got.Layout)
			assert.Equal(t, snap.Dimension, got.Dimension)
			assert.Equal(t, snap.Nodes, got.Nodes)

			require.Len(t, got.Records, len(snap.Records))
			for i, want := range snap.Records {
				assert.Equal(t, want.ID, got.Records[i].ID)
				assert.Equal(t, want.Meta, got.Records[i].Meta)
				assert.Equal(t, want.UpdatedAt.UnixNano(), got.Records[i].UpdatedAt.UnixNano())
				assert.Equal(t, want.Vectors, got.Records[i].Vectors)
			}
		})
	}
}

func TestSnapshotZstdCompresses(t *testing.T) {
	snap := testSnapshot()
	// Pad with repetitive vectors so there is something to compress.
	for i := 0; i < 200; i++ {
		snap.Nodes = append(snap.Nodes, hnsw.NodeDump{
			ID:     model.TrackID("pad"),
			Level:  0,
			Vector: make([]float32, snap.Dimension),
			Layers: [][]uint32{{}},
		})
	}

	var plain, compressed bytes.Buffer
	require.NoError(t, WriteSnapshot(&plain, snap, CompressionNone))
	require.NoError(t, WriteSnapshot(&compressed, snap, CompressionZstd))

	assert.Less(t, compressed.Len(), plain.Len())
}

func TestSnapshotDetectsCorruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[len(data)-10] ^= 0xff

	_, err := ReadSnapshot(bytes.NewReader(data))
	require.Error(t, err)
	var mismatch *ChecksumMismatchError
	assert.ErrorAs(t, err, &mismatch)
}

func TestSnapshotDetectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	_, err := ReadSnapshot(bytes.NewReader(data[:len(data)/2]))
	assert.Error(t, err)
}

func TestSnapshotRejectsBadMagic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[0] ^= 0xff

	_, err := ReadSnapshot(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidMagic)
}

func TestSnapshotRejectsBadVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	data := buf.Bytes()
	data[4] ^= 0xff

	_, err := ReadSnapshot(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidVersion)
}

func TestSnapshotRejectsUnknownCompression(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	// Compression codec byte sits right after magic and version.
	data := buf.Bytes()
	data[8] = 0x7f

	_, err := ReadSnapshot(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrUnknownCompression)

	assert.ErrorIs(t, WriteSnapshot(&buf, testSnapshot(), Compression(99)), ErrUnknownCompression)
}

func TestSnapshotRejectsImplausibleCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	// RecordCount occupies header bytes 16..24; a corrupt count must
	// surface as a corruption error, never size an allocation.
	data := buf.Bytes()
	binary.LittleEndian.PutUint64(data[16:24], 1<<50)

	_, err := ReadSnapshot(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotRejectsOverstatedCounts(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, testSnapshot(), CompressionNone))

	// A count below the plausibility cap but beyond the stream's
	// contents runs out of payload and fails cleanly.
	data := buf.Bytes()
	binary.LittleEndian.PutUint64(data[16:24], 1000)

	_, err := ReadSnapshot(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestSnapshotEmpty(t *testing.T) {
	snap := &Snapshot{
		Layout: model.Layout{
			Widths:  [model.NumModalities]int{2, 2, 4},
			Weights: [model.NumModalities]float32{1, 1, 1},
		},
		Dimension: 8,
	}

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, snap, CompressionZstd))

	got, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Empty(t, got.Records)
	assert.Empty(t, got.Nodes)
}
