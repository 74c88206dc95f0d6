package persistence

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
)

const (
	// maxSnapshotEntries caps the header-declared record and node
	// counts. The read loops allocate incrementally, so a corrupt count
	// fails on the first missing entry instead of sizing a giant
	// allocation from untrusted bytes.
	maxSnapshotEntries = 1 << 28

	// maxEdgesPerLayer caps a node's per-layer adjacency list.
	maxEdgesPerLayer = 1 << 16

	// preallocEntries bounds the initial capacity of the record and
	// node slices.
	preallocEntries = 1024
)

// Snapshot is the full serializable engine state: the layout, every
// catalog record with its raw per-modality vectors, and the dumped
// index graph. Loading a snapshot reproduces the engine exactly,
// including graph structure and generation counters.
type Snapshot struct {
	Layout    model.Layout
	Dimension int
	Records   []model.TrackRecord
	Nodes     []hnsw.NodeDump
}

// WriteSnapshot writes snap to w: an uncompressed header, then the
// compressed payload with a CRC32 of the uncompressed bytes as its
// final field. The checksum rides inside the compressed stream so
// reading stays sequential.
func WriteSnapshot(w io.Writer, snap *Snapshot, compression Compression) error {
	if !compression.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownCompression, compression)
	}

	header := &FileHeader{
		Compression: uint8(compression),
		Dimension:   uint32(snap.Dimension),
		RecordCount: uint64(len(snap.Records)),
		NodeCount:   uint64(len(snap.Nodes)),
	}
	if err := newBinaryWriter(w).writeHeader(header); err != nil {
		return fmt.Errorf("persistence: write header: %w", err)
	}

	comp, err := newCompressor(w, compression)
	if err != nil {
		return err
	}

	cw := NewChecksumWriter(comp)
	bw := newBinaryWriter(cw)

	if err := writeLayout(bw, snap.Layout); err != nil {
		return err
	}
	for i := range snap.Records {
		if err := writeRecord(bw, snap.Layout, &snap.Records[i]); err != nil {
			return err
		}
	}
	for i := range snap.Nodes {
		if err := writeNode(bw, snap.Dimension, &snap.Nodes[i]); err != nil {
			return err
		}
	}

	// Trailer: checksum of the uncompressed payload, written raw so it
	// is excluded from its own computation.
	if err := newBinaryWriter(comp).writeUint32(cw.Sum()); err != nil {
		return fmt.Errorf("persistence: write checksum: %w", err)
	}

	if err := comp.Close(); err != nil {
		return fmt.Errorf("persistence: flush compressed stream: %w", err)
	}
	return nil
}

// ReadSnapshot reads a snapshot written by WriteSnapshot and verifies
// its checksum.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	header, err := newBinaryReader(r).readHeader()
	if err != nil {
		return nil, err
	}
	if header.RecordCount > maxSnapshotEntries || header.NodeCount > maxSnapshotEntries {
		return nil, fmt.Errorf("%w: implausible entry counts (records %d, nodes %d)",
			ErrCorruptSnapshot, header.RecordCount, header.NodeCount)
	}

	decomp, err := newDecompressor(r, Compression(header.Compression))
	if err != nil {
		return nil, err
	}
	defer decomp.Close()

	cr := NewChecksumReader(decomp)
	br := newBinaryReader(cr)

	snap := &Snapshot{Dimension: int(header.Dimension)}

	if snap.Layout, err = readLayout(br); err != nil {
		return nil, fmt.Errorf("%w: layout: %v", ErrCorruptSnapshot, err)
	}
	if snap.Layout.Dimension() != snap.Dimension {
		return nil, fmt.Errorf("%w: layout dimension %d does not match header %d",
			ErrCorruptSnapshot, snap.Layout.Dimension(), snap.Dimension)
	}

	snap.Records = make([]model.TrackRecord, 0, min(header.RecordCount, preallocEntries))
	for i := uint64(0); i < header.RecordCount; i++ {
		var rec model.TrackRecord
		if err := readRecord(br, snap.Layout, &rec); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorruptSnapshot, i, err)
		}
		snap.Records = append(snap.Records, rec)
	}

	snap.Nodes = make([]hnsw.NodeDump, 0, min(header.NodeCount, preallocEntries))
	for i := uint64(0); i < header.NodeCount; i++ {
		var dump hnsw.NodeDump
		if err := readNode(br, snap.Dimension, &dump); err != nil {
			return nil, fmt.Errorf("%w: node %d: %v", ErrCorruptSnapshot, i, err)
		}
		snap.Nodes = append(snap.Nodes, dump)
	}

	// The trailer is read raw; it must not feed the running checksum.
	expected, err := newBinaryReader(decomp).readUint32()
	if err != nil {
		return nil, fmt.Errorf("%w: missing checksum trailer: %v", ErrCorruptSnapshot, err)
	}
	if err := cr.Verify(expected); err != nil {
		return nil, err
	}

	return snap, nil
}

func writeLayout(bw *binaryWriter, layout model.Layout) error {
	for _, m := range model.Modalities() {
		if err := bw.writeUint32(uint32(layout.Widths[m])); err != nil {
			return err
		}
		if err := bw.writeFloat32(layout.Weights[m]); err != nil {
			return err
		}
	}
	return nil
}

func readLayout(br *binaryReader) (model.Layout, error) {
	var layout model.Layout
	for _, m := range model.Modalities() {
		w, err := br.readUint32()
		if err != nil {
			return layout, err
		}
		layout.Widths[m] = int(w)
		if layout.Weights[m], err = br.readFloat32(); err != nil {
			return layout, err
		}
	}
	return layout, nil
}

func writeRecord(bw *binaryWriter, layout model.Layout, rec *model.TrackRecord) error {
	if err := bw.writeString(string(rec.ID)); err != nil {
		return err
	}
	if err := bw.writeString(rec.Meta.Artist); err != nil {
		return err
	}
	if err := bw.writeString(rec.Meta.Title); err != nil {
		return err
	}
	if err := bw.writeUint64(uint64(rec.UpdatedAt.UnixNano())); err != nil {
		return err
	}

	var mask uint8
	for _, m := range model.Modalities() {
		if _, ok := rec.Vectors[m]; ok {
			mask |= 1 << m
		}
	}
	if err := bw.writeUint8(mask); err != nil {
		return err
	}

	for _, m := range model.Modalities() {
		vec, ok := rec.Vectors[m]
		if !ok {
			continue
		}
		if len(vec) != layout.Widths[m] {
			return fmt.Errorf("modality %s: width %d does not match layout %d", m, len(vec), layout.Widths[m])
		}
		if err := bw.writeFloat32Slice(vec); err != nil {
			return err
		}
	}
	return nil
}

func readRecord(br *binaryReader, layout model.Layout, rec *model.TrackRecord) error {
	id, err := br.readString()
	if err != nil {
		return err
	}
	rec.ID = model.TrackID(id)

	if rec.Meta.Artist, err = br.readString(); err != nil {
		return err
	}
	if rec.Meta.Title, err = br.readString(); err != nil {
		return err
	}

	nanos, err := br.readUint64()
	if err != nil {
		return err
	}
	rec.UpdatedAt = time.Unix(0, int64(nanos))

	mask, err := br.readUint8()
	if err != nil {
		return err
	}

	rec.Vectors = make(map[model.Modality][]float32, model.NumModalities)
	for _, m := range model.Modalities() {
		if mask&(1<<m) == 0 {
			continue
		}
		if rec.Vectors[m], err = br.readFloat32Slice(layout.Widths[m]); err != nil {
			return err
		}
	}
	return nil
}

func writeNode(bw *binaryWriter, dimension int, dump *hnsw.NodeDump) error {
	if err := bw.writeString(string(dump.ID)); err != nil {
		return err
	}
	if err := bw.writeUint8(uint8(dump.Mask)); err != nil {
		return err
	}
	if err := bw.writeUint64(dump.Generation); err != nil {
		return err
	}
	if err := bw.writeUint32(uint32(dump.Level)); err != nil {
		return err
	}
	if len(dump.Vector) != dimension {
		return fmt.Errorf("node %s: vector width %d does not match dimension %d", dump.ID, len(dump.Vector), dimension)
	}
	if err := bw.writeFloat32Slice(dump.Vector); err != nil {
		return err
	}

	if len(dump.Layers) > math.MaxUint16 {
		return fmt.Errorf("node %s: too many layers: %d", dump.ID, len(dump.Layers))
	}
	if err := bw.writeUint32(uint32(len(dump.Layers))); err != nil {
		return err
	}
	for _, layer := range dump.Layers {
		if err := bw.writeUint32(uint32(len(layer))); err != nil {
			return err
		}
		if err := bw.writeUint32Slice(layer); err != nil {
			return err
		}
	}
	return nil
}

func readNode(br *binaryReader, dimension int, dump *hnsw.NodeDump) error {
	id, err := br.readString()
	if err != nil {
		return err
	}
	dump.ID = model.TrackID(id)

	mask, err := br.readUint8()
	if err != nil {
		return err
	}
	dump.Mask = model.AvailabilityMask(mask)

	if dump.Generation, err = br.readUint64(); err != nil {
		return err
	}

	level, err := br.readUint32()
	if err != nil {
		return err
	}
	dump.Level = int32(level)

	if dump.Vector, err = br.readFloat32Slice(dimension); err != nil {
		return err
	}

	layerCount, err := br.readUint32()
	if err != nil {
		return err
	}
	if layerCount > math.MaxUint16 {
		return fmt.Errorf("implausible layer count %d", layerCount)
	}
	dump.Layers = make([][]uint32, layerCount)
	for l := range dump.Layers {
		edgeCount, err := br.readUint32()
		if err != nil {
			return err
		}
		if edgeCount > maxEdgesPerLayer {
			return fmt.Errorf("implausible edge count %d", edgeCount)
		}
		if dump.Layers[l], err = br.readUint32Slice(int(edgeCount)); err != nil {
			return err
		}
	}
	return nil
}
