package persistence

import "errors"

const (
	// MagicNumber identifies harmonia snapshot files (ASCII: "HRM1").
	MagicNumber = 0x48524d31
	// Version is the current snapshot format version (v1.0.0).
	Version = 0x00010000
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrUnknownCompression = errors.New("unknown compression codec")
	ErrCorruptSnapshot    = errors.New("corrupt snapshot")
)

// Compression selects the codec for the snapshot payload.
type Compression uint8

const (
	// CompressionNone stores the payload uncompressed.
	CompressionNone Compression = iota
	// CompressionZstd compresses the payload with zstandard (default).
	CompressionZstd
	// CompressionLZ4 compresses the payload with lz4 block streaming.
	CompressionLZ4
)

func (c Compression) Valid() bool {
	return c <= CompressionLZ4
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return "unknown"
	}
}

// FileHeader is the fixed 32-byte header at the start of every
// snapshot file. It is stored uncompressed; everything after it runs
// through the codec named by Compression.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	Padding     [3]byte
	Dimension   uint32
	RecordCount uint64
	NodeCount   uint64
}
