// Package persistence implements snapshot serialization for the
// engine: a little-endian binary format with a fixed header, a
// compressed payload (zstd by default, lz4 or none selectable) and a
// CRC32 integrity trailer, written atomically via temp-file rename.
package persistence
