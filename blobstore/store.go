package blobstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations return an error satisfying errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blob not found")

// Store is an abstraction for snapshot blob storage. Blobs are
// written whole and immutable once written; a new snapshot under the
// same key replaces the previous one.
type Store interface {
	// Put writes a blob. size is the exact payload length, or -1 when
	// unknown. The write is atomic: readers never observe a partial
	// blob.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get opens a blob for reading. The caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all blob keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}
