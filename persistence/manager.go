package persistence

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

var (
	// ErrManagerClosed is returned when operations are attempted on a
	// closed manager.
	ErrManagerClosed = errors.New("persistence manager is closed")

	// ErrNoTarget is returned when neither a snapshot path nor a blob
	// store is configured.
	ErrNoTarget = errors.New("no snapshot path or blob store configured")

	// ErrSnapshotNotFound is returned by Load when no snapshot exists
	// in any configured target.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// BlobStore is the remote half of snapshot storage. The blobstore
// package provides local, in-memory, S3 and MinIO implementations.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Options configures the persistence manager.
type Options struct {
	// Compression selects the payload codec for new snapshots.
	Compression Compression

	// BlobStore, if set, receives a copy of every snapshot and serves
	// as the fallback source when the local file is missing.
	BlobStore BlobStore

	// BlobKey is the object key used with BlobStore.
	BlobKey string

	// Logger receives save/load progress. Nil disables logging.
	Logger *slog.Logger
}

// Option configures the manager.
type Option func(*Options)

// WithCompression sets the payload codec for new snapshots.
func WithCompression(c Compression) Option {
	return func(o *Options) {
		o.Compression = c
	}
}

// WithBlobStore mirrors snapshots to a blob store under the given key.
func WithBlobStore(store BlobStore, key string) Option {
	return func(o *Options) {
		o.BlobStore = store
		o.BlobKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Manager coordinates snapshot saves and loads across a local file and
// an optional blob store. It is safe for concurrent use; saves are
// serialized.
type Manager struct {
	path        string
	compression Compression
	blobs       BlobStore
	blobKey     string
	logger      *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewManager creates a manager writing snapshots to path. An empty
// path with a configured blob store makes the store the only target.
func NewManager(path string, optFns ...Option) (*Manager, error) {
	opts := Options{Compression: CompressionZstd}
	for _, fn := range optFns {
		fn(&opts)
	}

	if !opts.Compression.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCompression, opts.Compression)
	}
	if path == "" && opts.BlobStore == nil {
		return nil, ErrNoTarget
	}

	return &Manager{
		path:        path,
		compression: opts.Compression,
		blobs:       opts.BlobStore,
		blobKey:     opts.BlobKey,
		logger:      opts.Logger,
	}, nil
}

// Save writes the snapshot to the configured targets: atomically to
// the local file, then mirrored to the blob store.
func (pm *Manager) Save(ctx context.Context, snap *Snapshot) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return ErrManagerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()

	if pm.path != "" {
		if err := SaveToFile(pm.path, func(w io.Writer) error {
			return WriteSnapshot(w, snap, pm.compression)
		}); err != nil {
			return fmt.Errorf("persistence: save %s: %w", pm.path, err)
		}
	}

	if pm.blobs != nil {
		var buf bytes.Buffer
		if err := WriteSnapshot(&buf, snap, pm.compression); err != nil {
			return err
		}
		if err := pm.blobs.Put(ctx, pm.blobKey, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
			return fmt.Errorf("persistence: upload %s: %w", pm.blobKey, err)
		}
	}

	if pm.logger != nil {
		pm.logger.Info("snapshot saved",
			slog.String("path", pm.path),
			slog.Int("records", len(snap.Records)),
			slog.Int("nodes", len(snap.Nodes)),
			slog.String("compression", pm.compression.String()),
			slog.Duration("elapsed", time.Since(start)),
		)
	}
	return nil
}

// Load reads the latest snapshot: the local file if present, otherwise
// the blob store. Returns ErrSnapshotNotFound when neither has one.
func (pm *Manager) Load(ctx context.Context) (*Snapshot, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil, ErrManagerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if pm.path != "" {
		snap, err := loadFile(pm.path)
		switch {
		case err == nil:
			return snap, nil
		case !errors.Is(err, os.ErrNotExist):
			return nil, err
		}
	}

	if pm.blobs != nil {
		rc, err := pm.blobs.Get(ctx, pm.blobKey)
		if err != nil {
			return nil, fmt.Errorf("persistence: download %s: %w", pm.blobKey, err)
		}
		defer rc.Close()
		return ReadSnapshot(rc)
	}

	return nil, ErrSnapshotNotFound
}

// Close marks the manager closed. Further saves and loads fail with
// ErrManagerClosed.
func (pm *Manager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.closed = true
	return nil
}

func loadFile(path string) (*Snapshot, error) {
	var snap *Snapshot
	err := LoadFromFile(path, func(r io.Reader) error {
		var err error
		snap, err = ReadSnapshot(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
