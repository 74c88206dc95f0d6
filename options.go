package harmonia

import (
	"log/slog"

	"github.com/hupe1980/harmonia/engine"
	"github.com/hupe1980/harmonia/fusion"
	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
	"github.com/hupe1980/harmonia/persistence"
)

// DefaultLayout returns the composite layout used when none is
// configured: 8 low-level audio dims, 32 high-level audio dims and 32
// lyric dims, equally weighted.
func DefaultLayout() model.Layout {
	return model.Layout{
		Widths: [model.NumModalities]int{
			model.ModalityLowLevelAudio:  8,
			model.ModalityHighLevelAudio: 32,
			model.ModalityLyricEmbedding: 32,
		},
		Weights: [model.NumModalities]float32{1, 1, 1},
	}
}

type options struct {
	layout          model.Layout
	indexOpts       []hnsw.Option
	fusionOpts      []fusion.Option
	engineOpts      []engine.Option
	metrics         MetricsCollector
	logger          *Logger
	persist         bool
	snapshotPath    string
	persistenceOpts []persistence.Option
	maintenance     *hnsw.MaintenanceOptions
}

// Option configures engine construction.
type Option func(*options)

// WithLayout sets the composite vector layout: per-modality segment
// widths and fusion weights. The layout is immutable once the engine
// exists.
func WithLayout(layout model.Layout) Option {
	return func(o *options) {
		o.layout = layout
	}
}

// WithM sets the maximum HNSW connections per node on upper layers.
func WithM(m int) Option {
	return func(o *options) {
		o.indexOpts = append(o.indexOpts, hnsw.WithM(m))
	}
}

// WithBreadth sets the default beam width for index construction and
// search.
func WithBreadth(breadth int) Option {
	return func(o *options) {
		o.indexOpts = append(o.indexOpts, hnsw.WithBreadth(breadth))
	}
}

// WithHeuristic toggles heuristic neighbor selection during inserts.
func WithHeuristic(enabled bool) Option {
	return func(o *options) {
		o.indexOpts = append(o.indexOpts, hnsw.WithHeuristic(enabled))
	}
}

// WithRandomSeed fixes the level-assignment seed for reproducible
// graphs.
func WithRandomSeed(seed int64) Option {
	return func(o *options) {
		o.indexOpts = append(o.indexOpts, hnsw.WithRandomSeed(seed))
	}
}

// WithOverscan sets the candidate multiplier for recommendation
// queries.
func WithOverscan(overscan int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithOverscan(overscan))
	}
}

// WithRerankParallelism bounds concurrent exact re-rank workers.
func WithRerankParallelism(n int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithRerankParallelism(n))
	}
}

// WithProjection installs a pre-trained projection for one modality.
// Raw input vectors for that modality must match the projection input
// width; its output width must match the layout segment.
func WithProjection(m model.Modality, p *fusion.Projection) Option {
	return func(o *options) {
		o.fusionOpts = append(o.fusionOpts, fusion.WithProjection(m, p))
	}
}

// WithPlaceholder sets the placeholder centroid used for a missing
// modality. Defaults to the zero vector.
func WithPlaceholder(m model.Modality, centroid []float32) Option {
	return func(o *options) {
		o.fusionOpts = append(o.fusionOpts, fusion.WithPlaceholder(m, centroid))
	}
}

// WithSnapshot enables snapshot persistence at the given path.
// Additional persistence options select compression or mirror
// snapshots to a blob store.
func WithSnapshot(path string, optFns ...persistence.Option) Option {
	return func(o *options) {
		o.persist = true
		o.snapshotPath = path
		o.persistenceOpts = optFns
	}
}

// WithMaintenance starts a background compaction loop with the given
// settings. Without this option tombstones accumulate until Compact is
// called explicitly.
func WithMaintenance(opts hnsw.MaintenanceOptions) Option {
	return func(o *options) {
		o.maintenance = &opts
	}
}

// WithMetricsCollector configures operational metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithLogger configures structured logging. Pass nil to disable.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel is shorthand for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		layout:  DefaultLayout(),
		metrics: NoopMetricsCollector{},
		logger:  NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
