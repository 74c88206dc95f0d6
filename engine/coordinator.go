// Package engine implements the query coordinator: it resolves a seed
// to its composite vector, overscans the index, applies filters,
// re-scores the survivors with the exact availability-aware metric and
// returns the top k.
package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/harmonia/catalog"
	"github.com/hupe1980/harmonia/distance"
	"github.com/hupe1980/harmonia/fusion"
	"github.com/hupe1980/harmonia/hnsw"
	"github.com/hupe1980/harmonia/model"
)

// DefaultOverscan is the candidate multiplier: a query for k results
// fetches overscan*k candidates to absorb approximation error and
// filtering losses.
const DefaultOverscan = 4

// Options configures the coordinator.
type Options struct {
	// Overscan is the default candidate multiplier.
	Overscan int

	// RerankParallelism bounds the goroutines used for exact
	// re-scoring. Zero means GOMAXPROCS.
	RerankParallelism int

	// Logger receives structured debug output. Nil disables logging.
	Logger *slog.Logger
}

// Option configures the coordinator.
type Option func(*Options)

// WithOverscan sets the default candidate multiplier.
func WithOverscan(overscan int) Option {
	return func(o *Options) { o.Overscan = overscan }
}

// WithRerankParallelism bounds re-ranking goroutines.
func WithRerankParallelism(n int) Option {
	return func(o *Options) { o.RerankParallelism = n }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Query describes one recommendation request. Exactly one of Seed or
// Vector must be set.
type Query struct {
	// Seed names an indexed (or at least cataloged) track to
	// recommend around.
	Seed model.TrackID

	// Vector is an ad-hoc query vector of composite width. Ad-hoc
	// vectors are treated as having every modality available.
	Vector []float32

	// K is the number of results wanted.
	K int

	// Breadth overrides the index's default beam width. Zero keeps the
	// default.
	Breadth int

	// Overscan overrides the coordinator's candidate multiplier. Zero
	// keeps the default.
	Overscan int

	// Exclude lists tracks to drop from the results.
	Exclude []model.TrackID

	// MaxPerArtist caps how many results may share one artist. Zero
	// disables the cap. Tracks with no artist metadata are not capped.
	MaxPerArtist int
}

// Result is a ranked recommendation list. Partial marks a best-effort
// result whose index traversal was truncated by the caller's deadline;
// it is a degraded completion, not an error.
type Result struct {
	Items   []model.Recommendation
	Partial bool
}

// Coordinator orchestrates fusion, index search and exact re-ranking.
type Coordinator struct {
	store   *catalog.Store
	encoder *fusion.Encoder
	index   *hnsw.Index
	dist    *distance.Engine

	overscan    int
	parallelism int
	logger      *slog.Logger
}

// New creates a coordinator over the given components.
func New(store *catalog.Store, encoder *fusion.Encoder, index *hnsw.Index, dist *distance.Engine, optFns ...Option) *Coordinator {
	opts := Options{
		Overscan: DefaultOverscan,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Overscan <= 0 {
		opts.Overscan = DefaultOverscan
	}
	if opts.RerankParallelism <= 0 {
		opts.RerankParallelism = runtime.GOMAXPROCS(0)
	}

	return &Coordinator{
		store:       store,
		encoder:     encoder,
		index:       index,
		dist:        dist,
		overscan:    opts.Overscan,
		parallelism: opts.RerankParallelism,
		logger:      opts.Logger,
	}
}

// Recommend returns up to q.K tracks ranked by ascending exact
// distance to the seed.
func (c *Coordinator) Recommend(ctx context.Context, q Query) (*Result, error) {
	if q.K <= 0 {
		return nil, hnsw.ErrInvalidK
	}
	if c.index.Len() == 0 {
		return nil, ErrEmptyCatalog
	}

	seed, err := c.resolveSeed(q)
	if err != nil {
		return nil, err
	}

	overscan := q.Overscan
	if overscan <= 0 {
		overscan = c.overscan
	}

	candidates, partial, err := c.index.Search(ctx, seed.Components, overscan*q.K, q.Breadth)
	if err != nil {
		return nil, err
	}

	excluded := make(map[model.TrackID]struct{}, len(q.Exclude)+1)
	if q.Seed != "" {
		excluded[q.Seed] = struct{}{}
	}
	for _, id := range q.Exclude {
		excluded[id] = struct{}{}
	}

	survivors := candidates[:0]
	for _, cand := range candidates {
		if _, skip := excluded[cand.ID]; skip {
			continue
		}
		survivors = append(survivors, cand)
	}

	rctx := ctx
	if partial {
		// The deadline is already spent; score what the truncated
		// traversal collected instead of failing on it.
		rctx = context.WithoutCancel(ctx)
	}
	scored, err := c.rerank(rctx, seed, survivors)
	if err != nil {
		if ctx.Err() == nil {
			return nil, err
		}
		// Deadline fired during re-rank. Finish scoring the candidates
		// already in hand and flag the result as degraded.
		partial = true
		scored, err = c.rerank(context.WithoutCancel(ctx), seed, survivors)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})

	items := c.applyArtistCap(scored, q.MaxPerArtist, q.K)

	if c.logger != nil {
		c.logger.Debug("recommend",
			"seed", q.Seed,
			"k", q.K,
			"candidates", len(candidates),
			"results", len(items),
			"partial", partial,
		)
	}

	return &Result{Items: items, Partial: partial}, nil
}

// resolveSeed produces the composite query vector: the indexed entry
// for a seed track (fusing live from the catalog if the track is not
// indexed yet), or the ad-hoc vector with a full availability mask.
func (c *Coordinator) resolveSeed(q Query) (model.CompositeVector, error) {
	if q.Vector != nil {
		var mask model.AvailabilityMask
		for _, m := range model.Modalities() {
			mask = mask.Set(m)
		}
		return model.CompositeVector{Components: q.Vector, Mask: mask}, nil
	}

	if entry, ok := c.index.Get(q.Seed); ok {
		return entry.Composite, nil
	}

	rec, ok := c.store.Get(q.Seed)
	if !ok {
		return model.CompositeVector{}, &ErrTrackNotFound{ID: q.Seed}
	}
	cv, err := c.encoder.Encode(rec)
	if err != nil {
		return model.CompositeVector{}, err
	}
	return cv, nil
}

// rerank re-scores candidates with the exact availability-aware
// metric, in parallel. Candidates removed from the index since the
// search are dropped; candidates replaced since the search are scored
// against their current vector, never the stale one.
func (c *Coordinator) rerank(ctx context.Context, seed model.CompositeVector, candidates []hnsw.Result) ([]model.Recommendation, error) {
	scores := make([]model.Recommendation, len(candidates))
	alive := make([]bool, len(candidates))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.parallelism)

	for i, cand := range candidates {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			entry, ok := c.index.Get(cand.ID)
			if !ok {
				return nil
			}

			scores[i] = model.Recommendation{
				ID:    cand.ID,
				Score: c.dist.Rerank(seed, entry.Composite),
			}
			alive[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := scores[:0]
	for i := range scores {
		if alive[i] {
			out = append(out, scores[i])
		}
	}
	return out, nil
}

// applyArtistCap walks the ranked list and keeps at most maxPerArtist
// tracks per artist, then truncates to k.
func (c *Coordinator) applyArtistCap(ranked []model.Recommendation, maxPerArtist, k int) []model.Recommendation {
	out := make([]model.Recommendation, 0, min(k, len(ranked)))
	var perArtist map[string]int
	if maxPerArtist > 0 {
		perArtist = make(map[string]int)
	}

	for _, rec := range ranked {
		if len(out) >= k {
			break
		}
		if maxPerArtist > 0 {
			if meta, ok := c.store.Meta(rec.ID); ok && meta.Artist != "" {
				if perArtist[meta.Artist] >= maxPerArtist {
					continue
				}
				perArtist[meta.Artist]++
			}
		}
		out = append(out, rec)
	}
	return out
}
