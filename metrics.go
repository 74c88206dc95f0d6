package harmonia

import (
	"sync/atomic"
	"time"
)

// MetricsCollector receives operational metrics. Implement it to
// integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordUpsert is called after each vector upsert.
	RecordUpsert(duration time.Duration, err error)

	// RecordRemove is called after each track removal.
	RecordRemove(duration time.Duration, err error)

	// RecordRecommend is called after each recommendation query.
	// partial reports whether the deadline truncated the search.
	RecordRecommend(k int, duration time.Duration, partial bool, err error)

	// RecordSnapshot is called after each snapshot save or load.
	RecordSnapshot(duration time.Duration, err error)

	// RecordCompaction is called after each index compaction with the
	// number of reclaimed slots.
	RecordCompaction(reclaimed int, duration time.Duration)
}

// NoopMetricsCollector discards all metrics.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordUpsert(time.Duration, error)              {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)              {}
func (NoopMetricsCollector) RecordRecommend(int, time.Duration, bool, error) {}
func (NoopMetricsCollector) RecordSnapshot(time.Duration, error)            {}
func (NoopMetricsCollector) RecordCompaction(int, time.Duration)            {}

// BasicMetricsCollector keeps simple in-memory counters. Useful for
// debugging and tests without external dependencies.
type BasicMetricsCollector struct {
	UpsertCount         atomic.Int64
	UpsertErrors        atomic.Int64
	UpsertTotalNanos    atomic.Int64
	RemoveCount         atomic.Int64
	RemoveErrors        atomic.Int64
	RecommendCount      atomic.Int64
	RecommendErrors     atomic.Int64
	RecommendPartial    atomic.Int64
	RecommendTotalNanos atomic.Int64
	SnapshotCount       atomic.Int64
	SnapshotErrors      atomic.Int64
	CompactionCount     atomic.Int64
	CompactionReclaimed atomic.Int64
}

func (b *BasicMetricsCollector) RecordUpsert(duration time.Duration, err error) {
	b.UpsertCount.Add(1)
	b.UpsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.UpsertErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordRemove(duration time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordRecommend(k int, duration time.Duration, partial bool, err error) {
	b.RecommendCount.Add(1)
	b.RecommendTotalNanos.Add(duration.Nanoseconds())
	if partial {
		b.RecommendPartial.Add(1)
	}
	if err != nil {
		b.RecommendErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordSnapshot(duration time.Duration, err error) {
	b.SnapshotCount.Add(1)
	if err != nil {
		b.SnapshotErrors.Add(1)
	}
}

func (b *BasicMetricsCollector) RecordCompaction(reclaimed int, duration time.Duration) {
	b.CompactionCount.Add(1)
	b.CompactionReclaimed.Add(int64(reclaimed))
}
