package colgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems; the
// prommetrics package provides a Prometheus implementation.
type MetricsCollector interface {
	// RecordAdd is called after each table Add. added reports whether a new
	// record was created.
	RecordAdd(duration time.Duration, added bool, err error)

	// RecordDelete is called after each record deletion.
	RecordDelete(duration time.Duration, err error)

	// RecordSetValue is called after each column or value slot write.
	RecordSetValue(duration time.Duration, err error)

	// RecordSearch is called after each index search. hits is the number of
	// matching records.
	RecordSearch(hits int, duration time.Duration, err error)

	// RecordMaterialize is called after an object is rebuilt from its spec.
	RecordMaterialize(kind Kind, duration time.Duration, err error)

	// RecordRemove is called after each object removal attempt.
	RecordRemove(duration time.Duration, err error)

	// RecordHookFailure is called for each hook chain that aborted.
	RecordHookFailure(event HookEvent)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAdd(time.Duration, bool, error)         {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)            {}
func (NoopMetricsCollector) RecordSetValue(time.Duration, error)          {}
func (NoopMetricsCollector) RecordSearch(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordMaterialize(Kind, time.Duration, error) {}
func (NoopMetricsCollector) RecordRemove(time.Duration, error)            {}
func (NoopMetricsCollector) RecordHookFailure(HookEvent)                  {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	AddCount          atomic.Int64
	AddNew            atomic.Int64
	AddErrors         atomic.Int64
	DeleteCount       atomic.Int64
	DeleteErrors      atomic.Int64
	SetValueCount     atomic.Int64
	SetValueErrors    atomic.Int64
	SearchCount       atomic.Int64
	SearchErrors      atomic.Int64
	SearchHits        atomic.Int64
	SearchTotalNanos  atomic.Int64
	MaterializeCount  atomic.Int64
	MaterializeErrors atomic.Int64
	RemoveCount       atomic.Int64
	RemoveErrors      atomic.Int64
	HookFailures      atomic.Int64
}

// RecordAdd implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAdd(_ time.Duration, added bool, err error) {
	b.AddCount.Add(1)
	if err != nil {
		b.AddErrors.Add(1)
		return
	}
	if added {
		b.AddNew.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordSetValue implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSetValue(_ time.Duration, err error) {
	b.SetValueCount.Add(1)
	if err != nil {
		b.SetValueErrors.Add(1)
	}
}

// RecordSearch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSearch(hits int, duration time.Duration, err error) {
	b.SearchCount.Add(1)
	b.SearchTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SearchErrors.Add(1)
		return
	}
	b.SearchHits.Add(int64(hits))
}

// RecordMaterialize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMaterialize(_ Kind, _ time.Duration, err error) {
	b.MaterializeCount.Add(1)
	if err != nil {
		b.MaterializeErrors.Add(1)
	}
}

// RecordRemove implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRemove(_ time.Duration, err error) {
	b.RemoveCount.Add(1)
	if err != nil {
		b.RemoveErrors.Add(1)
	}
}

// RecordHookFailure implements MetricsCollector.
func (b *BasicMetricsCollector) RecordHookFailure(HookEvent) {
	b.HookFailures.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AddCount:          b.AddCount.Load(),
		AddNew:            b.AddNew.Load(),
		AddErrors:         b.AddErrors.Load(),
		DeleteCount:       b.DeleteCount.Load(),
		DeleteErrors:      b.DeleteErrors.Load(),
		SetValueCount:     b.SetValueCount.Load(),
		SetValueErrors:    b.SetValueErrors.Load(),
		SearchCount:       b.SearchCount.Load(),
		SearchErrors:      b.SearchErrors.Load(),
		SearchHits:        b.SearchHits.Load(),
		SearchAvgNanos:    b.getAvgSearchNanos(),
		MaterializeCount:  b.MaterializeCount.Load(),
		MaterializeErrors: b.MaterializeErrors.Load(),
		RemoveCount:       b.RemoveCount.Load(),
		RemoveErrors:      b.RemoveErrors.Load(),
		HookFailures:      b.HookFailures.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSearchNanos() int64 {
	count := b.SearchCount.Load()
	if count == 0 {
		return 0
	}
	return b.SearchTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AddCount          int64
	AddNew            int64
	AddErrors         int64
	DeleteCount       int64
	DeleteErrors      int64
	SetValueCount     int64
	SetValueErrors    int64
	SearchCount       int64
	SearchErrors      int64
	SearchHits        int64
	SearchAvgNanos    int64
	MaterializeCount  int64
	MaterializeErrors int64
	RemoveCount       int64
	RemoveErrors      int64
	HookFailures      int64
}
