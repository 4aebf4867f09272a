// Package prommetrics exports colgo operation metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	c, err := prommetrics.New(reg)
//	db, err := colgo.Open(ctx, path, colgo.WithMetricsCollector(c))
package prommetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/colgo"
)

const namespace = "colgo"

// Collector implements colgo.MetricsCollector.
type Collector struct {
	opLatency    *prometheus.HistogramVec
	adds         *prometheus.CounterVec
	searchHits   prometheus.Histogram
	materialized *prometheus.CounterVec
	hookFailures *prometheus.CounterVec
}

var _ colgo.MetricsCollector = (*Collector)(nil)

// New creates a Collector and registers its metrics with reg. A nil reg
// uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_latency_seconds",
			Help:      "Latency of database operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op", "status"}),
		adds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_added_total",
			Help:      "Table adds by outcome",
		}, []string{"result"}),
		searchHits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_hits",
			Help:      "Matching records per index search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		materialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materializations_total",
			Help:      "Objects rebuilt from their specs",
		}, []string{"kind", "status"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_failures_total",
			Help:      "Hook chains aborted by a failing hook",
		}, []string{"event"}),
	}

	for _, m := range []prometheus.Collector{c.opLatency, c.adds, c.searchHits, c.materialized, c.hookFailures} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics if registration fails.
func MustNew(reg prometheus.Registerer) *Collector {
	c, err := New(reg)
	if err != nil {
		panic(err)
	}
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

// RecordAdd implements colgo.MetricsCollector.
func (c *Collector) RecordAdd(d time.Duration, added bool, err error) {
	c.observe("add", d, err)
	switch {
	case err != nil:
		c.adds.WithLabelValues("error").Inc()
	case added:
		c.adds.WithLabelValues("new").Inc()
	default:
		c.adds.WithLabelValues("existing").Inc()
	}
}

// RecordDelete implements colgo.MetricsCollector.
func (c *Collector) RecordDelete(d time.Duration, err error) { c.observe("delete", d, err) }

// RecordSetValue implements colgo.MetricsCollector.
func (c *Collector) RecordSetValue(d time.Duration, err error) { c.observe("set_value", d, err) }

// RecordSearch implements colgo.MetricsCollector.
func (c *Collector) RecordSearch(hits int, d time.Duration, err error) {
	c.observe("search", d, err)
	if err == nil {
		c.searchHits.Observe(float64(hits))
	}
}

// RecordMaterialize implements colgo.MetricsCollector.
func (c *Collector) RecordMaterialize(kind colgo.Kind, d time.Duration, err error) {
	c.observe("materialize", d, err)
	c.materialized.WithLabelValues(kind.String(), status(err)).Inc()
}

// RecordRemove implements colgo.MetricsCollector.
func (c *Collector) RecordRemove(d time.Duration, err error) { c.observe("remove", d, err) }

// RecordHookFailure implements colgo.MetricsCollector.
func (c *Collector) RecordHookFailure(event colgo.HookEvent) {
	c.hookFailures.WithLabelValues(event.String()).Inc()
}
