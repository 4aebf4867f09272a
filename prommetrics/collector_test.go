package prommetrics

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/colgo"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.RecordAdd(time.Millisecond, true, nil)
	c.RecordAdd(time.Millisecond, false, nil)
	c.RecordAdd(time.Millisecond, false, errors.New("boom"))
	c.RecordSearch(3, time.Millisecond, nil)
	c.RecordMaterialize(colgo.KindTablePat, time.Millisecond, nil)
	c.RecordHookFailure(colgo.HookSet)
	c.RecordHookFailure(colgo.HookSet)

	assert.InDelta(t, 1, testutil.ToFloat64(c.adds.WithLabelValues("new")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.adds.WithLabelValues("existing")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.adds.WithLabelValues("error")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.materialized.WithLabelValues("table_pat", "success")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.hookFailures.WithLabelValues("set")), 0)

	// add/success, add/error, search/success, materialize/success
	assert.Equal(t, 4, testutil.CollectAndCount(c.opLatency))
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
	assert.Panics(t, func() { MustNew(reg) })
}

func TestCollector_WithDatabase(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := MustNew(reg)

	ctx := context.Background()
	db, err := colgo.Create(ctx, filepath.Join(t.TempDir(), "db"), colgo.WithMetricsCollector(c))
	require.NoError(t, err)
	defer db.Close()

	docs, err := db.CreateTable("docs", colgo.KindTableHash)
	require.NoError(t, err)
	for _, key := range []string{"a", "b", "a"} {
		_, _, err := docs.Add(key)
		require.NoError(t, err)
	}

	assert.InDelta(t, 2, testutil.ToFloat64(c.adds.WithLabelValues("new")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.adds.WithLabelValues("existing")), 0)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "colgo_operation_latency_seconds")
	assert.Contains(t, names, "colgo_records_added_total")
}
