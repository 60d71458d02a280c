package pinsql

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeStatement(classRead, "ok")
	m.observeBindWarning()
	m.observeBatch("committed")
}

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics("pinsql")
	reg := prometheus.NewRegistry()
	m.MustRegister(reg)

	m.observeStatement(classWrite, "ok")
	m.observeStatement(classWrite, "ok")
	m.observeBatch("rolled_back")
	m.observeBindWarning()

	require.Equal(t, 2.0, testutil.ToFloat64(m.statements.WithLabelValues(classWrite, "ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.batches.WithLabelValues("rolled_back")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bindWarnings))

	n, err := testutil.GatherAndCount(reg, "pinsql_statements_total", "pinsql_batches_total", "pinsql_bind_warnings_total")
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Registering twice panics, like any duplicate collector.
	require.Panics(t, func() { m.MustRegister(reg) })
}
