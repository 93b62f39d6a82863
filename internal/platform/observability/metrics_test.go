package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAllocation("deepseek", "allocated")
		m.RecordReconcile("deepseek", "adopted")
		m.RecordRelease("deepseek", 2)
		m.SetOnlineSessions(3)
		m.RecordEviction()
		m.RecordBroadcast()
		m.RecordAuthFailure("connection")
		m.RecordUsageReport("ok")
		m.RecordHTTP("/api/health", "GET", "200", time.Millisecond)
	})
}

func TestMetrics_ExhaustionCountsTwice(t *testing.T) {
	m := NewMetrics("test", nil)
	m.RecordAllocation("zai", "exhausted")
	m.RecordAllocation("zai", "allocated")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("zai", "exhausted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolExhausted.WithLabelValues("zai")))
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewMetrics("test", reg)
	second := NewMetrics("test", reg)

	second.RecordEviction()
	assert.Equal(t, 1.0, testutil.ToFloat64(first.Evictions))
}

func TestSetup_StartSpan(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, shutdown, err := Setup(context.Background(), Config{Enabled: true, Namespace: "test"}, nil, reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })
	require.NotNil(t, metrics)
	assert.True(t, Enabled())

	_, end := StartSpan(context.Background(), "keypool", "allocate")
	end(nil)
	_, end = StartSpan(context.Background(), "keypool", "allocate")
	end(errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(metrics.OperationTiming))
}
