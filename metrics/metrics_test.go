package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperation("memory", "read", true, time.Millisecond)
		m.RecordRefresh(RefreshApplied)
		m.RecordEvent("onCreate")
		m.RecordHTTPRequest("read", 200)
	})
}

func TestRecordOperation(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordOperation("memory", "read", true, 5*time.Millisecond)
	m.RecordOperation("memory", "read", false, time.Millisecond)
	m.RecordOperation("memory", "read", true, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("memory", "read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("memory", "read", "error")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.OperationDuration))
}

func TestRecordRefreshAndEvent(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRefresh(RefreshApplied)
	m.RecordRefresh(RefreshStale)
	m.RecordRefresh(RefreshStale)
	m.RecordEvent("onDelete")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues(RefreshApplied)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RefreshesTotal.WithLabelValues(RefreshStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("onDelete")))
}

func TestRecordHTTPRequest(t *testing.T) {
	m := New(prometheus.NewRegistry())

	for _, code := range []int{200, 204, 400, 401, 500, 503, 302} {
		m.RecordHTTPRequest("list", code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("list", "2xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("list", "4xx")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("list", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("list", "3xx")))
}

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RecordEvent("onCreate")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "crudsource_events_total")

	// a second set on a fresh registry does not collide
	assert.NotPanics(t, func() { New(prometheus.NewRegistry()) })
}
