package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusMirrorsCounters(t *testing.T) {
	resetMetricHandlers()
	p := NewPrometheus()
	t.Cleanup(p.Close)

	EmitPipelineMetric(nil, MetricNotified, "binance_force_orders", 2)
	EmitPipelineMetric(nil, MetricNotified, "binance_force_orders", 1)
	EmitMetric(nil, "pipeline", "buffer_length", 5, "gauge", nil)

	assert.Equal(t, 3.0, testutil.ToFloat64(p.counter(string(MetricNotified)).WithLabelValues("binance_force_orders")))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `liqwatch_notifications_sent_total{source="binance_force_orders"} 3`)
	assert.NotContains(t, string(body), "buffer_length")
}

func TestPrometheusCloseStopsMirroring(t *testing.T) {
	resetMetricHandlers()
	p := NewPrometheus()
	p.Close()

	EmitPipelineMetric(nil, MetricFetched, "x", 1)
	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Empty(t, p.counters)
}
