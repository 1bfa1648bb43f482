package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, statusBucket(tt.code), "statusBucket(%d)", tt.code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	// Gauges are always exported; counters only after the first observation.
	body := w.Body.String()
	for _, name := range []string{"paymo_graph_nodes", "paymo_graph_edges", "paymo_active_websocket_clients"} {
		assert.True(t, strings.Contains(body, name), "missing %s", name)
	}

	EventsClassifiedTotal.WithLabelValues("feature1", "trusted").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, w.Body.String(), "paymo_events_classified_total")
}

func TestMiddlewareCountsRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/parties/:a", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	counter := HTTPRequestsTotal.WithLabelValues("GET", "/v1/parties/:a", "2xx")
	before := testutil.ToFloat64(counter)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/parties/42", nil))

	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestProximityHistogramObserves(t *testing.T) {
	read := func() uint64 {
		m := &dto.Metric{}
		require.NoError(t, ProximityQueryDuration.Write(m))
		return m.GetHistogram().GetSampleCount()
	}

	before := read()
	ProximityQueryDuration.Observe(0.0002)
	assert.Equal(t, before+1, read())
}

func TestWebhookDeliveriesByOutcome(t *testing.T) {
	m := &dto.Metric{}
	counter, err := WebhookDeliveriesTotal.GetMetricWithLabelValues("verdict.duplicate", "dropped")
	require.NoError(t, err)
	require.NoError(t, counter.Write(m))
	before := m.GetCounter().GetValue()

	counter.Inc()

	m = &dto.Metric{}
	require.NoError(t, counter.Write(m))
	assert.Equal(t, before+1, m.GetCounter().GetValue())
}
