package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterIsIdempotent(t *testing.T) {
	r := NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "Events."})

	require.NoError(t, r.Register(c))
	require.NoError(t, r.Register(c))

	clash := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_events_total", Help: "Other events."})
	assert.Error(t, r.Register(clash))

	assert.Equal(t, 1, r.Unregister(c))
	assert.Equal(t, 0, r.Unregister(c))
}

func TestRegistry_Handler(t *testing.T) {
	r := NewRegistry()
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_requests_total", Help: "Requests."}, []string{"code"})
	require.NoError(t, r.Register(c))
	c.WithLabelValues("200").Add(3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `test_requests_total{code="200"} 3`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestValue(t *testing.T) {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "c", Help: "c"})
	c.Add(2.5)
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "g", Help: "g"})
	g.Set(-1)
	h := prometheus.NewHistogram(prometheus.HistogramOpts{Name: "h", Help: "h"})
	h.Observe(1)

	assert.InDelta(t, 2.5, Value(c), 1e-9)
	assert.InDelta(t, -1, Value(g), 1e-9)
	assert.Zero(t, Value(h))
}
