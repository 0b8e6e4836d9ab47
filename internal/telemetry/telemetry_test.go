package telemetry

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrometheusProviderExposesRegisteredMetrics(t *testing.T) {
	p := NewPrometheusProvider()
	counter := p.NewCounter("ergocore_strokes_total", "total strokes counted")
	gauge := p.NewGauge("ergocore_power_watts", "instantaneous power")

	counter.Inc(1)
	counter.Inc(2)
	gauge.Set(180.5)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	p.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "ergocore_strokes_total 3")
	require.Contains(t, rec.Body.String(), "ergocore_power_watts 180.5")
}

func TestCounterIgnoresNonPositiveDeltas(t *testing.T) {
	p := NewPrometheusProvider()
	c := p.NewCounter("ergocore_noop_total", "should stay zero")
	c.Inc(0)
	c.Inc(-5)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Contains(t, rec.Body.String(), "ergocore_noop_total 0")
}

func TestNoopProviderNeverPanics(t *testing.T) {
	var p NoopProvider
	c := p.NewCounter("x", "y")
	g := p.NewGauge("x", "y")
	c.Inc(1)
	g.Set(1)

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 204, rec.Code)
}
