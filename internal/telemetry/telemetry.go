// Package telemetry provides a small Provider/Counter/Gauge abstraction
// over Prometheus instrumentation, grounded on the shape (not the full
// cardinality-guarding machinery) of the engine/telemetry/metrics
// PrometheusProvider elsewhere in the corpus.
package telemetry

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Counter is a monotonically increasing instrument.
type Counter interface {
	Inc(delta float64)
}

// Gauge is a point-in-time instrument.
type Gauge interface {
	Set(value float64)
}

// Provider constructs named instruments and exposes them over HTTP.
type Provider interface {
	NewCounter(name, help string) Counter
	NewGauge(name, help string) Gauge
	Handler() http.Handler
}

// PrometheusProvider implements Provider on a dedicated registry so the
// rowing core's metrics never collide with another in-process
// Prometheus collector.
type PrometheusProvider struct {
	reg *prom.Registry
}

// NewPrometheusProvider returns a Provider backed by a fresh registry.
func NewPrometheusProvider() *PrometheusProvider {
	reg := prom.NewRegistry()
	reg.MustRegister(prom.NewGoCollector())
	return &PrometheusProvider{reg: reg}
}

func (p *PrometheusProvider) NewCounter(name, help string) Counter {
	c := prom.NewCounter(prom.CounterOpts{Name: name, Help: help})
	p.reg.MustRegister(c)
	return promCounter{c}
}

func (p *PrometheusProvider) NewGauge(name, help string) Gauge {
	g := prom.NewGauge(prom.GaugeOpts{Name: name, Help: help})
	p.reg.MustRegister(g)
	return promGauge{g}
}

func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

type promCounter struct{ c prom.Counter }

func (p promCounter) Inc(delta float64) {
	if delta <= 0 {
		return
	}
	p.c.Add(delta)
}

type promGauge struct{ g prom.Gauge }

func (p promGauge) Set(value float64) { p.g.Set(value) }

// NoopProvider discards everything; used in tests and when telemetry is
// disabled.
type NoopProvider struct{}

func (NoopProvider) NewCounter(string, string) Counter { return noopCounter{} }
func (NoopProvider) NewGauge(string, string) Gauge     { return noopGauge{} }
func (NoopProvider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

type noopCounter struct{}

func (noopCounter) Inc(float64) {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}
