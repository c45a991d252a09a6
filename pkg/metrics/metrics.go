// Package metrics exposes Prometheus collectors for dispatched calls and
// engine readiness.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/morezero/engine-worker/pkg/dispatcher"
	"github.com/morezero/engine-worker/pkg/methods"
	"github.com/morezero/engine-worker/pkg/readiness"
)

const logPrefix = "metrics:metrics"

const namespace = "engine_worker"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collector holds the worker's collectors. It implements dispatcher.Observer.
type Collector struct {
	registry *prometheus.Registry
	calls    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight prometheus.Gauge
	ready    prometheus.Gauge
}

// New creates a Collector registered on its own registry, together with the
// Go runtime and process collectors.
func New() (*Collector, error) {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Dispatched calls by method, outcome and error code.",
		}, []string{"method", "outcome", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Time spent dispatching a call.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_in_flight",
			Help:      "Calls currently being handled.",
		}),
		ready: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "engine_ready",
			Help:      "1 once the engine has been initialized.",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.calls, c.latency, c.inFlight, c.ready,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := c.registry.Register(col); err != nil {
			return nil, fmt.Errorf("%s - register collector: %w", logPrefix, err)
		}
	}
	return c, nil
}

// Observe records one dispatched call.
func (c *Collector) Observe(_ context.Context, req *dispatcher.Request, resp *dispatcher.Response, elapsed time.Duration) {
	method := methodLabel(req.Method)
	outcome, code := OutcomeOK, ""
	if !resp.OK() {
		outcome, code = OutcomeError, resp.Error.Code
	}
	c.calls.WithLabelValues(method, outcome, code).Inc()
	c.latency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// InFlight returns the in-flight gauge, for worker.Options.
func (c *Collector) InFlight() prometheus.Gauge {
	return c.inFlight
}

// TrackReadiness sets the readiness gauge from g now and on its transition.
func (c *Collector) TrackReadiness(g *readiness.Gate) {
	g.OnReady(func() { c.ready.Set(1) })
	if g.IsReady() {
		c.ready.Set(1)
	}
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Gatherer exposes the underlying registry.
func (c *Collector) Gatherer() prometheus.Gatherer {
	return c.registry
}

// methodLabel bounds label cardinality: unknown method names share one label.
func methodLabel(name string) string {
	m, ok := methods.ParseMethod(name)
	if !ok {
		return "unknown"
	}
	return m.String()
}
