// Package metrics exposes Prometheus metrics of the auth service.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nkiryanov/gopherauth/internal/service/auth"
)

const namespace = "gopherauth"

const outcomeSuccess = "success"

// Metrics owns its registry, the global one is left alone
type Metrics struct {
	registry *prometheus.Registry

	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   *prometheus.GaugeVec
	reuse      prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_operations_total",
			Help:      "Total number of auth operations by outcome (success or error kind)",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "auth_operation_duration_seconds",
			Help:      "Histogram of auth operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		inFlight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auth_operations_in_flight",
			Help:      "Number of auth operations being processed",
		}, []string{"operation"}),
		reuse: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_token_reuse_total",
			Help:      "Total number of revoked refresh tokens presented again",
		}),
	}
}

// Handler serves the exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Hook returns auth service hook that records operations
func (m *Metrics) Hook() auth.Hook {
	return hook{m}
}

type hook struct {
	m *Metrics
}

func (h hook) Before(_ context.Context, op auth.Operation) {
	h.m.inFlight.WithLabelValues(string(op)).Inc()
}

func (h hook) After(_ context.Context, e auth.Event) {
	h.observe(e, outcomeSuccess)
}

func (h hook) OnError(_ context.Context, e auth.Event) {
	if e.ReuseDetected {
		h.m.reuse.Inc()
	}
	h.observe(e, string(e.Err.Kind))
}

func (h hook) observe(e auth.Event, outcome string) {
	op := string(e.Op)
	h.m.inFlight.WithLabelValues(op).Dec()
	h.m.operations.WithLabelValues(op, outcome).Inc()
	h.m.duration.WithLabelValues(op).Observe(e.Duration.Seconds())
}
