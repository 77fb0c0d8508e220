// Package metrics exposes Prometheus collectors for runs, node executions,
// generation latency, incurred cost and provider health. Recording helpers
// are no-ops until Init is called, so embedding hosts opt in.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all engine collectors.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	RunsActive        prometheus.Gauge
	NodesTotal        *prometheus.CounterVec
	GenerationSeconds *prometheus.HistogramVec
	IncurredCostUSD   prometheus.Counter
	ProviderHealthy   *prometheus.GaugeVec
}

var (
	initOnce      sync.Once
	globalMetrics *Metrics
)

// Init registers the collectors with the default registry and returns them.
// Safe to call more than once.
func Init() *Metrics {
	initOnce.Do(func() {
		globalMetrics = &Metrics{
			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "canvasflow_runs_total",
				Help: "Finished graph runs by final status.",
			}, []string{"status"}),
			RunsActive: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "canvasflow_runs_active",
				Help: "Runs currently in flight.",
			}),
			NodesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "canvasflow_node_executions_total",
				Help: "Node executions by node type and terminal state.",
			}, []string{"type", "state"}),
			GenerationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "canvasflow_generation_duration_seconds",
				Help:    "Wall time of provider generation calls.",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 12), // 250ms .. ~8.5m
			}, []string{"type", "provider"}),
			IncurredCostUSD: promauto.NewCounter(prometheus.CounterOpts{
				Name: "canvasflow_incurred_cost_usd_total",
				Help: "Real generation cost recorded across all runs, in USD.",
			}),
			ProviderHealthy: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "canvasflow_provider_healthy",
				Help: "Provider health per capability (1 usable, 0 not).",
			}, []string{"provider", "capability"}),
		}
	})
	return globalMetrics
}

// RunStarted bumps the active run gauge.
func RunStarted() {
	if globalMetrics != nil {
		globalMetrics.RunsActive.Inc()
	}
}

// RunFinished records a finished run with its final status.
func RunFinished(status string) {
	if globalMetrics != nil {
		globalMetrics.RunsActive.Dec()
		globalMetrics.RunsTotal.WithLabelValues(status).Inc()
	}
}

// NodeFinished records a node reaching a terminal state.
func NodeFinished(nodeType, state string) {
	if globalMetrics != nil {
		globalMetrics.NodesTotal.WithLabelValues(nodeType, state).Inc()
	}
}

// ObserveGeneration records the wall time of one generation call.
func ObserveGeneration(nodeType, provider string, seconds float64) {
	if globalMetrics != nil {
		globalMetrics.GenerationSeconds.WithLabelValues(nodeType, provider).Observe(seconds)
	}
}

// AddIncurredCost adds real spend to the cost counter.
func AddIncurredCost(usd float64) {
	if globalMetrics != nil && usd > 0 {
		globalMetrics.IncurredCostUSD.Add(usd)
	}
}

// SetProviderHealth publishes a provider/capability health flag.
func SetProviderHealth(provider, capability string, healthy bool) {
	if globalMetrics != nil {
		v := 0.0
		if healthy {
			v = 1.0
		}
		globalMetrics.ProviderHealthy.WithLabelValues(provider, capability).Set(v)
	}
}
