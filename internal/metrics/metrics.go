// Package metrics exposes Prometheus instrumentation for agent runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loopagent/loopagent/internal/chain"
)

// Collector implements chain.Observer and records run metrics.
type Collector struct {
	registry *prometheus.Registry

	oracleCalls     *prometheus.CounterVec
	oracleLatency   prometheus.Histogram
	capabilityCalls *prometheus.CounterVec
	capLatency      *prometheus.HistogramVec
	runsCompleted   *prometheus.CounterVec
	runIterations   prometheus.Histogram
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopagent_oracle_calls_total",
			Help: "Oracle consultations by outcome.",
		}, []string{"outcome"}),
		oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopagent_oracle_latency_seconds",
			Help:    "Oracle consultation latency.",
			Buckets: prometheus.DefBuckets,
		}),
		capabilityCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopagent_capability_calls_total",
			Help: "Capability invocations by name and outcome.",
		}, []string{"capability", "outcome"}),
		capLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loopagent_capability_latency_seconds",
			Help:    "Capability invocation latency by name.",
			Buckets: prometheus.DefBuckets,
		}, []string{"capability"}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loopagent_runs_total",
			Help: "Completed chain runs by whether an action was taken.",
		}, []string{"action_taken"}),
		runIterations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "loopagent_run_iterations",
			Help:    "Iterations consumed per run.",
			Buckets: []float64{1, 2, 3, 4, 5},
		}),
	}
	reg.MustRegister(
		c.oracleCalls, c.oracleLatency,
		c.capabilityCalls, c.capLatency,
		c.runsCompleted, c.runIterations,
	)
	return c
}

func (c *Collector) OracleCall(latency time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	c.oracleCalls.WithLabelValues(outcome).Inc()
	c.oracleLatency.Observe(latency.Seconds())
}

func (c *Collector) CapabilityCall(name string, success bool, latency time.Duration) {
	outcome := "ok"
	if !success {
		outcome = "error"
	}
	c.capabilityCalls.WithLabelValues(name, outcome).Inc()
	c.capLatency.WithLabelValues(name).Observe(latency.Seconds())
}

func (c *Collector) RunCompleted(outcome *chain.Outcome) {
	taken := "false"
	if outcome.ActionTaken {
		taken = "true"
	}
	c.runsCompleted.WithLabelValues(taken).Inc()
	c.runIterations.Observe(float64(outcome.Iterations))
}

// Handler serves the /metrics endpoint for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
