// Package metrics exposes prometheus metrics for executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Namespace prefixes every metric name.
const Namespace = "actionrunner"

// Collector records execution metrics into its own registry.
type Collector struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	outputLinesTotal  *prometheus.CounterVec
	preflightFailures *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the execution metrics on a fresh registry.
func NewCollector(logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "executions_total",
				Help:      "Total number of finished executions",
			},
			[]string{"runner", "status"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "execution_duration_seconds",
				Help:      "Execution wall-clock duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"runner"},
		),
		outputLinesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "output_lines_total",
				Help:      "Total number of output lines read from children",
			},
			[]string{"stream"},
		),
		preflightFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "preflight_failures_total",
				Help:      "Total number of executions rejected before spawn",
			},
			[]string{"reason"},
		),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// RecordExecution records one finished execution.
func (c *Collector) RecordExecution(runner, status string, d time.Duration) {
	c.executionsTotal.WithLabelValues(runner, status).Inc()
	c.executionDuration.WithLabelValues(runner).Observe(d.Seconds())
}

// RecordOutputLines adds n lines read from stream.
func (c *Collector) RecordOutputLines(stream string, n int) {
	if n <= 0 {
		return
	}
	c.outputLinesTotal.WithLabelValues(stream).Add(float64(n))
}

// RecordPreflightFailure counts an execution rejected before spawn.
func (c *Collector) RecordPreflightFailure(reason string) {
	c.preflightFailures.WithLabelValues(reason).Inc()
	c.logger.Debug("preflight failure", zap.String("reason", reason))
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
