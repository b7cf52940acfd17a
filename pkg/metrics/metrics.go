// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the pipeline's metrics. A nil *Collectors is valid and
// records nothing.
type Collectors struct {
	limiterWait prometheus.Histogram
	stageCalls  *prometheus.CounterVec
	retries     *prometheus.CounterVec
	runs        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		limiterWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lanepro_rate_limiter_wait_seconds",
			Help:    "Time model calls spent waiting for the global rate limiter.",
			Buckets: []float64{0, 0.5, 1, 5, 10, 20, 30, 60},
		}),
		stageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanepro_stage_calls_total",
			Help: "Model calls made by each stage, by outcome.",
		}, []string{"stage", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanepro_stage_retries_total",
			Help: "Stage attempts that failed and were retried.",
		}, []string{"stage"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lanepro_runs_total",
			Help: "Pipeline runs, by outcome.",
		}, []string{"outcome"}),
	}

	for _, collector := range []prometheus.Collector{c.limiterWait, c.stageCalls, c.retries, c.runs} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// ObserveWait records a rate limiter wait.
func (c *Collectors) ObserveWait(d time.Duration) {
	if c == nil {
		return
	}
	c.limiterWait.Observe(d.Seconds())
}

// StageCall counts one stage attempt. outcome is "success" or "error".
func (c *Collectors) StageCall(stage, outcome string) {
	if c == nil {
		return
	}
	c.stageCalls.WithLabelValues(stage, outcome).Inc()
}

// Retry counts one retried stage attempt.
func (c *Collectors) Retry(stage string) {
	if c == nil {
		return
	}
	c.retries.WithLabelValues(stage).Inc()
}

// Run counts one finished or refused pipeline run.
func (c *Collectors) Run(outcome string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(outcome).Inc()
}
