package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles every prowl metric. It is constructed once at process
// start against an explicit registry and injected into the runner and the
// step executors; nothing registers into the global default registry.
type Collector struct {
	StepsTotal          *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	BreakerTransitions  *prometheus.CounterVec
	SKUsProcessed       *prometheus.CounterVec
	JobDurationSeconds  prometheus.Histogram
	StepDurationSeconds *prometheus.HistogramVec
	EventsEmitted       *prometheus.CounterVec
}

// New registers all collectors with reg and returns them.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		StepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prowl",
			Name:      "steps_total",
			Help:      "Workflow steps by site, action and terminal status.",
		}, []string{"site", "action", "status"}),
		RetriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prowl",
			Name:      "retries_total",
			Help:      "Retry attempts by site and classified failure kind.",
		}, []string{"site", "kind"}),
		BreakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prowl",
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions by key and new state.",
		}, []string{"key", "to"}),
		SKUsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prowl",
			Name:      "skus_processed_total",
			Help:      "Items processed by site and outcome.",
		}, []string{"site", "outcome"}),
		JobDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "prowl",
			Name:      "job_duration_seconds",
			Help:      "End-to-end job duration.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		StepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "prowl",
			Name:      "step_duration_seconds",
			Help:      "Single step duration by action.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"action"}),
		EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "prowl",
			Name:      "events_emitted_total",
			Help:      "Lifecycle events emitted by type.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		c.StepsTotal,
		c.RetriesTotal,
		c.BreakerTransitions,
		c.SKUsProcessed,
		c.JobDurationSeconds,
		c.StepDurationSeconds,
		c.EventsEmitted,
	)
	return c
}

// ObserveStep records one finished step. A nil Collector is valid and
// records nothing.
func (c *Collector) ObserveStep(site, action, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.StepsTotal.WithLabelValues(site, action, status).Inc()
	c.StepDurationSeconds.WithLabelValues(action).Observe(d.Seconds())
}

// ObserveRetry records one retry attempt.
func (c *Collector) ObserveRetry(site, kind string) {
	if c == nil {
		return
	}
	c.RetriesTotal.WithLabelValues(site, kind).Inc()
}

// ObserveTransition records one breaker state change.
func (c *Collector) ObserveTransition(key, to string) {
	if c == nil {
		return
	}
	c.BreakerTransitions.WithLabelValues(key, to).Inc()
}

// ObserveSKU records one processed item.
func (c *Collector) ObserveSKU(site, outcome string) {
	if c == nil {
		return
	}
	c.SKUsProcessed.WithLabelValues(site, outcome).Inc()
}

// ObserveJob records one finished job.
func (c *Collector) ObserveJob(d time.Duration) {
	if c == nil {
		return
	}
	c.JobDurationSeconds.Observe(d.Seconds())
}

// ObserveEvent records one emitted lifecycle event.
func (c *Collector) ObserveEvent(typ string) {
	if c == nil {
		return
	}
	c.EventsEmitted.WithLabelValues(typ).Inc()
}
