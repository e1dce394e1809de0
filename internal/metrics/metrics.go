// Package metrics exposes prometheus collectors for gateway operations.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bosgateway"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Recorder records operation counts and durations.
type Recorder struct {
	gatherer  prometheus.Gatherer
	rebalance *prometheus.CounterVec
	duration  prometheus.Histogram
	reports   *prometheus.CounterVec
	dropped   prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		gatherer: reg,
		rebalance: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rebalance_jobs_total",
			Help:      "Rebalance jobs by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rebalance_duration_seconds",
			Help:      "Wall time of rebalance jobs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounting_reports_total",
			Help:      "Accounting reports by outcome.",
		}, []string{"outcome"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_events_dropped_total",
			Help:      "Live events dropped because a queue was full.",
		}),
	}
	reg.MustRegister(r.rebalance, r.duration, r.reports, r.dropped,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return r
}

// Rebalance records a finished rebalance job.
func (r *Recorder) Rebalance(ok bool, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.rebalance.WithLabelValues(label(ok)).Inc()
	r.duration.Observe(elapsed.Seconds())
}

// Report records a finished accounting report.
func (r *Recorder) Report(ok bool) {
	if r == nil {
		return
	}
	r.reports.WithLabelValues(label(ok)).Inc()
}

// Dropped counts one dropped live event.
func (r *Recorder) Dropped() {
	if r == nil {
		return
	}
	r.dropped.Inc()
}

// Handler serves the registry in the exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

func label(ok bool) string {
	if ok {
		return OutcomeSuccess
	}
	return OutcomeFailure
}
