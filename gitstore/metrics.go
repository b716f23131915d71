package gitstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/addongit/api"
)

/*
	Metrics for the commit pipeline.

	A nil *Metrics is valid and records nothing.
*/
type Metrics struct {
	materialized *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	sanitized    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with `reg`.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		materialized: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "addongit_materialize_total",
				Help: "Revisions materialized, by package kind, channel, and outcome (\"ok\" or an error category)",
			},
			[]string{"kind", "channel", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "addongit_materialize_duration_seconds",
				Help:    "Time spent materializing one revision, extraction included",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"kind"},
		),
		sanitized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "addongit_sanitized_paths_total",
				Help: "Paths renamed because they collided with the reserved metadata dir name",
			},
		),
	}
	reg.MustRegister(m.materialized, m.duration, m.sanitized)
	return m
}

func (m *Metrics) observe(kind api.PackageKind, channel api.Channel, err error, started time.Time) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "unknown"
		if cat, ok := Category(err).(api.ErrorCategory); ok {
			outcome = string(cat)
		}
	}
	m.materialized.WithLabelValues(string(kind), string(channel), outcome).Inc()
	m.duration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) sanitizedPaths(n int) {
	if m == nil || n == 0 {
		return
	}
	m.sanitized.Add(float64(n))
}
