// Package metrics exposes pipeline counters for Prometheus scraping.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Jobs counts orchestration runs by terminal status.
	Jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatsync_jobs_total",
			Help: "Total music video jobs by status",
		},
		[]string{"status"},
	)

	// StageFallbacks counts soft failures recovered by a stage fallback.
	StageFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beatsync_stage_fallbacks_total",
			Help: "Stage failures recovered by fallback, by stage",
		},
		[]string{"stage"},
	)

	// JobDuration observes wall time for whole orchestration runs.
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beatsync_job_duration_seconds",
			Help:    "End-to-end job processing time",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)
)

var registerOnce sync.Once

// Register installs the pipeline metrics into the default registry. Safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(Jobs, StageFallbacks, JobDuration)
	})
}
