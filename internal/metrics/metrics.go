package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transformd_jobs_submitted_total",
		Help: "Total number of transformation jobs submitted",
	}, []string{"source_format", "target_format"})

	JobsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformd_jobs_completed_total",
		Help: "Total number of transformation jobs completed successfully",
	})

	JobsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformd_jobs_failed_total",
		Help: "Total number of transformation jobs that failed",
	})

	DuplicateDeliveriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformd_duplicate_deliveries_total",
		Help: "Queue deliveries skipped because the job was already claimed",
	})

	ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "transformd_conversion_duration_seconds",
		Help:    "Time taken by the conversion step in seconds",
		Buckets: prometheus.DefBuckets,
	})

	BytesConvertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformd_bytes_converted_total",
		Help: "Total source bytes fed through the conversion engine",
	})

	JobsRequeuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transformd_jobs_requeued_total",
		Help: "Stale pending jobs re-enqueued by the sweeper",
	})
)
