package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scheduler metrics
var (
	JobsWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "albumcraft_ingest_jobs_waiting",
			Help: "Number of jobs waiting in the queue",
		},
	)

	JobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "albumcraft_ingest_jobs_active",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal status",
		},
		[]string{"status"}, // "completed", "failed"
	)

	JobRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_job_retries_total",
			Help: "Total number of job retries",
		},
	)

	JobsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_jobs_rejected_total",
			Help: "Total number of submissions rejected because the queue was full",
		},
	)
)

// Pipeline metrics
var (
	FilesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_files_total",
			Help: "Total number of files processed, by outcome kind",
		},
		[]string{"outcome"}, // "ok" or an error kind
	)

	VariantEncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "albumcraft_ingest_variant_encode_duration_seconds",
			Help:    "Time spent rendering and encoding a variant",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"role"},
	)

	FallbackEmbeds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_fallback_embeds_total",
			Help: "Photos stored as data URIs because no blob store is configured",
		},
	)

	MemoryStalls = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "albumcraft_ingest_memory_stalls_total",
			Help: "Times file dispatch was held back by the memory ceiling",
		},
	)
)
