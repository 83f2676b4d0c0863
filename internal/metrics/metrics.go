// Package metrics holds the Prometheus collectors shared by the pipeline,
// the real-time hub and the streaming responder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_pipeline_jobs_total",
		Help: "Processing jobs by final result (completed, failed, skipped).",
	}, []string{"result"})

	PipelineActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "video_pipeline_active_jobs",
		Help: "Number of processing jobs currently running.",
	})

	PipelineJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "video_pipeline_job_duration_seconds",
		Help:    "Wall time of a processing job.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
	})

	RealtimeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "realtime_connections",
		Help: "Open real-time connections.",
	})

	RealtimeEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "realtime_events_total",
		Help: "Events emitted to user addresses, by event name.",
	}, []string{"event"})

	StreamBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "video_stream_bytes_total",
		Help: "Bytes of video written to clients.",
	})

	StreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "video_stream_requests_total",
		Help: "Stream responses by kind (full, partial, unsatisfiable).",
	}, []string{"kind"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
