// Package observability holds the Prometheus metrics shared by the server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ytinfo",
		Name:      "resolutions_total",
		Help:      "Video reference resolutions by outcome (ok or the failure reason)",
	}, []string{"outcome"})

	CollaboratorDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ytinfo",
		Name:      "collaborator_duration_seconds",
		Help:      "Duration of metadata, transcript and format lookups",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"collaborator", "status"})

	Downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ytinfo",
		Name:      "downloads_total",
		Help:      "Downloads by outcome",
	}, []string{"status"})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ytinfo",
		Name:      "download_bytes_total",
		Help:      "Bytes written by finished downloads",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ytinfo",
		Name:      "active_jobs",
		Help:      "Number of queued or running download jobs",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ytinfo",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "ytinfo",
		Name:      "rate_limited_total",
		Help:      "Requests rejected by the per-client rate limiter",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "ytinfo",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)

// Status labels a collaborator call for CollaboratorDuration.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
