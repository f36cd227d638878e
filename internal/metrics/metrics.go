// Package metrics exposes prometheus instrumentation for the runner.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the runner records into.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsSucceeded prometheus.Counter
	JobsFailed    *prometheus.CounterVec

	JobsQueued  prometheus.Gauge
	JobsRunning prometheus.Gauge

	JobDuration prometheus.Histogram

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_jobs_submitted_total",
			Help: "Total jobs accepted by intake",
		}),
		JobsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "runner_jobs_succeeded_total",
			Help: "Total jobs that reached the succeeded state",
		}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_jobs_failed_total",
			Help: "Total jobs that reached the failed state",
		}, []string{"kind"}),
		JobsQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_jobs_queued",
			Help: "Jobs currently waiting in the dispatch queue",
		}),
		JobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runner_jobs_running",
			Help: "Jobs currently executing in a browser slot",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "runner_job_duration_seconds",
			Help:    "Wall time jobs spent executing",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runner_http_requests_total",
			Help: "Total http requests served",
		}, []string{"method", "path", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "runner_http_request_duration_seconds",
			Help:    "Http request duration",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		m.JobsSubmitted, m.JobsSucceeded, m.JobsFailed,
		m.JobsQueued, m.JobsRunning, m.JobDuration,
		m.HTTPRequests, m.HTTPDuration,
	)
	return m
}

// Middleware records request counts and latency for every route.
func Middleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
