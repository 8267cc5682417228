// Package metrics provides Prometheus metrics for the file browser.
package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hddbrowser_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	bytesStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_bytes_streamed_total",
			Help: "Bytes scheduled for download or stream responses",
		},
		[]string{"kind"},
	)

	thumbCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_thumbnail_cache_total",
			Help: "Thumbnail cache lookups by result",
		},
		[]string{"result"},
	)

	thumbGenerateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hddbrowser_thumbnail_generate_duration_seconds",
			Help:    "Time spent decoding and encoding a thumbnail",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 12},
		},
		[]string{"kind", "status"},
	)

	mutationItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_mutation_items_total",
			Help: "Upload and delete items by outcome",
		},
		[]string{"op", "status"},
	)

	resolverRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_resolver_rejections_total",
			Help: "Path resolutions refused at the root boundary",
		},
		[]string{"reason"},
	)

	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hddbrowser_auth_attempts_total",
			Help: "Total login attempts",
		},
		[]string{"result"},
	)

	indexedFiles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hddbrowser_index_files",
			Help: "Rows in the file index per root",
		},
		[]string{"root"},
	)
)

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "error"
}

// Handler serves the Prometheus registry on a fiber route.
func Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}

// Middleware records request counts and durations labelled by the matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := c.Route().Path
		code := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			code = fe.Code
		}
		RecordHTTPRequest(c.Method(), route, code, time.Since(start))
		return err
	}
}

func RecordHTTPRequest(method, route string, code int, d time.Duration) {
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordBytesStreamed(kind string, n int64) {
	bytesStreamed.WithLabelValues(kind).Add(float64(n))
}

func RecordThumbCache(hit bool) {
	if hit {
		thumbCacheTotal.WithLabelValues("hit").Inc()
		return
	}
	thumbCacheTotal.WithLabelValues("miss").Inc()
}

func RecordThumbGenerate(kind string, d time.Duration, ok bool) {
	thumbGenerateDuration.WithLabelValues(kind, status(ok)).Observe(d.Seconds())
}

func RecordMutation(op string, ok bool) {
	mutationItemsTotal.WithLabelValues(op, status(ok)).Inc()
}

func RecordResolverRejection(reason string) {
	resolverRejections.WithLabelValues(reason).Inc()
}

func RecordAuthAttempt(ok bool) {
	authAttemptsTotal.WithLabelValues(status(ok)).Inc()
}

func SetIndexedFiles(root string, n int) {
	indexedFiles.WithLabelValues(root).Set(float64(n))
}
