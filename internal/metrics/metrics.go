package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PublishOutcomes counts finished publish attempts by platform and outcome (success, retry, failed).
	PublishOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoblade_publish_attempts_total",
		Help: "The total number of publish attempts by outcome",
	}, []string{"platform", "outcome"})

	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoblade_token_refresh_total",
		Help: "The total number of OAuth token refreshes",
	}, []string{"platform", "status"})

	UploadBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoblade_upload_bytes_total",
		Help: "Bytes sent to platforms by uploads",
	}, []string{"platform"})

	ResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "videoblade_http_responses_total",
		Help: "The total number of HTTP responses by route and status code",
	}, []string{"method", "route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "videoblade_http_request_duration_seconds",
		Help:    "The request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

// Middleware records request counts and latencies per matched route.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}

		route := c.Route().Path
		ResponsesTotal.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		RequestDuration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}
