package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Clip feeds fan out to many Helix calls on a cold cache, so the buckets reach
// well past the usual sub-second range.
var requestBuckets = []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20}

// HTTPMetrics tracks requests by method, route template and final status.
type HTTPMetrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestsTotal   *prometheus.CounterVec
	InFlight        prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	labels := []string{"method", "route", "status_code"}
	m := &HTTPMetrics{
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   requestBuckets,
		}, labels),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, labels),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Number of HTTP requests currently being processed.",
		}),
	}

	reg.MustRegister(m.RequestDuration, m.RequestsTotal, m.InFlight)
	return m
}

// Middleware measures routed requests. Ops routes (/metrics, /health/*) and
// requests that matched no route are not measured.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			if !measured(route) {
				return next(c)
			}

			m.InFlight.Inc()
			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)
			m.InFlight.Dec()

			labels := prometheus.Labels{
				"method":      c.Request().Method,
				"route":       route,
				"status_code": strconv.Itoa(statusOf(c, err)),
			}
			m.RequestDuration.With(labels).Observe(elapsed.Seconds())
			m.RequestsTotal.With(labels).Inc()
			return err
		}
	}
}

func measured(route string) bool {
	return route != "" && route != "/metrics" && !strings.HasPrefix(route, "/health/")
}

type statusCoder interface {
	error
	HTTPStatus() int
}

// statusOf reports the status that will reach the client, including errors
// that have not been written yet.
func statusOf(c echo.Context, err error) int {
	if c.Response().Committed || err == nil {
		return c.Response().Status
	}
	if httpErr, ok := errors.AsType[*echo.HTTPError](err); ok {
		return httpErr.Code
	}
	if coder, ok := errors.AsType[statusCoder](err); ok {
		return coder.HTTPStatus()
	}
	return http.StatusInternalServerError
}
