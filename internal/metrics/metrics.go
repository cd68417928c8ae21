// Package metrics exposes Prometheus collectors for the HTTP boundary and
// the quota engine.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "minertimer",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minertimer",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	reportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minertimer",
			Name:      "usage_reports_total",
			Help:      "Usage reports merged into the ledger",
		},
		[]string{"outcome"},
	)

	adjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "minertimer",
			Name:      "budget_adjustments_total",
			Help:      "Administrative budget adjustments",
		},
		[]string{"action", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(reportsTotal)
	prometheus.MustRegister(adjustmentsTotal)
}

// Middleware records request duration and count per route pattern.
func Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		path := ctx.FullPath()
		if path == "" {
			// Unmatched routes collapse into one label to cap cardinality.
			path = "unmatched"
		}
		status := strconv.Itoa(ctx.Writer.Status())
		duration := time.Since(start).Seconds()
		httpRequestDuration.WithLabelValues(ctx.Request.Method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(ctx.Request.Method, path, status).Inc()
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// ObserveReport counts one usage report by outcome.
func ObserveReport(err error) {
	reportsTotal.WithLabelValues(outcome(err)).Inc()
}

// ObserveAdjustment counts one budget adjustment by action and outcome.
func ObserveAdjustment(action string, err error) {
	adjustmentsTotal.WithLabelValues(action, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
