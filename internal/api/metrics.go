package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	tpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustplane_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	tpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trustplane_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	tpTelemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustplane_telemetry_events_total",
		Help: "Total telemetry events processed by result.",
	}, []string{"result"})

	tpTrustAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustplane_trust_adjustments_total",
		Help: "Total trust score adjustments by direction.",
	}, []string{"direction"})

	tpQuarantineEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trustplane_quarantine_events_total",
		Help: "Total quarantine lifecycle events by status.",
	}, []string{"status"})

	tpQuarantinedDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trustplane_quarantined_devices",
		Help: "Number of devices currently quarantined.",
	})

	tpLedgerRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustplane_ledger_records_total",
		Help: "Total material trust change records appended to the ledger.",
	})

	tpAnomaliesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trustplane_anomalies_total",
		Help: "Total statistical anomalies flagged by the detector.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		tpRequestsTotal.WithLabelValues(method, path, status).Inc()
		tpRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordTelemetryEvent records a processed telemetry event.
func RecordTelemetryEvent(accepted bool) {
	if accepted {
		tpTelemetryEventsTotal.WithLabelValues("accepted").Inc()
	} else {
		tpTelemetryEventsTotal.WithLabelValues("rejected").Inc()
	}
}

// RecordTrustAdjustment records a trust score adjustment by direction.
func RecordTrustAdjustment(delta float64) {
	switch {
	case delta > 0:
		tpTrustAdjustmentsTotal.WithLabelValues("up").Inc()
	case delta < 0:
		tpTrustAdjustmentsTotal.WithLabelValues("down").Inc()
	default:
		tpTrustAdjustmentsTotal.WithLabelValues("flat").Inc()
	}
}

// RecordQuarantineEvent records a quarantine lifecycle event.
func RecordQuarantineEvent(status string) {
	tpQuarantineEventsTotal.WithLabelValues(status).Inc()
}

// SetQuarantinedDevices sets the quarantined device count gauge.
func SetQuarantinedDevices(count float64) {
	tpQuarantinedDevices.Set(count)
}

// RecordLedgerAppend records a material trust change append.
func RecordLedgerAppend() {
	tpLedgerRecordsTotal.Inc()
}

// RecordAnomaly records a flagged anomaly.
func RecordAnomaly() {
	tpAnomaliesTotal.Inc()
}
