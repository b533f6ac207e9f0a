package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sovereignRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sovereign_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	sovereignRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sovereign_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	sovereignLedgerEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sovereign_ledger_entries_total",
		Help: "Total ledger entries sealed.",
	})

	sovereignChainChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sovereign_chain_verifications_total",
		Help: "Total chain verification walks by result.",
	}, []string{"result"})

	sovereignEngineProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sovereign_engine_probes_total",
		Help: "Total analysis engine health probes by result.",
	}, []string{"result"})

	sovereignWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sovereign_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})
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

		sovereignRequestsTotal.WithLabelValues(method, path, status).Inc()
		sovereignRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records a sealed ledger entry.
func RecordLedgerAppend() {
	sovereignLedgerEntriesTotal.Inc()
}

// RecordChainVerification records a full chain verification walk.
func RecordChainVerification(valid bool) {
	if valid {
		sovereignChainChecksTotal.WithLabelValues("valid").Inc()
	} else {
		sovereignChainChecksTotal.WithLabelValues("broken").Inc()
	}
}

// RecordEngineProbe records an analysis engine health probe result.
func RecordEngineProbe(healthy bool) {
	if healthy {
		sovereignEngineProbesTotal.WithLabelValues("healthy").Inc()
	} else {
		sovereignEngineProbesTotal.WithLabelValues("unhealthy").Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		sovereignWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		sovereignWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
