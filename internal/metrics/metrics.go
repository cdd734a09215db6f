// Package metrics provides Prometheus instrumentation for the decision service.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentra",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// DecisionsTotal counts risk decisions by outcome.
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra",
			Name:      "decisions_total",
			Help:      "Total risk decisions by outcome (allow, block, review).",
		},
		[]string{"decision"},
	)

	// DecisionLatency observes end-to-end scoring latency.
	DecisionLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sentra",
		Name:      "decision_latency_seconds",
		Help:      "End-to-end transaction scoring latency in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// EngineErrorsTotal counts pipeline failures converted to fail-safe review.
	EngineErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "engine_errors_total",
		Help:      "Total pipeline errors converted to fail-safe review decisions.",
	})

	// LatencySLABreachesTotal counts decisions exceeding the latency budget.
	LatencySLABreachesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "latency_sla_breaches_total",
		Help:      "Total decisions whose latency exceeded the configured budget.",
	})

	// AMLHitsTotal counts AML screening hits by source.
	AMLHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentra",
			Name:      "aml_hits_total",
			Help:      "Total AML screening hits by source (sanctions, pep, velocity).",
		},
		[]string{"source"},
	)

	// STRFiledTotal counts suspicious transaction reports filed.
	STRFiledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "str_filed_total",
		Help:      "Total suspicious transaction reports filed.",
	})

	// DriftEventsTotal counts detected drift events.
	DriftEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sentra",
		Name:      "drift_events_total",
		Help:      "Total model performance drift events detected.",
	})

	// GraphNodes tracks the current entity graph node count.
	GraphNodes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentra", Name: "graph_nodes",
		Help: "Current number of entity graph nodes.",
	})
	// GraphEdges tracks the current entity graph edge count.
	GraphEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentra", Name: "graph_edges",
		Help: "Current number of entity graph edges.",
	})

	// ActiveStreamClients tracks connected decision stream clients.
	ActiveStreamClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentra", Name: "active_stream_clients",
		Help: "Number of currently connected decision stream clients.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		DecisionsTotal,
		DecisionLatency,
		EngineErrorsTotal,
		LatencySLABreachesTotal,
		AMLHitsTotal,
		STRFiledTotal,
		DriftEventsTotal,
		GraphNodes,
		GraphEdges,
		ActiveStreamClients,
	)
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
