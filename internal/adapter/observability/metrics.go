// Package observability provides logging, metrics, and tracing adapters.
package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI provider requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI provider request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
	AIPromptTokens = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_prompt_tokens",
			Help:    "Token count of prompts submitted to the provider",
			Buckets: []float64{64, 128, 256, 512, 1024, 2048, 4096, 8192},
		},
		[]string{"operation"},
	)

	DispatcherSlotCooldownsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatcher_slot_cooldowns_total",
			Help: "Credential slots marked cooling after a rate-limit signal, by slot index",
		},
		[]string{"slot"},
	)
	DispatcherExhaustedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatcher_exhausted_total",
			Help: "Dispatcher calls that failed with all credentials exhausted",
		},
	)
	DispatcherThrottleWait = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dispatcher_throttle_wait_seconds",
			Help:    "Time spent waiting on the dispatcher throttle floor",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 60},
		},
	)

	JobsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_consumed_total",
			Help: "Raw job messages consumed by the enrichment worker, by outcome",
		},
		[]string{"outcome"},
	)
	EmbeddingDimMismatchTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_dim_mismatch_total",
			Help: "Stored vectors excluded from ranking due to a dimensionality mismatch",
		},
	)
	ResumeMatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "resume_match_duration_seconds",
			Help:    "End-to-end resume match request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
	)
)

func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AIPromptTokens)
	prometheus.MustRegister(DispatcherSlotCooldownsTotal)
	prometheus.MustRegister(DispatcherExhaustedTotal)
	prometheus.MustRegister(DispatcherThrottleWait)
	prometheus.MustRegister(JobsConsumedTotal)
	prometheus.MustRegister(EmbeddingDimMismatchTotal)
	prometheus.MustRegister(ResumeMatchDuration)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		method := r.Method
		status := ww.Status()
		HTTPRequestsTotal.WithLabelValues(route, method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, method).Observe(dur)
	})
}
