package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	activeSessions prometheus.Gauge
	sessionsPruned prometheus.Counter
	historyBoots   prometheus.Counter

	chatTotal    *prometheus.CounterVec
	chatDuration prometheus.Histogram

	attachmentsDropped *prometheus.CounterVec

	modelAttemptTotal    *prometheus.CounterVec
	modelAttemptDuration *prometheus.HistogramVec
	fallbackExhausted    prometheus.Counter
	modelTokens          *prometheus.CounterVec

	gatewayRequests *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current in-memory chat session count.",
				},
			),
			sessionsPruned: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "sessions_pruned_total",
					Help: "Total sessions evicted after exceeding their idle TTL.",
				},
			),
			historyBoots: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "history_bootstrap_total",
					Help: "Total sessions seeded from client-supplied history.",
				},
			),
			chatTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat_requests_total",
					Help: "Total chat calls by outcome.",
				},
				[]string{"status"},
			),
			chatDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "chat_duration_seconds",
					Help:    "End-to-end chat duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			attachmentsDropped: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "attachments_dropped_total",
					Help: "Total attachments dropped before invocation by reason.",
				},
				[]string{"reason"},
			),
			modelAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_attempt_total",
					Help: "Total model attempts by model and status.",
				},
				[]string{"model", "status"},
			),
			modelAttemptDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "model_attempt_duration_seconds",
					Help:    "Model attempt duration in seconds by model.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"model"},
			),
			fallbackExhausted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "model_fallback_exhausted_total",
					Help: "Total invocations where every model candidate failed.",
				},
			),
			modelTokens: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "model_tokens_total",
					Help: "Total tokens reported by model backends by model and direction.",
				},
				[]string{"model", "direction"},
			),
			gatewayRequests: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_requests_total",
					Help: "Total gateway requests by method and status.",
				},
				[]string{"method", "status"},
			),
		}

		prometheus.MustRegister(
			m.activeSessions,
			m.sessionsPruned,
			m.historyBoots,
			m.chatTotal,
			m.chatDuration,
			m.attachmentsDropped,
			m.modelAttemptTotal,
			m.modelAttemptDuration,
			m.fallbackExhausted,
			m.modelTokens,
			m.gatewayRequests,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func SetActiveSessions(count int) {
	m := getMetrics()
	m.activeSessions.Set(float64(count))
}

func RecordSessionsPruned(count int) {
	if count <= 0 {
		return
	}
	m := getMetrics()
	m.sessionsPruned.Add(float64(count))
}

func RecordHistoryBootstrap() {
	m := getMetrics()
	m.historyBoots.Inc()
}

// RecordChat records a finished chat call. status is one of
// success, validation, permission, upstream or error.
func RecordChat(status string, duration time.Duration) {
	m := getMetrics()
	m.chatTotal.WithLabelValues(status).Inc()
	m.chatDuration.Observe(duration.Seconds())
}

func RecordAttachmentDropped(reason string) {
	m := getMetrics()
	m.attachmentsDropped.WithLabelValues(reason).Inc()
}

func RecordModelAttempt(model string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.modelAttemptTotal.WithLabelValues(model, status).Inc()
	m.modelAttemptDuration.WithLabelValues(model).Observe(duration.Seconds())
}

func RecordFallbackExhausted() {
	m := getMetrics()
	m.fallbackExhausted.Inc()
}

func RecordTokenUsage(model string, input, output int) {
	m := getMetrics()
	if input > 0 {
		m.modelTokens.WithLabelValues(model, "input").Add(float64(input))
	}
	if output > 0 {
		m.modelTokens.WithLabelValues(model, "output").Add(float64(output))
	}
}

func RecordGatewayRequest(method, status string) {
	m := getMetrics()
	m.gatewayRequests.WithLabelValues(method, status).Inc()
}
