package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Authorization metrics
	AuthorizeTotal  *prometheus.CounterVec
	KeyVerifyTotal  *prometheus.CounterVec
	AuthEventsTotal *prometheus.CounterVec

	// Usage metrics
	UsageIncrementsTotal *prometheus.CounterVec
	UsageIncrementErrors *prometheus.CounterVec
	QuotaExceededTotal   *prometheus.CounterVec
	ResetRunsTotal       *prometheus.CounterVec
	ResetRecordsAffected prometheus.Gauge

	// AI metrics
	AIRequestsTotal   *prometheus.CounterVec
	AIRequestDuration *prometheus.HistogramVec
	AITokensTotal     *prometheus.CounterVec

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "notecompanion"
	}

	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		// Authorization metrics
		AuthorizeTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "authorize_total",
				Help:      "Total number of authorization decisions",
			},
			[]string{"outcome"}, // allowed, auth_failed, subscription_inactive, quota_exceeded, usage_check_failed
		),
		KeyVerifyTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "gate",
				Name:      "key_verify_total",
				Help:      "Total number of external key verification calls",
			},
			[]string{"result"}, // valid, invalid, error
		),
		AuthEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "events_total",
				Help:      "Total number of auth events",
			},
			[]string{"event", "provider"}, // event: login_success, login_failed, key_created, key_revoked
		),

		// Usage metrics
		UsageIncrementsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "increments_total",
				Help:      "Total metered amounts recorded per resource",
			},
			[]string{"resource"},
		),
		UsageIncrementErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "increment_errors_total",
				Help:      "Metering writes that failed and were dropped",
			},
			[]string{"resource"},
		),
		QuotaExceededTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "quota_exceeded_total",
				Help:      "Requests rejected for exhausted quota",
			},
			[]string{"resource"},
		),
		ResetRunsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "reset_runs_total",
				Help:      "Billing-cycle reset executions",
			},
			[]string{"status"}, // ok, failed
		),
		ResetRecordsAffected: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "usage",
				Name:      "reset_records_affected",
				Help:      "Records touched by the most recent reset run",
			},
		),

		// AI metrics
		AIRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ai",
				Name:      "requests_total",
				Help:      "Total number of AI requests",
			},
			[]string{"operation", "status"}, // operation: classify, tags, format, transcribe
		),
		AIRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "ai",
				Name:      "request_duration_seconds",
				Help:      "AI request duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		AITokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ai",
				Name:      "tokens_total",
				Help:      "Total number of tokens processed",
			},
			[]string{"operation", "type"}, // type: input, output
		),

		// Webhook metrics
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "billing",
				Name:      "webhook_events_total",
				Help:      "Total number of billing webhook events",
			},
			[]string{"provider", "type", "status"}, // status: processed, skipped, failed
		),
	}
}

// --- Convenience methods ---

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := statusCodeToString(status)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAuthorize records an authorization decision.
func (m *Metrics) RecordAuthorize(outcome string) {
	m.AuthorizeTotal.WithLabelValues(outcome).Inc()
}

// RecordKeyVerify records an external key verification result.
func (m *Metrics) RecordKeyVerify(result string) {
	m.KeyVerifyTotal.WithLabelValues(result).Inc()
}

// RecordAuthEvent records an auth event.
func (m *Metrics) RecordAuthEvent(event, provider string) {
	m.AuthEventsTotal.WithLabelValues(event, provider).Inc()
}

// RecordUsageIncrement records a metered amount, or a dropped write.
func (m *Metrics) RecordUsageIncrement(resource string, amount int64, err error) {
	if err != nil {
		m.UsageIncrementErrors.WithLabelValues(resource).Inc()
		return
	}
	m.UsageIncrementsTotal.WithLabelValues(resource).Add(float64(amount))
}

// RecordQuotaExceeded records a quota rejection.
func (m *Metrics) RecordQuotaExceeded(resource string) {
	m.QuotaExceededTotal.WithLabelValues(resource).Inc()
}

// RecordResetRun records a billing-cycle reset execution.
func (m *Metrics) RecordResetRun(affected int64, err error) {
	if err != nil {
		m.ResetRunsTotal.WithLabelValues("failed").Inc()
		return
	}
	m.ResetRunsTotal.WithLabelValues("ok").Inc()
	m.ResetRecordsAffected.Set(float64(affected))
}

// RecordAIRequest records an AI request.
func (m *Metrics) RecordAIRequest(operation, status string, duration time.Duration) {
	m.AIRequestsTotal.WithLabelValues(operation, status).Inc()
	m.AIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAITokens records token usage.
func (m *Metrics) RecordAITokens(operation string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		m.AITokensTotal.WithLabelValues(operation, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.AITokensTotal.WithLabelValues(operation, "output").Add(float64(outputTokens))
	}
}

// RecordWebhookEvent records a billing webhook event.
func (m *Metrics) RecordWebhookEvent(provider, eventType, status string) {
	m.WebhookEventsTotal.WithLabelValues(provider, eventType, status).Inc()
}

// statusCodeToString converts an HTTP status code to a string category.
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
