package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal       *prometheus.CounterVec
	WebhookEventDuration     *prometheus.HistogramVec
	LedgerClaimsTotal        *prometheus.CounterVec
	LedgerFinalizeErrors     prometheus.Counter
	LedgerStaleReleased      prometheus.Counter
	SubscriptionMutations    *prometheus.CounterVec
	AuditEntriesDroppedTotal *prometheus.CounterVec

	// Quota metrics
	QuotaDecisionsTotal  *prometheus.CounterVec
	QuotaConsumeDuration *prometheus.HistogramVec
	LimitCacheTotal      *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_webhook_events_total",
				Help: "Inbound billing events by type and disposition",
			},
			[]string{"event_type", "disposition"},
		),
		WebhookEventDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_webhook_event_duration_seconds",
				Help:    "Time to process a claimed billing event",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		LedgerClaimsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_ledger_claims_total",
				Help: "Idempotency ledger claim attempts by result",
			},
			[]string{"result"},
		),
		LedgerFinalizeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billsync_ledger_finalize_errors_total",
				Help: "Ledger finalize calls that failed",
			},
		),
		LedgerStaleReleased: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billsync_ledger_stale_released_total",
				Help: "Processing rows released by the sweeper",
			},
		),
		SubscriptionMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_subscription_mutations_total",
				Help: "Subscription state mutations by kind and status",
			},
			[]string{"kind", "status"},
		),
		AuditEntriesDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_audit_entries_dropped_total",
				Help: "Audit entries given up on after retries",
			},
			[]string{"action"},
		),

		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_quota_decisions_total",
				Help: "Quota consumption decisions by scope type and outcome",
			},
			[]string{"scope_type", "outcome", "backend"},
		),
		QuotaConsumeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billsync_quota_consume_duration_seconds",
				Help:    "Quota consume latency",
				Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"backend"},
		),
		LimitCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billsync_limit_cache_total",
				Help: "Plan limit cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.WebhookEventDuration,
		m.LedgerClaimsTotal,
		m.LedgerFinalizeErrors,
		m.LedgerStaleReleased,
		m.SubscriptionMutations,
		m.AuditEntriesDroppedTotal,
		m.QuotaDecisionsTotal,
		m.QuotaConsumeDuration,
		m.LimitCacheTotal,
	)

	return m
}

// RecordWebhookEvent counts an event's disposition and, when processed,
// its duration
func (m *Metrics) RecordWebhookEvent(eventType, disposition string, d time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, disposition).Inc()
	if d > 0 {
		m.WebhookEventDuration.WithLabelValues(eventType).Observe(d.Seconds())
	}
}

// RecordLedgerClaim counts a claim result: claimed, duplicate or error
func (m *Metrics) RecordLedgerClaim(result string) {
	if m == nil {
		return
	}
	m.LedgerClaimsTotal.WithLabelValues(result).Inc()
}

// RecordFinalizeError counts a failed finalize
func (m *Metrics) RecordFinalizeError() {
	if m == nil {
		return
	}
	m.LedgerFinalizeErrors.Inc()
}

// RecordStaleReleased counts rows released by the sweeper
func (m *Metrics) RecordStaleReleased(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.LedgerStaleReleased.Add(float64(n))
}

// RecordMutation counts a subscription mutation
func (m *Metrics) RecordMutation(kind, status string) {
	if m == nil {
		return
	}
	m.SubscriptionMutations.WithLabelValues(kind, status).Inc()
}

// RecordAuditDropped counts a dropped audit entry
func (m *Metrics) RecordAuditDropped(action string) {
	if m == nil {
		return
	}
	m.AuditEntriesDroppedTotal.WithLabelValues(action).Inc()
}

// RecordQuotaDecision counts a quota decision and its latency
func (m *Metrics) RecordQuotaDecision(scopeType, outcome, backend string, d time.Duration) {
	if m == nil {
		return
	}
	m.QuotaDecisionsTotal.WithLabelValues(scopeType, outcome, backend).Inc()
	m.QuotaConsumeDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RecordLimitCache counts a limit cache lookup
func (m *Metrics) RecordLimitCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.LimitCacheTotal.WithLabelValues(result).Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments requests. Routes are labelled by their
// mux path template to keep label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := "unmatched"
			if cr := mux.CurrentRoute(r); cr != nil {
				if tmpl, err := cr.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
