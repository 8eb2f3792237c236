package observability

import (
	"time"

	"github.com/ihacademy/debit-orders-go/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the debit-order service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	mandatesCreated   prometheus.Counter
	mandateStatus     *prometheus.CounterVec
	txGenerated       prometheus.Counter
	debitOutcomes     *prometheus.CounterVec
	railErrors        *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	notificationsSent *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "debitorder_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		mandatesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "debitorder_mandates_created_total",
				Help: "Total mandates created.",
			},
		),
		mandateStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_mandate_transitions_total",
				Help: "Total mandate status transitions.",
			},
			[]string{"to"},
		),
		txGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "debitorder_transactions_generated_total",
				Help: "Total transactions created by the billing generator.",
			},
		),
		debitOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_debits_total",
				Help: "Total processed debits by outcome (successful, retried, exhausted).",
			},
			[]string{"outcome"},
		),
		railErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_rail_errors_total",
				Help: "Total transport-level errors from the payment rail.",
			},
			[]string{"rail"},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "debitorder_run_duration_seconds",
				Help:    "Duration of billing runs by kind (generate, process).",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		notificationsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "debitorder_notifications_total",
				Help: "Total payment notifications by delivery status.",
			},
			[]string{"status"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrMandateCreated increments the mandate creation counter.
func (m *Metrics) IncrMandateCreated() {
	m.mandatesCreated.Inc()
}

// IncrMandateTransition counts a mandate status transition.
func (m *Metrics) IncrMandateTransition(to domain.MandateStatus) {
	m.mandateStatus.WithLabelValues(string(to)).Inc()
}

// IncrTransactionGenerated increments the generated-transaction counter.
func (m *Metrics) IncrTransactionGenerated() {
	m.txGenerated.Inc()
}

// IncrDebitOutcome counts a processed debit by outcome.
func (m *Metrics) IncrDebitOutcome(outcome string) {
	m.debitOutcomes.WithLabelValues(outcome).Inc()
}

// IncrRailError increments the rail transport error counter.
func (m *Metrics) IncrRailError(rail string) {
	m.railErrors.WithLabelValues(rail).Inc()
}

// RecordRunDuration records the duration of a billing run.
func (m *Metrics) RecordRunDuration(kind string, d time.Duration) {
	m.runDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrNotification counts a notification delivery attempt.
func (m *Metrics) IncrNotification(status string) {
	m.notificationsSent.WithLabelValues(status).Inc()
}

// GetBillingSnapshot returns a snapshot of billing metrics suitable for the
// GET /v1/metrics/billing endpoint.
func (m *Metrics) GetBillingSnapshot() *domain.BillingMetrics {
	// Prometheus counters expose cumulative values.
	successful := getCounterValue(m.debitOutcomes, "successful")
	retried := getCounterValue(m.debitOutcomes, "retried")
	exhausted := getCounterValue(m.debitOutcomes, "exhausted")
	railErrors := getCounterValue(m.railErrors, "debit")
	cacheHits := getCounterValue(m.cacheHits, "mandate") + getCounterValue(m.cacheHits, "mandate_list")
	cacheMisses := getCounterValue(m.cacheMisses, "mandate") + getCounterValue(m.cacheMisses, "mandate_list")

	attempts := successful + retried + exhausted
	successRate := float64(0)
	if attempts > 0 {
		successRate = successful / attempts
	}
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	return &domain.BillingMetrics{
		MandatesCreated:       int64(getSingleCounterValue(m.mandatesCreated)),
		TransactionsGenerated: int64(getSingleCounterValue(m.txGenerated)),
		DebitsSuccessful:      int64(successful),
		DebitsRetried:         int64(retried),
		DebitsExhausted:       int64(exhausted),
		RailErrors:            int64(railErrors),
		SuccessRate:           successRate,
		CacheHitRate:          cacheHitRate,
		Period:                "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func getSingleCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
