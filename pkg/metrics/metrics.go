package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RulesEvaluatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_rules_evaluated_total",
			Help: "Total number of rule evaluations performed (count)",
		},
		[]string{"trigger", "matched"},
	)

	ActionsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_actions_executed_total",
			Help: "Total number of rule actions executed (count)",
		},
		[]string{"action_type", "status"},
	)

	TransactionsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_transactions_processed_total",
			Help: "Total number of transactions processed by the rule engine (count)",
		},
		[]string{"trigger", "status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rule_engine_processing_duration_ms",
			Help:    "Processing duration per transaction batch in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"trigger", "dry_run"},
	)

	ActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rule_engine_active_rules",
			Help: "Number of active rules loaded for the last processing run (count)",
		},
	)

	NotificationsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_notifications_published_total",
			Help: "Total number of notification events published (count)",
		},
		[]string{"status"},
	)

	LookupCacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rule_engine_lookup_cache_requests_total",
			Help: "Total number of entity lookup cache requests (count)",
		},
		[]string{"entity", "result"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry attempts (count)",
		},
		[]string{"service", "topic"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_messages_total",
			Help: "Total number of messages sent to DLQ (count)",
		},
		[]string{"service", "topic", "reason"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through circuit breaker (count)",
		},
		[]string{"name"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests (count)",
		},
		[]string{"method", "path", "status"},
	)

	RateLimitRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_rejections_total",
			Help: "Total number of requests rejected by rate limiting (count)",
		},
		[]string{"client"},
	)
)

var registered = make(map[string]bool)

func register(name string, collectors ...prometheus.Collector) {
	if registered[name] {
		return
	}
	for _, c := range collectors {
		prometheus.MustRegister(c)
	}
	registered[name] = true
}

func RegisterEngineMetrics() {
	register("engine",
		RulesEvaluatedTotal,
		ActionsExecutedTotal,
		TransactionsProcessedTotal,
		ProcessingDuration,
		ActiveRules,
		NotificationsPublishedTotal,
	)
}

func RegisterLookupMetrics() {
	register("lookup", LookupCacheRequestsTotal)
}

func RegisterBrokerMetrics() {
	register("broker", RetryAttemptsTotal, DLQMessagesTotal)
}

func RegisterCircuitBreakerMetrics() {
	register("circuitbreaker",
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func RegisterHTTPMetrics() {
	register("http", HTTPRequestsTotal, RateLimitRejectionsTotal)
}

func ObserveProcessingDuration(d time.Duration, trigger string, dryRun bool) {
	dry := "false"
	if dryRun {
		dry = "true"
	}
	ProcessingDuration.WithLabelValues(trigger, dry).Observe(float64(d.Milliseconds()))
}

func SetActiveRules(count int) {
	ActiveRules.Set(float64(count))
}
