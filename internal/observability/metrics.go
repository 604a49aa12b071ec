package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "venue_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "venue_outbox_lag_seconds",
			Help: "Age of the oldest event published in the last outbox batch",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	PaymentInitiations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_payment_initiations_total",
			Help: "Payment initiation attempts by method and result",
		},
		[]string{"method", "result"},
	)

	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_webhook_deliveries_total",
			Help: "Payment webhook deliveries by result",
		},
		[]string{"result"},
	)

	TransitionAnomalies = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venue_transition_anomalies_total",
			Help: "Rejected reservation or table transitions",
		},
		[]string{"source", "reason"},
	)

	TableSyncRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "venue_table_sync_retries_total",
			Help: "Retried table status updates",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RequestsTotal, DBTxDuration, OutboxLag, RabbitPublishRetries, RateLimitExceeded,
			PaymentInitiations, WebhookDeliveries, TransitionAnomalies, TableSyncRetries,
		)
	})
}
