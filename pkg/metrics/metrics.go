package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PaymentsProcessed tracks provider throughput
	// outcome: processed, skipped, failed, unmatched, duplicate
	PaymentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_payments_processed_total",
		Help: "Total number of provider payments handled by the sync",
	}, []string{"provider", "outcome"})

	// Promotions counts promoter results per production collection
	Promotions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_promotions_total",
		Help: "Promotion outcomes per production collection",
	}, []string{"collection", "outcome"})

	// TicketsExcluded counts tickets held back by the orphan-prevention gate, by layer
	TicketsExcluded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_tickets_excluded_total",
		Help: "Tickets excluded from promotion by validator layer",
	}, []string{"layer"})

	// ReferenceLookups tracks the reference cache hit ratio
	ReferenceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_reference_lookups_total",
		Help: "Reference cache lookups by kind and result (hit, miss, absent)",
	}, []string{"kind", "result"})

	// RunDuration measures whole sync runs
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_run_duration_seconds",
		Help:    "Duration of sync runs in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800},
	}, []string{"mode", "status"})

	// ProviderRequestDuration tracks provider API latency, including retries
	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_provider_request_duration_seconds",
		Help:    "Provider API page fetch duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "status"})

	// ProviderRetries counts retried provider calls (429/5xx)
	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_provider_retries_total",
		Help: "Number of provider API calls retried after a transient failure",
	}, []string{"provider"})

	// SyncErrors counts recorded error documents by code
	SyncErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_errors_recorded_total",
		Help: "Error documents written to error_log, by error code",
	}, []string{"code"})

	// BrokerHealthy provides a binary 0/1 signal for the event publisher link
	BrokerHealthy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paysync_broker_healthy",
		Help: "Current health of the promotion event publisher (1 healthy, 0 down)",
	})
)
