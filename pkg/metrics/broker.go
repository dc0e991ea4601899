package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublished tracks promotion events by collection and confirm result
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_events_published_total",
		Help: "Promotion events sent to the broker",
	}, []string{"collection", "status"}) // status: acked, nacked, timeout, offline, canceled, error

	// PublishDuration is the publish-to-confirm latency
	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paysync_event_publish_duration_seconds",
		Help:    "Time from publish to broker confirmation",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	}, []string{"status"})

	// EventsReceived counts events handed to watch subscribers
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paysync_events_received_total",
		Help: "Promotion events consumed by subscribers",
	}, []string{"status"}) // status: handled, malformed, failed
)
