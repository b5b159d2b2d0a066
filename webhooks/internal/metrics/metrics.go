package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery admission metrics
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_deliveries_total",
			Help: "Total number of inbound webhook deliveries by admission outcome",
		},
		[]string{"event_type", "outcome"},
	)

	DeliveryBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "srg_webhooks_delivery_bytes_total",
			Help: "Total bytes of webhook payloads received",
		},
	)

	// Admission queue metrics
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "srg_webhooks_queue_depth",
			Help: "Number of accepted events waiting for a worker",
		},
	)

	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "srg_webhooks_active_workers",
			Help: "Number of processor tasks currently executing",
		},
	)

	// Processing metrics
	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "srg_webhooks_processing_duration_seconds",
			Help:    "Duration of event processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	ProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_processed_total",
			Help: "Total number of processed events by terminal status",
		},
		[]string{"event_type", "status"},
	)

	// Guesty API metrics
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_guesty_token_refreshes_total",
			Help: "Total number of OAuth token exchanges by result",
		},
		[]string{"result"},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_guesty_requests_total",
			Help: "Total number of outbound Guesty API requests by status code",
		},
		[]string{"code"},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_rate_limit_hits_total",
			Help: "Total number of inbound rate limit hits",
		},
		[]string{"account"},
	)

	// Failed event sink metrics
	FailedEventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srg_webhooks_failed_events_published_total",
			Help: "Total number of failed-event notices published by result",
		},
		[]string{"result"},
	)
)
