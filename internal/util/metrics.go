package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_total",
		Help: "Inbound payment webhook events by outcome",
	}, []string{"outcome"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders confirmed paid",
	})

	OrdersCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_created_total",
		Help: "Total number of orders created, by path",
	}, []string{"path"})

	OrdersFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_failed_total",
		Help: "Total number of orders marked FAILED",
	}, []string{"reason"})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders completed",
	})

	DispatchAttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_attempts_total",
		Help: "Outbound generation dispatch attempts",
	})

	DispatchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_failures_total",
		Help: "Failed dispatch attempts by reason",
	}, []string{"reason"})

	CallbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_callbacks_total",
		Help: "Inbound generation callbacks by outcome",
	}, []string{"outcome"})

	GenerationRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_runs_total",
		Help: "Generation pipeline runs by outcome",
	}, []string{"outcome"})

	GenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "generation_pipeline_latency_seconds",
		Help:    "End-to-end latency of the generation pipeline",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification deliveries by outcome",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
