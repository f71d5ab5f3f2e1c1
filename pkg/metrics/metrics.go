package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Execution metrics
	WorkflowExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workflow_executions_total",
			Help: "Total number of workflow executions",
		},
		[]string{"status", "mode"},
	)

	WorkflowExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "workflow_execution_duration_seconds",
			Help:    "Workflow execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"mode"},
	)

	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_executions_total",
			Help: "Total number of node executions",
		},
		[]string{"node_type", "status"},
	)

	// Trigger metrics
	TriggerFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trigger_fires_total",
			Help: "Total number of trigger firings by source",
		},
		[]string{"source"},
	)

	ScheduledJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduled_jobs",
			Help: "Number of live scheduled timer jobs",
		},
	)

	PriceTriggers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "price_triggers",
			Help: "Number of registered price triggers",
		},
	)

	// Price feed metrics
	PriceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_fetches_total",
			Help: "Total number of price lookups",
		},
		[]string{"exchange", "result"},
	)

	PriceCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "price_cache_hits_total",
			Help: "Total number of price lookups served from cache",
		},
	)

	// Order metrics
	OrdersPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_placed_total",
			Help: "Total number of exchange orders placed",
		},
		[]string{"exchange", "status"},
	)

	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of workflow notifications sent",
		},
		[]string{"channel", "status"},
	)
)
