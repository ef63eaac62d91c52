package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_ingested_total",
			Help: "Total number of events ingested",
		},
		[]string{"source"},
	)

	EventsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_rejected_total",
			Help: "Total number of ingest items rejected during validation",
		},
		[]string{"reason"},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_ingest_batch_size",
			Help:    "Number of items per ingest batch",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"rule_id", "severity"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_suppressed_total",
			Help: "Total number of detection candidates suppressed",
		},
		[]string{"reason"},
	)

	RuleExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_rule_execution_duration_seconds",
			Help:    "Time spent evaluating detection rules",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rule_id"},
	)

	RuleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_failures_total",
			Help: "Total number of isolated detection rule failures",
		},
		[]string{"rule_id"},
	)

	DetectionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_detection_runs_total",
			Help: "Total number of detection runs by outcome",
		},
		[]string{"status"},
	)

	RegexTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_regex_timeouts_total",
			Help: "Total number of pattern evaluations aborted by timeout",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "argus_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_websocket_clients_connected",
			Help: "Number of websocket clients currently subscribed to the alert stream",
		},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"cache", "operation"},
	)

	EventBatchFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_event_batch_flushes_total",
			Help: "Total number of event batch flushes by outcome",
		},
		[]string{"status"},
	)

	EventBatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_event_batch_dropped_total",
			Help: "Total number of events dropped after exhausted flush retries",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_notifications_sent_total",
			Help: "Total number of alert notifications dispatched",
		},
		[]string{"notifier", "status"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Total number of tasks completed by worker pools",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_depth",
			Help: "Number of tasks currently waiting in worker pool queues",
		},
		[]string{"pool"},
	)

	PanicsRecovered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_panics_recovered_total",
			Help: "Total number of panics caught in background goroutines",
		},
		[]string{"goroutine"},
	)
)
