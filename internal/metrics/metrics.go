// Package metrics defines the Prometheus instrumentation surface shared
// by every component of cardsync. Label values are named constants to
// avoid stringly-typed metric labels drifting out of sync across packages.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// HTTP endpoints
	EndpointLiveness     = "liveness"
	EndpointNotification = "notification"
	EndpointHealth        = "health"

	// Dispatcher outcomes
	OutcomeNew            = "new"
	OutcomeDescChanged     = "desc_changed"
	OutcomeMetadataOnly    = "metadata_only"
	OutcomeIrrelevant      = "irrelevant"
	OutcomeDuplicate       = "duplicate"
	OutcomeCardAbsent      = "card_absent"
	OutcomeStoreDeferred   = "store_deferred"
	OutcomeStorePermanent  = "store_permanent"
	OutcomeExtractFailed   = "extraction_failed"
	OutcomeFetchFailed     = "fetch_failed"

	// Store operations
	StoreOpInsertEvent             = "insert_event"
	StoreOpEventExists              = "event_exists"
	StoreOpGetLastKnownDescription  = "get_last_known_description"
	StoreOpInsertCardMasterIfAbsent = "insert_card_master_if_absent"
	StoreOpUpsertCardCurrent        = "upsert_card_current"
	StoreOpReplaceLineItemsCurrent  = "replace_line_items_current"
	StoreOpInsertLineItemsMaster    = "insert_line_items_master"
	StoreOpFinalizeEvent            = "finalize_event"
	StoreOpEnqueuePending           = "enqueue_pending"
	StoreOpClaimPending             = "claim_pending"
	StoreOpCompletePending          = "complete_pending"

	// Retry-queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultFailed  = "failed"

	// Source client operations
	OpFetchCard       = "fetch_card"
	OpRegisterWebhook = "register_webhook"
	OpListWebhooks    = "list_webhooks"
	OpDeleteWebhook   = "delete_webhook"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Dispatcher Metrics
var (
	DispatchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_outcomes_total",
			Help: "Total number of notifications dispatched, by classification outcome",
		},
		[]string{"outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_duration_seconds",
			Help:    "Time spent processing a single notification end to end",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	IntakeChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "intake_channel_depth",
			Help: "Number of notifications buffered in the intake-to-dispatcher channel",
		},
	)

	IntakeOverflowTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_overflow_total",
			Help: "Total number of notifications recorded to the local overflow log because the dispatcher channel was full",
		},
	)

	IntakeOverflowDrainedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_overflow_drained_total",
			Help: "Total number of overflow-log entries successfully redelivered to the dispatcher",
		},
	)
)

// Store (BigQuery) Metrics
var (
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Analytical store operation latency in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	StoreOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operation_errors_total",
			Help: "Total number of analytical store operation errors",
		},
		[]string{"operation", "kind"},
	)

	StoreDeferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_deferred_total",
			Help: "Total number of operations deferred due to streaming-buffer rejection",
		},
		[]string{"operation"},
	)
)

// Retry Worker Metrics
var (
	RetryQueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "retry_queue_depth",
			Help: "Number of pending-update rows by status",
		},
		[]string{"status"},
	)

	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of retry-worker attempts by outcome",
		},
		[]string{"operation_kind", "result"},
	)

	RetryTerminalFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_terminal_failures_total",
			Help: "Total number of pending updates that exhausted max_retries",
		},
		[]string{"operation_kind"},
	)

	RetryTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "retry_tick_duration_seconds",
			Help:    "Time spent processing one retry-worker tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
	)
)

// Extractor (LLM) Metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extractions_total",
			Help: "Total number of extraction attempts by result",
		},
		[]string{"result"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_seconds",
			Help:    "Extractor call latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"pass"},
	)

	LineItemsExtracted = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "line_items_extracted",
			Help:    "Number of line items produced per extraction",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
		},
	)
)

// Source Client Metrics
var (
	SourceAPIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "source_api_requests_total",
			Help: "Total number of source-platform API requests",
		},
		[]string{"operation", "status_code"},
	)

	SourceAPIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_api_request_duration_seconds",
			Help:    "Source-platform API request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation", "status_code"},
	)

	SourceRateLimiterWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "source_rate_limiter_wait_duration_seconds",
			Help:    "Time requests spend waiting on the token-bucket limiter",
			Buckets: []float64{0, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
)
