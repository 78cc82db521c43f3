package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Chain watcher metrics
	// ============================================
	WatcherLastProcessedHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_watcher_last_processed_height",
			Help: "Last block height fully processed per chain",
		},
		[]string{"chain"},
	)

	WatcherBlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_watcher_blocks_processed_total",
			Help: "Total number of blocks processed per chain",
		},
		[]string{"chain"},
	)

	WatcherEventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_watcher_events_decoded_total",
			Help: "Total number of escrow events decoded",
		},
		[]string{"chain", "event_type"},
	)

	WatcherDuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_watcher_duplicates_skipped_total",
			Help: "Total number of already-processed events skipped",
		},
		[]string{"chain"},
	)

	WatcherCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_watcher_cycle_errors_total",
			Help: "Total number of aborted poll cycles",
		},
		[]string{"chain"},
	)

	// ============================================
	// Swap coordinator metrics
	// ============================================
	SwapsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relayer_swaps_by_state",
			Help: "Number of swap orders per state",
		},
		[]string{"state"},
	)

	SwapTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_swap_transitions_total",
			Help: "Total number of swap state transitions",
		},
		[]string{"from", "to"},
	)

	SwapFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_swap_failures_total",
			Help: "Total number of swaps marked failed",
		},
		[]string{"reason"},
	)

	ContractCallRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_contract_call_retries_total",
			Help: "Total number of contract call retries",
		},
		[]string{"chain", "operation"},
	)

	ContractCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayer_contract_call_duration_seconds",
			Help:    "Contract call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain", "operation"},
	)

	// ============================================
	// Auction metrics
	// ============================================
	AuctionRateBump = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relayer_auction_rate_bump_bps",
			Help:    "Rate bump applied to priced orders, in bps",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		},
	)

	// ============================================
	// Infrastructure metrics
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relayer_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	LedgerPrunedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayer_ledger_pruned_messages_total",
			Help: "Total number of processed-message rows pruned",
		},
		[]string{"chain"},
	)
)
