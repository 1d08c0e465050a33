package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Reconciliation
	RefreshCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "poller",
		Name:      "cycles_total",
		Help:      "Total refresh cycles by outcome",
	}, []string{"outcome"})

	RefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketnode",
		Subsystem: "poller",
		Name:      "cycle_duration_seconds",
		Help:      "Full reconcile cycle duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	StaleCommitsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "poller",
		Name:      "stale_commits_dropped_total",
		Help:      "Cycle results discarded because parameters changed while in flight",
	})

	ActiveSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "marketnode",
		Subsystem: "poller",
		Name:      "active_subscriptions",
		Help:      "Pollers currently held by the registry",
	})

	SourceFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketnode",
		Subsystem: "source",
		Name:      "fetch_duration_seconds",
		Help:      "Event source fetch duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	EnrichmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "marketnode",
		Subsystem: "enricher",
		Name:      "duration_seconds",
		Help:      "Owner resolution plus minted enrichment duration",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	EnrichmentFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "enricher",
		Name:      "failures_total",
		Help:      "Enrichment passes aborted by an on-chain read failure",
	})

	// Metadata
	MetadataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "metadata",
		Name:      "fetches_total",
		Help:      "Token metadata fetches by result",
	}, []string{"result"})

	// Local watcher
	WatcherBlocksScanned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "watcher",
		Name:      "blocks_scanned_total",
		Help:      "Blocks scanned for marketplace logs",
	})

	WatcherEventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "watcher",
		Name:      "events_stored_total",
		Help:      "Marketplace events persisted by kind",
	}, []string{"kind"})

	WatcherReorgs = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "marketnode",
		Subsystem: "watcher",
		Name:      "reorgs_total",
		Help:      "Chain reorganizations handled",
	})
)
