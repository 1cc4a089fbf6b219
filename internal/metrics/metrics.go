package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_transactions_processed_total",
		Help: "Transactions recorded, by instruction type",
	}, []string{"instruction_type"})

	TransactionsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_transactions_skipped_total",
		Help: "Signatures not processed, by reason",
	}, []string{"reason"})

	MirrorWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ledgerindexer_mirror_write_failures_total",
		Help: "Mirror writes that exhausted their retries",
	})

	BusinessUpdateFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_business_update_failures_total",
		Help: "Ticket service updates that failed after a transaction was indexed",
	}, []string{"instruction_type"})

	MarketplaceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_marketplace_events_total",
		Help: "Marketplace activities recorded, by marketplace and type",
	}, []string{"marketplace", "activity_type"})

	DuplicateEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_duplicate_events_total",
		Help: "Events dropped by the deduplicator",
	}, []string{"event_type"})

	Discrepancies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_discrepancies_total",
		Help: "Reconciliation discrepancies recorded, by type",
	}, []string{"type"})

	BackfillBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_backfill_batches_total",
		Help: "Backfill batches, by outcome",
	}, []string{"outcome"})

	BackfillCheckpoint = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledgerindexer_backfill_checkpoint_slot",
		Help: "Last checkpointed backfill slot",
	})

	JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerindexer_job_runs_total",
		Help: "Scheduled job runs, by job and outcome (ok, error, skipped)",
	}, []string{"job", "outcome"})
)
