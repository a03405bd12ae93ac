package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// StatusSnapshot holds a point-in-time view of the ledger.
type StatusSnapshot struct {
	// Processed files.
	ProcessedFiles  int       `json:"processed_files"`
	TotalRows       int       `json:"total_rows"`
	TotalExceptions int       `json:"total_exceptions"`
	LastProcessed   string    `json:"last_processed,omitempty"`
	LastProcessedAt time.Time `json:"last_processed_at,omitempty"`

	// Files currently failing, newest first.
	FailingFiles int                  `json:"failing_files"`
	StuckFiles   int                  `json:"stuck_files"`
	Failures     []model.FailureEntry `json:"failures"`

	// Metadata.
	StuckAttempts int       `json:"stuck_attempts"`
	CollectedAt   time.Time `json:"collected_at"`
}

// LedgerQuerier abstracts the ledger store reads the collector needs.
type LedgerQuerier interface {
	ListProcessed(ctx context.Context) ([]model.LedgerEntry, error)
	ListFailures(ctx context.Context, limit int) ([]model.FailureEntry, error)
}

// Collector gathers status from the ledger store.
type Collector struct {
	source        LedgerQuerier
	stuckAttempts int
	failureLimit  int
}

// NewCollector creates a collector. A failure with at least stuckAttempts
// attempts counts as stuck; zero disables the count.
func NewCollector(source LedgerQuerier, stuckAttempts int) *Collector {
	return &Collector{source: source, stuckAttempts: stuckAttempts, failureLimit: 100}
}

// Collect gathers a snapshot of the ledger.
func (c *Collector) Collect(ctx context.Context) (*StatusSnapshot, error) {
	snap := &StatusSnapshot{
		StuckAttempts: c.stuckAttempts,
		CollectedAt:   time.Now().UTC(),
	}

	entries, err := c.source.ListProcessed(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list processed")
	}
	snap.ProcessedFiles = len(entries)
	for _, e := range entries {
		snap.TotalRows += e.Rows
		snap.TotalExceptions += e.Exceptions
		if e.ProcessedAt.After(snap.LastProcessedAt) {
			snap.LastProcessedAt = e.ProcessedAt
			snap.LastProcessed = e.Name
		}
	}

	failures, err := c.source.ListFailures(ctx, c.failureLimit)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list failures")
	}
	snap.Failures = failures
	if snap.Failures == nil {
		snap.Failures = []model.FailureEntry{}
	}
	snap.FailingFiles = len(failures)
	for _, f := range failures {
		if c.stuckAttempts > 0 && f.Attempts >= c.stuckAttempts {
			snap.StuckFiles++
		}
	}

	return snap, nil
}
