package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/resilience"
)

// ErrPersist marks a report that was written but could not be recorded.
// Continuing would risk reporting the file twice, so the ingestion loop stops.
var ErrPersist = eris.New("ledger: persist failed")

// Ledger is the in-memory processed set backed by a Store. It has a single
// writer: the ingestion loop that owns it.
type Ledger struct {
	store Store
	retry resilience.RetryConfig
	seen  map[model.FileID]model.LedgerEntry
}

// Load reads every processed entry from store. A zero retry config means
// resilience.DefaultRetryConfig.
func Load(ctx context.Context, store Store, retry resilience.RetryConfig) (*Ledger, error) {
	if retry.MaxAttempts == 0 {
		retry = resilience.DefaultRetryConfig()
	}
	l := &Ledger{store: store, retry: retry, seen: make(map[model.FileID]model.LedgerEntry)}

	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("ledger", "list_processed")
	entries, err := resilience.DoVal(ctx, cfg, store.ListProcessed)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: load")
	}
	for _, e := range entries {
		l.seen[e.FileID()] = e
	}
	return l, nil
}

// Has reports whether id has already been reported.
func (l *Ledger) Has(id model.FileID) bool {
	_, ok := l.seen[id]
	return ok
}

// Len returns the number of processed file identities.
func (l *Ledger) Len() int { return len(l.seen) }

// Add durably records e and only then marks it seen. Transient store errors
// are retried; anything left over is returned wrapped in ErrPersist.
func (l *Ledger) Add(ctx context.Context, e model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}

	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("ledger", "record_processed")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return l.store.RecordProcessed(ctx, e)
	})
	if err != nil {
		return eris.Wrapf(ErrPersist, "ledger: record %s: %v", e.FileID(), err)
	}
	l.seen[e.FileID()] = e
	return nil
}

// Fail records a failed attempt. The file stays out of the processed set.
func (l *Ledger) Fail(ctx context.Context, f model.FailureEntry) error {
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}
	cfg := l.retry
	cfg.OnRetry = resilience.RetryLogger("ledger", "record_failure")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return l.store.RecordFailure(ctx, f)
	})
	return eris.Wrapf(err, "ledger: record failure for %s", f.Name)
}
