package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/resilience"
)

// flakyStore fails the next n RecordProcessed calls with err.
type flakyStore struct {
	*MemoryStore
	n     int
	err   error
	calls int
}

func (f *flakyStore) RecordProcessed(ctx context.Context, e model.LedgerEntry) error {
	f.calls++
	if f.n > 0 {
		f.n--
		return f.err
	}
	return f.MemoryStore.RecordProcessed(ctx, e)
}

var fastRetry = resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}

func TestLoad_RestoresProcessedSet(t *testing.T) {
	ctx := context.Background()
	st := newTestSQLiteStore(t)
	require.NoError(t, st.RecordProcessed(ctx, entry("a.csv", "111")))

	l, err := Load(ctx, st, resilience.RetryConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Has(model.FileID{Name: "a.csv", Checksum: "111"}))
	assert.False(t, l.Has(model.FileID{Name: "a.csv", Checksum: "222"}))
	assert.False(t, l.Has(model.FileID{Name: "b.csv", Checksum: "111"}))
}

func TestLedger_AddFlushesBeforeMarking(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	l, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)

	e := entry("a.csv", "111")
	e.ID = ""
	e.ProcessedAt = time.Time{}
	require.NoError(t, l.Add(ctx, e))
	assert.True(t, l.Has(e.FileID()))

	persisted, err := st.ListProcessed(ctx)
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	assert.NotEmpty(t, persisted[0].ID)
	assert.False(t, persisted[0].ProcessedAt.IsZero())

	// A fresh ledger over the same store sees the file.
	again, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)
	assert.True(t, again.Has(e.FileID()))
}

func TestLedger_AddRetriesTransient(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: NewMemory(), n: 2, err: errors.New("database is locked (5) (SQLITE_BUSY)")}
	l, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)

	require.NoError(t, l.Add(ctx, entry("a.csv", "111")))
	assert.Equal(t, 3, st.calls)
	assert.True(t, l.Has(model.FileID{Name: "a.csv", Checksum: "111"}))
}

func TestLedger_AddPersistFailure(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: NewMemory(), n: 1, err: errors.New("disk I/O error")}
	l, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)

	err = l.Add(ctx, entry("a.csv", "111"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrPersist))
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Equal(t, 1, st.calls, "non-transient errors are not retried")
	assert.False(t, l.Has(model.FileID{Name: "a.csv", Checksum: "111"}))
}

func TestLedger_AddExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: NewMemory(), n: 10, err: errors.New("database is locked")}
	l, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)

	err = l.Add(ctx, entry("a.csv", "111"))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrPersist))
	assert.Equal(t, 3, st.calls)
}

func TestLedger_FailDoesNotMarkProcessed(t *testing.T) {
	ctx := context.Background()
	st := NewMemory()
	l, err := Load(ctx, st, fastRetry)
	require.NoError(t, err)

	f := model.FailureEntry{Name: "bad.csv", Checksum: "abc", Stage: model.StageEvaluate, Error: "rule fault"}
	require.NoError(t, l.Fail(ctx, f))
	require.NoError(t, l.Fail(ctx, f))

	assert.False(t, l.Has(model.FileID{Name: "bad.csv", Checksum: "abc"}))
	fails, err := st.ListFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fails, 1)
	assert.Equal(t, 2, fails[0].Attempts)
	assert.False(t, fails[0].FailedAt.IsZero())
}
