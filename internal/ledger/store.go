// Package ledger records which input files have already been turned into a
// report, and which attempts failed. The set survives restarts through a
// durable Store.
package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// Supported store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Store defines the persistence interface for the processed-file ledger.
type Store interface {
	// Processed files
	ListProcessed(ctx context.Context) ([]model.LedgerEntry, error)
	RecordProcessed(ctx context.Context, e model.LedgerEntry) error
	Forget(ctx context.Context, name string) (int64, error)

	// Failed attempts
	RecordFailure(ctx context.Context, f model.FailureEntry) error
	ListFailures(ctx context.Context, limit int) ([]model.FailureEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates and migrates a store for driver. For sqlite the parent
// directory of dsn is created if needed.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		st  Store
		err error
	)
	switch driver {
	case DriverSQLite, "":
		if err := ensureParent(dsn); err != nil {
			return nil, err
		}
		st, err = NewSQLite(dsn)
	case DriverPostgres:
		st, err = NewPostgres(ctx, dsn)
	case DriverMemory:
		st = NewMemory()
	default:
		return nil, eris.Errorf("ledger: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func ensureParent(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "ledger: create %s", dir)
	}
	return nil
}

const defaultFailureLimit = 50

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
