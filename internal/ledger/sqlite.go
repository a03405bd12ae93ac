package ledger

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/txn-audit/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=FULL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// the ledger's one writer.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processed_files (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	size         INTEGER NOT NULL DEFAULT 0,
	mod_time     DATETIME,
	report_path  TEXT NOT NULL,
	rows         INTEGER NOT NULL DEFAULT 0,
	exceptions   INTEGER NOT NULL DEFAULT 0,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, checksum)
);

CREATE TABLE IF NOT EXISTS failures (
	id        TEXT PRIMARY KEY,
	name      TEXT NOT NULL,
	checksum  TEXT NOT NULL,
	stage     TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL DEFAULT 1,
	failed_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (name, checksum)
);

CREATE INDEX IF NOT EXISTS idx_processed_files_name ON processed_files(name);
CREATE INDEX IF NOT EXISTS idx_failures_failed_at ON failures(failed_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordProcessed inserts e and clears any failure rows for the same file
// identity in one transaction.
func (s *SQLiteStore) RecordProcessed(ctx context.Context, e model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin record processed")
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO processed_files (id, name, checksum, size, mod_time, report_path, rows, exceptions, processed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (name, checksum) DO UPDATE SET
			report_path = excluded.report_path,
			rows = excluded.rows,
			exceptions = excluded.exceptions,
			processed_at = excluded.processed_at`,
		e.ID, e.Name, e.Checksum, e.Size, nullTime(e.ModTime), e.ReportPath, e.Rows, e.Exceptions, e.ProcessedAt.UTC(),
	)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrapf(err, "sqlite: insert processed file %s", e.Name)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM failures WHERE name = ? AND checksum = ?`, e.Name, e.Checksum)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return eris.Wrapf(err, "sqlite: clear failures for %s", e.Name)
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit record processed")
}

func (s *SQLiteStore) ListProcessed(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, checksum, size, mod_time, report_path, rows, exceptions, processed_at
		 FROM processed_files ORDER BY name, processed_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list processed")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var modTime sql.NullTime
		if err := rows.Scan(&e.ID, &e.Name, &e.Checksum, &e.Size, &modTime, &e.ReportPath, &e.Rows, &e.Exceptions, &e.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processed file")
		}
		if modTime.Valid {
			e.ModTime = modTime.Time
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list processed iterate")
}

func (s *SQLiteStore) Forget(ctx context.Context, name string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM processed_files WHERE name = ?`, name)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: forget %s", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: forget rows affected")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM failures WHERE name = ?`, name); err != nil {
		return n, eris.Wrapf(err, "sqlite: forget failures for %s", name)
	}
	return n, nil
}

// RecordFailure upserts a failure row, bumping attempts for a repeat failure
// of the same file identity.
func (s *SQLiteStore) RecordFailure(ctx context.Context, f model.FailureEntry) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO failures (id, name, checksum, stage, error, attempts, failed_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)
		 ON CONFLICT (name, checksum) DO UPDATE SET
			stage = excluded.stage,
			error = excluded.error,
			attempts = failures.attempts + 1,
			failed_at = excluded.failed_at`,
		f.ID, f.Name, f.Checksum, string(f.Stage), f.Error, f.FailedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: record failure for %s", f.Name)
}

func (s *SQLiteStore) ListFailures(ctx context.Context, limit int) ([]model.FailureEntry, error) {
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, checksum, stage, error, attempts, failed_at
		 FROM failures ORDER BY failed_at DESC, name LIMIT ?`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list failures")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FailureEntry
	for rows.Next() {
		var f model.FailureEntry
		var stage string
		if err := rows.Scan(&f.ID, &f.Name, &f.Checksum, &stage, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan failure")
		}
		f.Stage = model.Stage(stage)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list failures iterate")
}
