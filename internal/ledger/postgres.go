package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// Pool is the subset of pgxpool.Pool the ledger uses. pgxmock pools satisfy
// it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// NewPostgres creates a PostgresStore with a small connection pool. The
// ledger has a single writer, so a handful of connections is plenty.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 4
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS processed_files (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name         TEXT NOT NULL,
	checksum     TEXT NOT NULL,
	size         BIGINT NOT NULL DEFAULT 0,
	mod_time     TIMESTAMPTZ,
	report_path  TEXT NOT NULL,
	rows         INTEGER NOT NULL DEFAULT 0,
	exceptions   INTEGER NOT NULL DEFAULT 0,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, checksum)
);

CREATE TABLE IF NOT EXISTS failures (
	id        TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name      TEXT NOT NULL,
	checksum  TEXT NOT NULL,
	stage     TEXT NOT NULL,
	error     TEXT NOT NULL,
	attempts  INTEGER NOT NULL DEFAULT 1,
	failed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (name, checksum)
);

CREATE INDEX IF NOT EXISTS idx_processed_files_name ON processed_files(name);
CREATE INDEX IF NOT EXISTS idx_failures_failed_at ON failures(failed_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) RecordProcessed(ctx context.Context, e model.LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin record processed")
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO processed_files (id, name, checksum, size, mod_time, report_path, rows, exceptions, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (name, checksum) DO UPDATE SET
			report_path = EXCLUDED.report_path,
			rows = EXCLUDED.rows,
			exceptions = EXCLUDED.exceptions,
			processed_at = EXCLUDED.processed_at`,
		e.ID, e.Name, e.Checksum, e.Size, nullTime(e.ModTime), e.ReportPath, e.Rows, e.Exceptions, e.ProcessedAt,
	)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return eris.Wrapf(err, "postgres: insert processed file %s", e.Name)
	}

	_, err = tx.Exec(ctx, `DELETE FROM failures WHERE name = $1 AND checksum = $2`, e.Name, e.Checksum)
	if err != nil {
		tx.Rollback(ctx) //nolint:errcheck
		return eris.Wrapf(err, "postgres: clear failures for %s", e.Name)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit record processed")
}

func (s *PostgresStore) ListProcessed(ctx context.Context) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, checksum, size, mod_time, report_path, rows, exceptions, processed_at
		 FROM processed_files ORDER BY name, processed_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list processed")
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var modTime *time.Time
		if err := rows.Scan(&e.ID, &e.Name, &e.Checksum, &e.Size, &modTime, &e.ReportPath, &e.Rows, &e.Exceptions, &e.ProcessedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed file")
		}
		if modTime != nil {
			e.ModTime = *modTime
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list processed iterate")
}

func (s *PostgresStore) Forget(ctx context.Context, name string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM processed_files WHERE name = $1`, name)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: forget %s", name)
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM failures WHERE name = $1`, name); err != nil {
		return tag.RowsAffected(), eris.Wrapf(err, "postgres: forget failures for %s", name)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) RecordFailure(ctx context.Context, f model.FailureEntry) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO failures (id, name, checksum, stage, error, attempts, failed_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6)
		 ON CONFLICT (name, checksum) DO UPDATE SET
			stage = EXCLUDED.stage,
			error = EXCLUDED.error,
			attempts = failures.attempts + 1,
			failed_at = EXCLUDED.failed_at`,
		f.ID, f.Name, f.Checksum, string(f.Stage), f.Error, f.FailedAt,
	)
	return eris.Wrapf(err, "postgres: record failure for %s", f.Name)
}

func (s *PostgresStore) ListFailures(ctx context.Context, limit int) ([]model.FailureEntry, error) {
	if limit <= 0 {
		limit = defaultFailureLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, checksum, stage, error, attempts, failed_at
		 FROM failures ORDER BY failed_at DESC, name LIMIT $1`, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list failures")
	}
	defer rows.Close()

	var out []model.FailureEntry
	for rows.Next() {
		var f model.FailureEntry
		var stage string
		if err := rows.Scan(&f.ID, &f.Name, &f.Checksum, &stage, &f.Error, &f.Attempts, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan failure")
		}
		f.Stage = model.Stage(stage)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list failures iterate")
}
