package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txn-audit/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS processed_files`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	e := entry("jan.csv", "abc")
	e.ID = "id-1"

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_files .* ON CONFLICT \(name, checksum\)`).
		WithArgs("id-1", "jan.csv", "abc", int64(128), pgxmock.AnyArg(), e.ReportPath, 10, 3, e.ProcessedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM failures WHERE name = \$1 AND checksum = \$2`).
		WithArgs("jan.csv", "abc").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, s.RecordProcessed(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordProcessed_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO processed_files`).
		WithArgs(pgxmock.AnyArg(), "jan.csv", "abc", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))
	mock.ExpectRollback()

	err := s.RecordProcessed(context.Background(), entry("jan.csv", "abc"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert processed file jan.csv")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProcessed(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mt := time.Date(2024, 1, 8, 9, 0, 0, 0, time.UTC)
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)

	rows := mock.NewRows([]string{"id", "name", "checksum", "size", "mod_time", "report_path", "rows", "exceptions", "processed_at"}).
		AddRow("id-1", "a.csv", "111", int64(10), &mt, "reports/exceptions_a.xlsx", 4, 1, at).
		AddRow("id-2", "b.csv", "222", int64(20), (*time.Time)(nil), "reports/exceptions_b.xlsx", 0, 0, at)
	mock.ExpectQuery(`SELECT id, name, checksum, size, mod_time, report_path, rows, exceptions, processed_at\s+FROM processed_files`).
		WillReturnRows(rows)

	got, err := s.ListProcessed(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.FileID{Name: "a.csv", Checksum: "111"}, got[0].FileID())
	assert.Equal(t, mt, got[0].ModTime)
	assert.Equal(t, 4, got[0].Rows)
	assert.True(t, got[1].ModTime.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListProcessed_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM processed_files`).WillReturnError(errors.New("conn closed"))

	_, err := s.ListProcessed(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list processed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Forget(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM processed_files WHERE name = \$1`).
		WithArgs("jan.csv").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM failures WHERE name = \$1`).
		WithArgs("jan.csv").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	n, err := s.Forget(context.Background(), "jan.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordFailure_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(`ON CONFLICT \(name, checksum\) DO UPDATE SET .*attempts = failures.attempts \+ 1`).
		WithArgs(pgxmock.AnyArg(), "bad.csv", "abc", "normalize", "missing column", at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordFailure(context.Background(), model.FailureEntry{
		Name: "bad.csv", Checksum: "abc", Stage: model.StageNormalize, Error: "missing column", FailedAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListFailures(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	at := time.Date(2024, 1, 9, 10, 0, 0, 0, time.UTC)

	rows := mock.NewRows([]string{"id", "name", "checksum", "stage", "error", "attempts", "failed_at"}).
		AddRow("f-1", "bad.csv", "abc", "write", "disk full", 3, at)
	mock.ExpectQuery(`FROM failures ORDER BY failed_at DESC, name LIMIT \$1`).
		WithArgs(defaultFailureLimit).
		WillReturnRows(rows)

	got, err := s.ListFailures(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.StageWrite, got[0].Stage)
	assert.Equal(t, 3, got[0].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
