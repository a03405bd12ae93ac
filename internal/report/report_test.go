package report

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txn-audit/internal/fetcher"
	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/normalize"
	"github.com/sells-group/txn-audit/internal/rules"
)

func evaluate(t *testing.T, header []string, rows ...[]string) (*model.Dataset, *rules.Result) {
	t.Helper()
	ds, err := normalize.New(nil).Normalize(&model.RawBatch{Source: "jan.csv", Header: header, Rows: rows})
	require.NoError(t, err)
	res, err := rules.NewEngine(nil).Evaluate(ds)
	require.NoError(t, err)
	return ds, res
}

var header = []string{"Amount", "Vendor", "Posting_Date", "Invoice_ID", "Memo"}

func TestBuild_Sections(t *testing.T) {
	ds, res := evaluate(t, header,
		[]string{"-5", "Acme", "2024-01-06", "A", "m1"},
		[]string{"0", "", "2024-01-08", "B", "m2"},
		[]string{"10", "Beta", "2024-01-09", "A", "m3"},
	)

	r := NewBuilder(0).Build(ds, res)

	assert.Equal(t, "jan.csv", r.Source)
	assert.Equal(t, []string{"amount", "vendor", "posting_date", "invoice_id", "memo"}, r.Fields)
	assert.Len(t, r.Sample, 3)
	assert.Len(t, r.Exceptions, 5)
	assert.Equal(t, []model.RuleCount{
		{Rule: rules.DuplicateInvoice, Count: 2},
		{Rule: rules.MissingVendor, Count: 1},
		{Rule: rules.NegativeAmount, Count: 1},
		{Rule: rules.WeekendPosting, Count: 1},
	}, r.Summary)
	assert.Equal(t, []string{"amount", "vendor", "posting_date", "invoice_id", "memo", "rule"}, r.ExceptionFields())
}

func TestBuild_SampleCap(t *testing.T) {
	var rows [][]string
	for i := range 25 {
		rows = append(rows, []string{"1", "v", "2024-01-08", fmt.Sprintf("I%d", i), ""})
	}
	ds, res := evaluate(t, header, rows...)

	r := NewBuilder(10).Build(ds, res)
	require.Len(t, r.Sample, 10)
	for i, row := range r.Sample {
		assert.Equal(t, i+1, row.Line)
	}
	assert.Equal(t, DefaultSampleRows, NewBuilder(-1).sampleRows)
}

func TestBuild_NoExceptions(t *testing.T) {
	ds, res := evaluate(t, header, []string{"1", "v", "2024-01-08", "A", ""})

	r := NewBuilder(0).Build(ds, res)
	assert.NotNil(t, r.Exceptions)
	assert.Empty(t, r.Exceptions)
	assert.NotNil(t, r.Summary)
	assert.Empty(t, r.Summary)
}

func TestSummarize_MatchesExceptionLabels(t *testing.T) {
	ex := []model.Exception{{Rule: "b"}, {Rule: "a"}, {Rule: "b"}, {Rule: "c"}, {Rule: "b"}}
	assert.Equal(t, []model.RuleCount{{Rule: "a", Count: 1}, {Rule: "b", Count: 3}, {Rule: "c", Count: 1}}, Summarize(ex))
	assert.Empty(t, Summarize(nil))
}

func TestWriter_PathFor(t *testing.T) {
	w := NewWriter("reports", "")
	assert.Equal(t, filepath.Join("reports", "exceptions_jan.xlsx"), w.PathFor("jan.csv"))
	assert.Equal(t, filepath.Join("reports", "exceptions_jan.xlsx"), w.PathFor("/data/incoming/jan.csv"))
	assert.Equal(t, filepath.Join("reports", "exceptions_q1.v2.xlsx"), w.PathFor("q1.v2.csv"))
	assert.Equal(t, filepath.Join("reports", "audit_feb.xlsx"), NewWriter("reports", "audit_").PathFor("feb.xlsx"))
}

func readSheet(t *testing.T, path, sheet string) [][]string {
	t.Helper()
	rows, err := fetcher.ReadXLSX(path, fetcher.XLSXOptions{SheetName: sheet})
	require.NoError(t, err)
	return rows
}

func TestWriter_Write(t *testing.T) {
	dir := t.TempDir()
	ds, res := evaluate(t, header,
		[]string{"-5", "Acme", "2024-01-06", "A", "m1"},
		[]string{"abc", "", "bogus", "A", "m2"},
	)
	r := NewBuilder(0).Build(ds, res)

	path, err := NewWriter(dir, "").Write(r)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "exceptions_jan.xlsx"), path)

	names, err := fetcher.SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"sample_input", "exceptions", "summary"}, names)

	sample := readSheet(t, path, model.SheetSample)
	require.Len(t, sample, 3)
	assert.Equal(t, []string{"amount", "vendor", "posting_date", "invoice_id", "memo"}, sample[0])
	assert.Equal(t, "-5", sample[1][0])
	assert.Equal(t, "Acme", sample[1][1])
	assert.Equal(t, "0", sample[2][0])
	assert.Equal(t, "", sample[2][2])

	exceptions := readSheet(t, path, model.SheetExceptions)
	require.Len(t, exceptions, 1+len(r.Exceptions))
	assert.Equal(t, []string{"amount", "vendor", "posting_date", "invoice_id", "memo", "rule"}, exceptions[0])
	for i, e := range r.Exceptions {
		assert.Equal(t, e.Rule, exceptions[i+1][5])
	}

	summary := readSheet(t, path, model.SheetSummary)
	assert.Equal(t, [][]string{
		{"rule", "count"},
		{rules.DuplicateInvoice, "2"},
		{rules.MissingVendor, "1"},
		{rules.NegativeAmount, "1"},
		{rules.WeekendPosting, "1"},
	}, summary)

	// No temp files left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriter_EmptySectionsKeepSchema(t *testing.T) {
	dir := t.TempDir()
	ds, res := evaluate(t, header)
	path, err := NewWriter(dir, "").Write(NewBuilder(0).Build(ds, res))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"amount", "vendor", "posting_date", "invoice_id", "memo"}}, readSheet(t, path, model.SheetSample))
	assert.Equal(t, [][]string{{"amount", "vendor", "posting_date", "invoice_id", "memo", "rule"}}, readSheet(t, path, model.SheetExceptions))
	assert.Equal(t, [][]string{{"rule", "count"}}, readSheet(t, path, model.SheetSummary))
}

func TestWriter_ReplacesExisting(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "")

	ds, res := evaluate(t, header, []string{"-1", "a", "2024-01-08", "A", ""})
	_, err := w.Write(NewBuilder(0).Build(ds, res))
	require.NoError(t, err)

	ds, res = evaluate(t, header, []string{"1", "a", "2024-01-08", "A", ""})
	path, err := w.Write(NewBuilder(0).Build(ds, res))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"rule", "count"}}, readSheet(t, path, model.SheetSummary))
}

func TestWriter_UnwritableDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	ds, res := evaluate(t, header)
	w := NewWriter(dir, "")

	_, err := w.Write(NewBuilder(0).Build(ds, res))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrWrite))

	_, statErr := os.Stat(w.PathFor("jan.csv"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWriter_RenameFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "")
	// A directory squatting on the final name makes the rename fail.
	require.NoError(t, os.Mkdir(w.PathFor("jan.csv"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(w.PathFor("jan.csv"), "keep"), nil, 0o644))

	ds, res := evaluate(t, header)
	_, err := w.Write(NewBuilder(0).Build(ds, res))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrWrite))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file must be cleaned up")
	assert.True(t, entries[0].IsDir())
}

func TestEncode_Deterministic(t *testing.T) {
	ds, res := evaluate(t, header,
		[]string{"-5", "Acme", "2024-01-06", "A", "m1"},
		[]string{"7", "", "2024-01-09", "A", "m2"},
	)
	dir := t.TempDir()
	r := NewBuilder(0).Build(ds, res)

	first, err := NewWriter(dir, "one_").Write(r)
	require.NoError(t, err)
	second, err := NewWriter(dir, "two_").Write(r)
	require.NoError(t, err)

	for _, sheet := range []string{model.SheetExceptions, model.SheetSummary} {
		assert.Equal(t, readSheet(t, first, sheet), readSheet(t, second, sheet), sheet)
	}

	var buf bytes.Buffer
	require.NoError(t, Encode(r, &buf))
	rows, err := fetcher.ParseXLSX(buf.Bytes(), fetcher.XLSXOptions{SheetName: model.SheetSummary})
	require.NoError(t, err)
	assert.Equal(t, readSheet(t, first, model.SheetSummary), rows)

}
