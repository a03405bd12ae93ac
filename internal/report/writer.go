package report

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/txn-audit/internal/model"
)

// DefaultPrefix is prepended to the input file's stem to name its report.
const DefaultPrefix = "exceptions_"

// ErrWrite marks a report that could not be persisted. Nothing is left under
// the report's final name when it is returned.
var ErrWrite = eris.New("report: write failed")

// Writer persists reports as XLSX workbooks in a directory.
type Writer struct {
	dir    string
	prefix string
}

// NewWriter creates a Writer for dir. An empty prefix means DefaultPrefix.
func NewWriter(dir, prefix string) *Writer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Writer{dir: dir, prefix: prefix}
}

// PathFor returns the report path for an input file name. Only the base name
// of source is used, so the same input always maps to the same report.
func (w *Writer) PathFor(source string) string {
	base := filepath.Base(source)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(w.dir, w.prefix+stem+".xlsx")
}

// Write encodes r into a temporary file next to its final path and renames it
// into place, replacing any earlier report for the same input.
func (w *Writer) Write(r *model.Report) (string, error) {
	final := w.PathFor(r.Source)

	tmp, err := os.CreateTemp(w.dir, "."+filepath.Base(final)+".*.tmp")
	if err != nil {
		return "", eris.Wrapf(ErrWrite, "report: create temp for %s: %v", final, err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := Encode(r, tmp); err != nil {
		return "", eris.Wrapf(ErrWrite, "report: encode %s: %v", final, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", eris.Wrapf(ErrWrite, "report: sync %s: %v", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(ErrWrite, "report: close %s: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return "", eris.Wrapf(ErrWrite, "report: rename into %s: %v", final, err)
	}
	committed = true
	return final, nil
}

// Encode writes r as an XLSX workbook with sheets sample_input, exceptions and
// summary, in that order. Every sheet carries its header row even when empty.
func Encode(r *model.Report, out io.Writer) error {
	f := xlsx.NewFile()

	sample, err := f.AddSheet(model.SheetSample)
	if err != nil {
		return eris.Wrap(err, "report: add sample sheet")
	}
	addHeader(sample, r.Fields)
	for _, row := range r.Sample {
		addRow(sample, r.Fields, row)
	}

	exceptions, err := f.AddSheet(model.SheetExceptions)
	if err != nil {
		return eris.Wrap(err, "report: add exceptions sheet")
	}
	addHeader(exceptions, r.ExceptionFields())
	for _, e := range r.Exceptions {
		xr := addRow(exceptions, r.Fields, e.Row)
		xr.AddCell().SetString(e.Rule)
	}

	summary, err := f.AddSheet(model.SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	addHeader(summary, []string{model.RuleColumn, model.CountColumn})
	for _, c := range r.Summary {
		xr := summary.AddRow()
		xr.AddCell().SetString(c.Rule)
		xr.AddCell().SetInt(c.Count)
	}

	return eris.Wrap(f.Write(out), "report: write workbook")
}

func addHeader(sheet *xlsx.Sheet, fields []string) {
	xr := sheet.AddRow()
	for _, name := range fields {
		xr.AddCell().SetString(name)
	}
}

// addRow renders a canonical row: amount as a number, a valid posting date as
// a date, an invalid one as an empty cell, everything else as the original
// text.
func addRow(sheet *xlsx.Sheet, fields []string, row model.Row) *xlsx.Row {
	xr := sheet.AddRow()
	for i, name := range fields {
		cell := xr.AddCell()
		switch name {
		case model.ColAmount:
			cell.SetFloat(row.Amount)
		case model.ColPostingDate:
			if row.DateValid {
				cell.SetDateTime(row.PostingDate)
			}
		default:
			if i < len(row.Values) && row.Values[i].Present {
				cell.SetString(row.Values[i].Value)
			}
		}
	}
	return xr
}
