// Package normalize turns a raw record batch into a canonical dataset.
//
// Normalization never rejects a value: unparseable or non-finite amounts
// become 0 and unparseable posting dates are marked invalid, with both counted
// in the dataset stats. Missing-value markers such as "N/A" or "null" are
// read as absent cells. Only problems with the file's shape (no header, a missing
// required column, two headers that collapse to one name, a row wider than
// the header) are errors, and those are reported as ErrSchema.
package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/schema"
)

// ErrSchema marks a file whose shape cannot be normalized.
var ErrSchema = eris.New("normalize: schema error")

// Normalizer builds canonical datasets using a header schema.
type Normalizer struct {
	schema *schema.Schema
}

// New creates a Normalizer. A nil schema means schema.Default().
func New(s *schema.Schema) *Normalizer {
	if s == nil {
		s = schema.Default()
	}
	return &Normalizer{schema: s}
}

// Normalize converts batch into a Dataset.
func (n *Normalizer) Normalize(batch *model.RawBatch) (*model.Dataset, error) {
	if batch == nil || len(batch.Header) == 0 {
		return nil, eris.Wrap(ErrSchema, "normalize: no header row")
	}

	fields, err := n.fields(batch.Header)
	if err != nil {
		return nil, err
	}

	ds := &model.Dataset{
		Source: batch.Source,
		Fields: fields,
		Rows:   make([]model.Row, 0, len(batch.Rows)),
	}
	amountIdx := ds.FieldIndex(model.ColAmount)
	vendorIdx := ds.FieldIndex(model.ColVendor)
	dateIdx := ds.FieldIndex(model.ColPostingDate)
	invoiceIdx := ds.FieldIndex(model.ColInvoiceID)
	layouts := n.schema.DateLayouts()

	for i, raw := range batch.Rows {
		if len(raw) > len(fields) {
			return nil, eris.Wrapf(ErrSchema, "normalize: row %d has %d fields, header has %d", i+1, len(raw), len(fields))
		}

		values := make([]model.Cell, len(fields))
		for j := range fields {
			if j < len(raw) {
				values[j] = model.Cell{Value: raw[j], Present: !n.schema.IsNA(raw[j])}
			}
		}

		row := model.Row{
			Line:      i + 1,
			Vendor:    values[vendorIdx],
			InvoiceID: values[invoiceIdx],
			Values:    values,
		}

		amount, ok := ParseAmount(values[amountIdx])
		if !ok {
			ds.Stats.AmountCoerced++
		}
		row.Amount = amount

		row.PostingDate, row.DateValid = ParseDate(values[dateIdx], layouts)
		if !row.DateValid {
			ds.Stats.DateInvalid++
		}

		ds.Rows = append(ds.Rows, row)
	}
	ds.Stats.Rows = len(ds.Rows)

	return ds, nil
}

// fields maps the raw header onto canonical names and checks the result.
func (n *Normalizer) fields(header []string) ([]string, error) {
	fields := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, raw := range header {
		name := n.schema.Canonical(raw)
		if name == "" {
			name = fmt.Sprintf("unnamed: %d", i)
		}
		if prev, ok := seen[name]; ok {
			return nil, eris.Wrapf(ErrSchema, "normalize: columns %q and %q both normalize to %q", header[prev], raw, name)
		}
		seen[name] = i
		fields[i] = name
	}

	for _, col := range model.RequiredColumns {
		if _, ok := seen[col]; !ok {
			return nil, eris.Wrapf(ErrSchema, "normalize: missing required column %q", col)
		}
	}
	return fields, nil
}

// ParseAmount parses a numeric amount. It returns (0, false) for anything that
// is not a finite number, including blanks, NaN, infinities and values out of
// float64 range.
func ParseAmount(c model.Cell) (float64, bool) {
	s := strings.TrimSpace(c.Value)
	if !c.Present || s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseDate tries each layout in order. The second result is false when no
// layout matches.
func ParseDate(c model.Cell, layouts []string) (time.Time, bool) {
	s := strings.TrimSpace(c.Value)
	if !c.Present || s == "" {
		return time.Time{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
