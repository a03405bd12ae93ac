package model

import (
	"strings"
	"time"
)

// Canonical column names every input file must resolve to.
const (
	ColAmount      = "amount"
	ColVendor      = "vendor"
	ColPostingDate = "posting_date"
	ColInvoiceID   = "invoice_id"
)

// RequiredColumns lists the canonical columns in the order they are checked.
var RequiredColumns = []string{ColAmount, ColVendor, ColPostingDate, ColInvoiceID}

// RawBatch is one input file as read from disk: a header row and the data rows
// beneath it. Nothing about the header or the cell values is guaranteed.
type RawBatch struct {
	Source string     `json:"source"`
	Header []string   `json:"header"`
	Rows   [][]string `json:"rows"`
}

// Cell is a pass-through value. Present is false when the input row was too
// short to carry a value for the column or the value is a missing-value
// marker such as "N/A".
type Cell struct {
	Value   string `json:"value"`
	Present bool   `json:"present"`
}

// Blank reports whether the cell is absent or holds only whitespace.
func (c Cell) Blank() bool {
	if !c.Present {
		return true
	}
	return strings.TrimSpace(c.Value) == ""
}

// Row is one canonical record. Typed fields are decided once by the normalizer;
// Values carries every column (typed ones included, as raw text) aligned with
// Dataset.Fields so extra columns pass through untouched.
type Row struct {
	Line        int       `json:"line"`
	Amount      float64   `json:"amount"`
	PostingDate time.Time `json:"posting_date"`
	DateValid   bool      `json:"date_valid"`
	Vendor      Cell      `json:"vendor"`
	InvoiceID   Cell      `json:"invoice_id"`
	Values      []Cell    `json:"values"`
}

// NormalizeStats counts the coercions applied while building a Dataset.
type NormalizeStats struct {
	Rows          int `json:"rows"`
	AmountCoerced int `json:"amount_coerced"`
	DateInvalid   int `json:"date_invalid"`
}

// Dataset is the canonical, type-coerced form of one input file. Row order is
// the input order.
type Dataset struct {
	Source string         `json:"source"`
	Fields []string       `json:"fields"`
	Rows   []Row          `json:"rows"`
	Stats  NormalizeStats `json:"stats"`
}

// FieldIndex returns the position of a canonical field name, or -1.
func (d *Dataset) FieldIndex(name string) int {
	for i, f := range d.Fields {
		if f == name {
			return i
		}
	}
	return -1
}
