package rules

import (
	"time"

	"github.com/sells-group/txn-audit/internal/model"
)

// Built-in rule names. These are report labels and must stay stable.
const (
	NegativeAmount   = "Negative Amount"
	MissingVendor    = "Missing Vendor"
	WeekendPosting   = "Weekend Posting"
	DuplicateInvoice = "Duplicate Invoice"
)

// Builtin returns the fixed audit rule set in evaluation order.
func Builtin() *Registry {
	return NewRegistry().MustRegister(
		RowRule(NegativeAmount, func(row model.Row) bool {
			return row.Amount < 0
		}),
		RowRule(MissingVendor, func(row model.Row) bool {
			return row.Vendor.Blank()
		}),
		RowRule(WeekendPosting, func(row model.Row) bool {
			if !row.DateValid {
				return false
			}
			wd := row.PostingDate.Weekday()
			return wd == time.Saturday || wd == time.Sunday
		}),
		New(DuplicateInvoice, duplicateInvoices),
	)
}

// absentInvoice groups rows with no invoice id. Missing ids compare equal to
// each other, so two rows without an id are both flagged.
const absentInvoice = "\x00absent"

// duplicateInvoices flags every occurrence of an invoice id that appears more
// than once, not only the repeats.
func duplicateInvoices(ds *model.Dataset) ([]int, error) {
	counts := make(map[string]int, len(ds.Rows))
	for _, row := range ds.Rows {
		counts[invoiceKey(row)]++
	}

	var out []int
	for i, row := range ds.Rows {
		if counts[invoiceKey(row)] > 1 {
			out = append(out, i)
		}
	}
	return out, nil
}

func invoiceKey(row model.Row) string {
	if !row.InvoiceID.Present || row.InvoiceID.Value == "" {
		return absentInvoice
	}
	return row.InvoiceID.Value
}
