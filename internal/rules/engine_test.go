package rules

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/normalize"
)

func present(v string) model.Cell { return model.Cell{Value: v, Present: true} }

func dataset(rows ...model.Row) *model.Dataset {
	for i := range rows {
		rows[i].Line = i + 1
	}
	return &model.Dataset{Fields: model.RequiredColumns, Rows: rows}
}

func lines(t *testing.T, rule string, ds *model.Dataset) []int {
	t.Helper()
	res, err := NewEngine(nil).Evaluate(ds)
	require.NoError(t, err)
	var out []int
	for _, e := range res.Exceptions {
		if e.Rule == rule {
			out = append(out, e.Row.Line)
		}
	}
	return out
}

func TestBuiltin_Order(t *testing.T) {
	assert.Equal(t,
		[]string{NegativeAmount, MissingVendor, WeekendPosting, DuplicateInvoice},
		Builtin().Names(),
	)
}

func TestNegativeAmount(t *testing.T) {
	ds := dataset(
		model.Row{Amount: -5, Vendor: present("a")},
		model.Row{Amount: 0, Vendor: present("a")},
		model.Row{Amount: 10, Vendor: present("a")},
	)
	assert.Equal(t, []int{1}, lines(t, NegativeAmount, ds))
}

func TestMissingVendor(t *testing.T) {
	ds := dataset(
		model.Row{Vendor: present("Acme")},
		model.Row{Vendor: present("")},
		model.Row{Vendor: present("  ")},
		model.Row{Vendor: model.Cell{}},
	)
	assert.Equal(t, []int{2, 3, 4}, lines(t, MissingVendor, ds))
}

func TestWeekendPosting(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }
	ds := dataset(
		model.Row{PostingDate: day(2024, 1, 6), DateValid: true},  // Saturday
		model.Row{PostingDate: day(2024, 1, 7), DateValid: true},  // Sunday
		model.Row{PostingDate: day(2024, 1, 8), DateValid: true},  // Monday
		model.Row{PostingDate: day(2024, 1, 12), DateValid: true}, // Friday
		model.Row{DateValid: false},
	)
	assert.Equal(t, []int{1, 2}, lines(t, WeekendPosting, ds))
}

func TestWeekendPosting_InvalidDateNeverFlagged(t *testing.T) {
	// Saturday value, but marked invalid.
	ds := dataset(model.Row{PostingDate: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), DateValid: false})
	assert.Empty(t, lines(t, WeekendPosting, ds))
}

func TestDuplicateInvoice(t *testing.T) {
	ds := dataset(
		model.Row{InvoiceID: present("A")},
		model.Row{InvoiceID: present("B")},
		model.Row{InvoiceID: present("A")},
		model.Row{InvoiceID: present("C")},
	)
	assert.Equal(t, []int{1, 3}, lines(t, DuplicateInvoice, ds))
}

func TestDuplicateInvoice_MissingIDsGroupTogether(t *testing.T) {
	ds := dataset(
		model.Row{InvoiceID: present("")},
		model.Row{InvoiceID: model.Cell{}},
		model.Row{InvoiceID: present("Z")},
		model.Row{InvoiceID: present("z")},
	)
	assert.Equal(t, []int{1, 2}, lines(t, DuplicateInvoice, ds))
}

func TestEvaluate_RowsAccumulateTags(t *testing.T) {
	ds := dataset(
		model.Row{Amount: -1, Vendor: present(""), InvoiceID: present("A"),
			PostingDate: time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC), DateValid: true},
		model.Row{Amount: 1, Vendor: present("ok"), InvoiceID: present("A")},
	)

	res, err := NewEngine(nil).Evaluate(ds)
	require.NoError(t, err)

	var rules []string
	for _, e := range res.Exceptions {
		if e.Row.Line == 1 {
			rules = append(rules, e.Rule)
		}
	}
	assert.Equal(t, []string{NegativeAmount, MissingVendor, WeekendPosting, DuplicateInvoice}, rules)
	assert.Len(t, res.Exceptions, 5)
}

func TestEvaluate_CountsMatchExceptions(t *testing.T) {
	n := normalize.New(nil)
	ds, err := n.Normalize(&model.RawBatch{
		Header: []string{"Amount", "Vendor", "Posting_Date", "Invoice_ID"},
		Rows: [][]string{
			{"-5", "Acme", "2024-01-06", "A"},
			{"0", "", "2024-01-08", "B"},
			{"10", "  ", "garbage", "A"},
			{"x", "Beta", "2024-01-07", "C"},
		},
	})
	require.NoError(t, err)

	res, err := NewEngine(nil).Evaluate(ds)
	require.NoError(t, err)

	tally := map[string]int{}
	for _, e := range res.Exceptions {
		tally[e.Rule]++
	}
	for _, c := range res.Counts {
		assert.Equal(t, tally[c.Rule], c.Count, c.Rule)
	}
	assert.Equal(t, 1, res.Count(NegativeAmount))
	assert.Equal(t, 2, res.Count(MissingVendor))
	assert.Equal(t, 2, res.Count(WeekendPosting))
	assert.Equal(t, 2, res.Count(DuplicateInvoice))
	assert.Equal(t, 0, res.Count("Unknown"))
}

func TestEvaluate_NAMarkersAreMissing(t *testing.T) {
	ds, err := normalize.New(nil).Normalize(&model.RawBatch{
		Header: []string{"Amount", "Vendor", "Posting_Date", "Invoice_ID"},
		Rows: [][]string{
			{"1", "N/A", "2024-01-08", "NA"},
			{"2", "Acme", "2024-01-09", "null"},
			{"3", "Beta", "2024-01-10", "B"},
		},
	})
	require.NoError(t, err)

	res, err := NewEngine(nil).Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count(MissingVendor))
	assert.Equal(t, 2, res.Count(DuplicateInvoice))
}

func TestEvaluate_Deterministic(t *testing.T) {
	ds := dataset(
		model.Row{Amount: -1, InvoiceID: present("A")},
		model.Row{Amount: 2, Vendor: present("v"), InvoiceID: present("A")},
	)
	e := NewEngine(nil)
	first, err := e.Evaluate(ds)
	require.NoError(t, err)
	second, err := e.Evaluate(ds)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEvaluate_Empty(t *testing.T) {
	res, err := NewEngine(nil).Evaluate(dataset())
	require.NoError(t, err)
	assert.Empty(t, res.Exceptions)
	require.Len(t, res.Counts, 4)
	for _, c := range res.Counts {
		assert.Zero(t, c.Count)
	}
}

func TestEvaluate_RuleError(t *testing.T) {
	reg := NewRegistry().MustRegister(
		RowRule("ok", func(model.Row) bool { return true }),
		New("broken", func(*model.Dataset) ([]int, error) { return nil, eris.New("boom") }),
	)
	res, err := NewEngine(reg).Evaluate(dataset(model.Row{}))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, eris.Is(err, ErrRuleFault))
	assert.Contains(t, err.Error(), "boom")
}

func TestEvaluate_RulePanic(t *testing.T) {
	reg := NewRegistry().MustRegister(
		New("panics", func(ds *model.Dataset) ([]int, error) {
			var m map[string]int
			m["x"] = ds.Rows[0].Line
			return nil, nil
		}),
	)
	_, err := NewEngine(reg).Evaluate(dataset(model.Row{}))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRuleFault))
	assert.Contains(t, err.Error(), "panicked")
}

func TestEvaluate_IndexOutOfRange(t *testing.T) {
	reg := NewRegistry().MustRegister(
		New("bad index", func(*model.Dataset) ([]int, error) { return []int{3}, nil }),
	)
	_, err := NewEngine(reg).Evaluate(dataset(model.Row{}))
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrRuleFault))
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(RowRule("a", func(model.Row) bool { return false })))

	err := reg.Register(RowRule("a", func(model.Row) bool { return true }))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate rule")

	require.Error(t, reg.Register(RowRule("", func(model.Row) bool { return true })))
	require.Error(t, reg.Register(New("nil", nil)))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_MustRegisterPanics(t *testing.T) {
	assert.Panics(t, func() {
		NewRegistry().MustRegister(
			RowRule("x", func(model.Row) bool { return false }),
			RowRule("x", func(model.Row) bool { return false }),
		)
	})
}

func TestRegistry_RulesIsCopy(t *testing.T) {
	reg := Builtin()
	rules := reg.Rules()
	rules[0] = RowRule("mutated", func(model.Row) bool { return true })
	assert.Equal(t, NegativeAmount, reg.Rules()[0].Name())
}

func TestRule_ApplyWithoutPredicate(t *testing.T) {
	_, err := Rule{name: "empty"}.Apply(dataset())
	require.Error(t, err)
}
