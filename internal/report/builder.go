// Package report assembles and writes the per-file exception report.
package report

import (
	"sort"

	"github.com/sells-group/txn-audit/internal/model"
	"github.com/sells-group/txn-audit/internal/rules"
)

// DefaultSampleRows caps the sample section.
const DefaultSampleRows = 2000

// Builder assembles reports from a dataset and its rule evaluation.
type Builder struct {
	sampleRows int
}

// NewBuilder creates a Builder. sampleRows <= 0 means DefaultSampleRows.
func NewBuilder(sampleRows int) *Builder {
	if sampleRows <= 0 {
		sampleRows = DefaultSampleRows
	}
	return &Builder{sampleRows: sampleRows}
}

// Build assembles the three report sections. The summary is derived from the
// exceptions themselves, so its counts always agree with the exceptions
// section.
func (b *Builder) Build(ds *model.Dataset, res *rules.Result) *model.Report {
	n := len(ds.Rows)
	if n > b.sampleRows {
		n = b.sampleRows
	}

	r := &model.Report{
		Source:     ds.Source,
		Fields:     append([]string(nil), ds.Fields...),
		Sample:     append([]model.Row(nil), ds.Rows[:n]...),
		Exceptions: []model.Exception{},
		Summary:    []model.RuleCount{},
		Stats:      ds.Stats,
	}
	if res != nil {
		r.Exceptions = append(r.Exceptions, res.Exceptions...)
	}
	r.Summary = Summarize(r.Exceptions)
	return r
}

// Summarize groups exceptions by rule label. Rules with no exceptions are
// omitted; lines are ordered by rule name.
func Summarize(exceptions []model.Exception) []model.RuleCount {
	counts := make(map[string]int)
	for _, e := range exceptions {
		counts[e.Rule]++
	}

	out := make([]model.RuleCount, 0, len(counts))
	for rule, c := range counts {
		out = append(out, model.RuleCount{Rule: rule, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule < out[j].Rule })
	return out
}
