package model

// RuleColumn is the column appended to flagged rows in the exceptions section.
const RuleColumn = "rule"

// CountColumn is the count column of the summary section.
const CountColumn = "count"

// Report section (sheet) names.
const (
	SheetSample     = "sample_input"
	SheetExceptions = "exceptions"
	SheetSummary    = "summary"
)

// Exception is a dataset row flagged by exactly one rule. The same row shows
// up once per rule that matched it.
type Exception struct {
	Rule string `json:"rule"`
	Row  Row    `json:"row"`
}

// RuleCount is one summary line.
type RuleCount struct {
	Rule  string `json:"rule"`
	Count int    `json:"count"`
}

// Report is the per-file output artifact. It is built once and never mutated.
type Report struct {
	Source     string         `json:"source"`
	Fields     []string       `json:"fields"`
	Sample     []Row          `json:"sample"`
	Exceptions []Exception    `json:"exceptions"`
	Summary    []RuleCount    `json:"summary"`
	Stats      NormalizeStats `json:"stats"`
}

// ExceptionFields returns the exceptions section header: dataset fields plus rule.
func (r *Report) ExceptionFields() []string {
	out := make([]string, 0, len(r.Fields)+1)
	out = append(out, r.Fields...)
	return append(out, RuleColumn)
}
