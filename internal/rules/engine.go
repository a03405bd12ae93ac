package rules

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// ErrRuleFault marks a rule that failed or panicked. Evaluation of the whole
// file is abandoned; there is no partial result.
var ErrRuleFault = eris.New("rules: rule fault")

// Result is the outcome of evaluating every rule against one dataset.
type Result struct {
	// Exceptions holds flagged rows grouped by rule in declaration order,
	// dataset order within a rule.
	Exceptions []model.Exception
	// Counts has one entry per rule in declaration order, zero counts included.
	Counts []model.RuleCount
}

// Count returns the number of rows a rule flagged.
func (r *Result) Count(rule string) int {
	for _, c := range r.Counts {
		if c.Rule == rule {
			return c.Count
		}
	}
	return 0
}

// Engine evaluates a registry's rules.
type Engine struct {
	registry *Registry
}

// NewEngine creates an engine over reg. A nil registry means Builtin().
func NewEngine(reg *Registry) *Engine {
	if reg == nil {
		reg = Builtin()
	}
	return &Engine{registry: reg}
}

// Rules returns the rule names the engine evaluates, in order.
func (e *Engine) Rules() []string {
	return e.registry.Names()
}

// Evaluate applies every rule to the full dataset. Each rule sees every row,
// so a row matching several rules appears once per rule.
func (e *Engine) Evaluate(ds *model.Dataset) (*Result, error) {
	res := &Result{}
	for _, rule := range e.registry.rules {
		idx, err := applySafe(rule, ds)
		if err != nil {
			return nil, err
		}
		for _, i := range idx {
			res.Exceptions = append(res.Exceptions, model.Exception{Rule: rule.name, Row: ds.Rows[i]})
		}
		res.Counts = append(res.Counts, model.RuleCount{Rule: rule.name, Count: len(idx)})
	}
	return res, nil
}

func applySafe(rule Rule, ds *model.Dataset) (idx []int, err error) {
	defer func() {
		if p := recover(); p != nil {
			idx = nil
			err = eris.Wrapf(ErrRuleFault, "rules: %q panicked: %s", rule.name, fmt.Sprint(p))
		}
	}()

	idx, err = rule.Apply(ds)
	if err != nil {
		return nil, eris.Wrapf(ErrRuleFault, "rules: %q: %s", rule.name, err.Error())
	}
	for _, i := range idx {
		if i < 0 || i >= len(ds.Rows) {
			return nil, eris.Wrapf(ErrRuleFault, "rules: %q returned row %d outside dataset of %d rows", rule.name, i, len(ds.Rows))
		}
	}
	return idx, nil
}
