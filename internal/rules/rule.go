// Package rules defines audit rules as named predicates over a canonical
// dataset and evaluates them in declaration order.
package rules

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/txn-audit/internal/model"
)

// Predicate returns the indexes (into ds.Rows, ascending) of the rows a rule
// flags. It must not modify ds.
type Predicate func(ds *model.Dataset) ([]int, error)

// Rule is an immutable named predicate.
type Rule struct {
	name  string
	match Predicate
}

// New creates a rule.
func New(name string, match Predicate) Rule {
	return Rule{name: name, match: match}
}

// RowRule creates a rule from a per-row test.
func RowRule(name string, test func(row model.Row) bool) Rule {
	return New(name, func(ds *model.Dataset) ([]int, error) {
		var out []int
		for i, row := range ds.Rows {
			if test(row) {
				out = append(out, i)
			}
		}
		return out, nil
	})
}

// Name returns the rule's report label.
func (r Rule) Name() string { return r.name }

// Apply runs the predicate against the full dataset.
func (r Rule) Apply(ds *model.Dataset) ([]int, error) {
	if r.match == nil {
		return nil, eris.Errorf("rules: rule %q has no predicate", r.name)
	}
	return r.match(ds)
}

// Registry holds rules in declaration order.
type Registry struct {
	rules []Rule
	names map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]bool)}
}

// Register appends a rule. Names must be unique and non-empty.
func (r *Registry) Register(rule Rule) error {
	if rule.name == "" {
		return eris.New("rules: rule name is required")
	}
	if rule.match == nil {
		return eris.Errorf("rules: rule %q has no predicate", rule.name)
	}
	if r.names[rule.name] {
		return eris.Errorf("rules: duplicate rule %q", rule.name)
	}
	r.names[rule.name] = true
	r.rules = append(r.rules, rule)
	return nil
}

// MustRegister is Register for static rule sets; it panics on error.
func (r *Registry) MustRegister(rules ...Rule) *Registry {
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			panic(err)
		}
	}
	return r
}

// Rules returns the registered rules in declaration order.
func (r *Registry) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Names returns rule names in declaration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.rules))
	for i, rule := range r.rules {
		out[i] = rule.name
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int { return len(r.rules) }
