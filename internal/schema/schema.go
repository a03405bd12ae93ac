// Package schema resolves raw input headers onto canonical column names and
// holds the date layouts the normalizer accepts.
package schema

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/txn-audit/internal/model"
)

// ErrConfig marks an unusable schema configuration, such as two aliases that
// resolve to different canonical names.
var ErrConfig = eris.New("schema: invalid configuration")

// DefaultDateLayouts are tried in order when parsing posting dates.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"2006-1-2",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04",
	"2006/01/02",
	"2006/1/2",
	"01/02/2006",
	"1/2/2006",
	"01/02/2006 15:04:05",
	"02-Jan-2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"20060102",
}

// DefaultNAValues are cell values read as missing, the markers spreadsheet
// and dataframe exports write for an empty field. Matching is exact after
// trimming surrounding space.
var DefaultNAValues = []string{
	"#N/A", "#N/A N/A", "#NA", "-1.#IND", "-1.#QNAN", "-NaN", "-nan",
	"1.#IND", "1.#QNAN", "<NA>", "N/A", "NA", "NULL", "NaN", "None",
	"n/a", "nan", "null",
}

// Config is the on-disk schema file.
//
//	schema:
//	  aliases:
//	    amount: ["amt", "value"]
//	    vendor: ["supplier"]
//	  date_layouts: ["2006-01-02", "02.01.2006"]
//	  na_values: ["-", "unknown"]
type Config struct {
	Aliases     map[string][]string `yaml:"aliases"`
	DateLayouts []string            `yaml:"date_layouts"`
	// NAValues extends DefaultNAValues.
	NAValues []string `yaml:"na_values"`
}

// Schema maps normalized header names onto canonical ones.
type Schema struct {
	aliases map[string]string
	layouts []string
	na      map[string]struct{}
}

// Default returns the schema with no aliases and the default date layouts.
func Default() *Schema {
	s, _ := New(Config{})
	return s
}

// Load reads a schema file. An empty path yields Default().
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "schema: read %s", path)
	}

	var wrapper struct {
		Schema Config `yaml:"schema"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrapf(err, "schema: parse %s", path)
	}
	return New(wrapper.Schema)
}

// New validates cfg and builds a Schema. Alias collisions are reported here,
// at setup time, instead of being resolved by whichever alias is seen last.
func New(cfg Config) (*Schema, error) {
	s := &Schema{
		aliases: make(map[string]string),
		layouts: DefaultDateLayouts,
		na:      make(map[string]struct{}, len(DefaultNAValues)+len(cfg.NAValues)),
	}
	if len(cfg.DateLayouts) > 0 {
		s.layouts = append([]string(nil), cfg.DateLayouts...)
	}
	for _, v := range append(append([]string(nil), DefaultNAValues...), cfg.NAValues...) {
		if v = strings.TrimSpace(v); v != "" {
			s.na[v] = struct{}{}
		}
	}

	targets := make([]string, 0, len(cfg.Aliases))
	for target := range cfg.Aliases {
		targets = append(targets, target)
	}
	sort.Strings(targets)

	canon := make(map[string]bool, len(targets))
	for _, target := range targets {
		canon[NormalizeName(target)] = true
	}

	for _, target := range targets {
		want := NormalizeName(target)
		if want == "" {
			return nil, eris.Wrap(ErrConfig, "schema: empty alias target")
		}
		for _, alias := range cfg.Aliases[target] {
			name := NormalizeName(alias)
			switch {
			case name == "":
				return nil, eris.Wrapf(ErrConfig, "schema: empty alias for %q", want)
			case name == want:
				continue
			case canon[name] || isRequired(name):
				return nil, eris.Wrapf(ErrConfig, "schema: alias %q for %q shadows canonical column %q", alias, want, name)
			}
			if prev, ok := s.aliases[name]; ok && prev != want {
				return nil, eris.Wrapf(ErrConfig, "schema: alias %q maps to both %q and %q", alias, prev, want)
			}
			s.aliases[name] = want
		}
	}
	return s, nil
}

// Canonical returns the canonical column name for a raw header.
func (s *Schema) Canonical(raw string) string {
	name := NormalizeName(raw)
	if target, ok := s.aliases[name]; ok {
		return target
	}
	return name
}

// DateLayouts returns the accepted posting date layouts in trial order.
func (s *Schema) DateLayouts() []string {
	return s.layouts
}

// IsNA reports whether a cell value is a missing-value marker.
func (s *Schema) IsNA(v string) bool {
	_, ok := s.na[strings.TrimSpace(v)]
	return ok
}

// NormalizeName trims and lower-cases a header. A leading byte order mark,
// common in spreadsheet CSV exports, is dropped.
func NormalizeName(raw string) string {
	raw = strings.TrimPrefix(raw, "\ufeff")
	return cases.Lower(language.Und).String(strings.TrimSpace(raw))
}

func isRequired(name string) bool {
	for _, c := range model.RequiredColumns {
		if c == name {
			return true
		}
	}
	return false
}
