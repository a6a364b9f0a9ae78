// Package classify decides which special members expected by a probe are
// missing from the library.
package classify

import (
	"fmt"
	"strings"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
	"github.com/tuiwidgets/abicheck/pkg/probe"
)

// Rule names symbols that satisfy an expectation in place of the expected
// symbol.
type Rule struct {
	Name string
	// Symbol restricts the rule to exactly this symbol. Alternatives are
	// then complete symbol names.
	Symbol string
	// Suffix restricts the rule to symbols ending in Suffix. Alternatives
	// replace the suffix.
	Suffix       string
	Alternatives []string
}

// Candidates returns the symbols that satisfy sym according to r.
func (r Rule) Candidates(sym string) []string {
	switch {
	case r.Symbol != "":
		if sym == r.Symbol {
			return r.Alternatives
		}
	case r.Suffix != "":
		if strings.HasSuffix(sym, r.Suffix) {
			base := sym[:len(sym)-len(r.Suffix)]
			c := make([]string, len(r.Alternatives))
			for i, alt := range r.Alternatives {
				c[i] = base + alt
			}
			return c
		}
	}
	return nil
}

// DefaultRules are the equivalences observed with GCC and the Itanium ABI.
//
// The constructor rules assume that a constructor taking a defaulted
// parent pointer acts as the default constructor. They can hide a
// genuinely missing default constructor.
var DefaultRules = []Rule{
	// The base object destructor is referenced by the destructors of
	// derived classes.
	{Name: "base object destructor", Suffix: "D1Ev", Alternatives: []string{"D2Ev"}},
	{Name: "widget parent constructor", Suffix: "C1Ev", Alternatives: []string{"C1EPNS0_7ZWidgetE"}},
	// ZWidget's own parent constructor uses a substitution for the class.
	{Name: "ZWidget parent constructor", Symbol: "_ZN3Tui2v07ZWidgetC1Ev", Alternatives: []string{"_ZN3Tui2v07ZWidgetC1EPS1_"}},
	{Name: "QObject parent constructor", Suffix: "C1Ev", Alternatives: []string{"C1EP7QObject"}},
}

// RulesFromConfig converts configured equivalence rules.
func RulesFromConfig(rules []config.EquivalenceRule) ([]Rule, error) {
	r := make([]Rule, 0, len(rules))
	for _, c := range rules {
		if (c.Symbol == "") == (c.Suffix == "") {
			return nil, fmt.Errorf("equivalence rule %q: exactly one of symbol and suffix must be set", c.Name)
		}
		if len(c.Alternatives) == 0 {
			return nil, fmt.Errorf("equivalence rule %q has no alternatives", c.Name)
		}
		r = append(r, Rule{Name: c.Name, Symbol: c.Symbol, Suffix: c.Suffix, Alternatives: c.Alternatives})
	}
	return r, nil
}

// Missing is an expected out of line special member the probe did not
// import.
type Missing struct {
	Class       string
	Symbol      string
	Description string
}

func (m Missing) String() string {
	return fmt.Sprintf("Missing symbol: %s for %s", m.Symbol, m.Description)
}

// Result is the outcome of Classify.
type Result struct {
	Missing []Missing
	// InlineClasses lists classes of kind Inline with unsatisfied
	// expectations, in the order they were first seen.
	InlineClasses []string
	Errors        []string
	Unexpected    []string
	// Satisfied counts expectations met directly or through a rule.
	Satisfied int
}

// OK returns true if nothing is missing and the probe reported no errors.
func (r *Result) OK() bool {
	return len(r.Missing) == 0 && len(r.Errors) == 0
}

// Classifier applies equivalence rules to probe results.
type Classifier struct {
	Rules []Rule
}

// New returns a Classifier using rules, or DefaultRules if rules is empty.
func New(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Classifier{Rules: rules}
}

// Classify checks every expectation of rep against undef.
func (c *Classifier) Classify(rep *probe.Report, undef probe.UndefinedSet) *Result {
	log := logflags.ProbeLogger()
	res := &Result{Errors: rep.Errors, Unexpected: rep.Unexpected}
	inline := make(map[string]bool)

	for _, block := range rep.Classes {
		for _, e := range block.Expectations {
			if rule, ok := c.satisfied(e.Symbol, undef); ok {
				if rule != "" {
					log.Debugf("%s satisfied by rule %q", e.Symbol, rule)
				}
				res.Satisfied++
				continue
			}
			if block.Kind == probe.KindInline {
				if !inline[block.Name] {
					inline[block.Name] = true
					res.InlineClasses = append(res.InlineClasses, block.Name)
				}
				continue
			}
			res.Missing = append(res.Missing, Missing{Class: block.Name, Symbol: e.Symbol, Description: e.Description})
		}
	}
	return res
}

// satisfied returns true if sym or an equivalent symbol is in undef. The
// name of the rule that matched is returned as well, empty for a direct
// match.
func (c *Classifier) satisfied(sym string, undef probe.UndefinedSet) (string, bool) {
	if undef.Has(sym) {
		return "", true
	}
	for _, r := range c.Rules {
		for _, alt := range r.Candidates(sym) {
			if undef.Has(alt) {
				return r.Name, true
			}
		}
	}
	return "", false
}
