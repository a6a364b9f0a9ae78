// Package policy enforces the symbol versioning rules of a shared library:
// every symbol the library defines must either carry a version starting
// with the library's prefix or be attributable to a source that is allowed
// to export unversioned symbols.
package policy

import (
	"context"
	"debug/elf"
	"strings"

	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/locator"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

// Violation reasons.
const (
	ReasonOwnNotVersioned      = "symbol from our source not versioned"
	ReasonExternalNotWeak      = "symbol from external header, but not weak"
	ReasonUnknownNotWeak       = "symbol from unresolved origin, but not weak"
	ReasonUnknownNotVersioned  = "symbol from unresolved origin not versioned"
	ReasonUnknownNotObject     = "symbol from unresolved origin not of object type"
	ReasonDemangleFailed       = "demangle failed"
	ReasonUnexpectedSourcePath = "unexpected source location"
)

// Violation is a single policy finding.
type Violation struct {
	Reason string
	// Detail holds additional context, for example the offending binding
	// or the demangler's error.
	Detail string
}

// Verdict is the outcome of checking one symbol.
type Verdict struct {
	Symbol     elfsym.SymbolRecord
	Demangled  string
	Source     locator.Classification
	Violations []Violation
}

// OK returns true if v has no violations.
func (v *Verdict) OK() bool {
	return len(v.Violations) == 0
}

// Report holds a verdict for every checked symbol, in symbol table order.
type Report struct {
	Path     string
	Prefix   string
	Verdicts []Verdict
}

// OK returns true if every verdict is OK.
func (r *Report) OK() bool {
	for i := range r.Verdicts {
		if !r.Verdicts[i].OK() {
			return false
		}
	}
	return true
}

// Violations returns the total number of violations.
func (r *Report) Violations() int {
	n := 0
	for i := range r.Verdicts {
		n += len(r.Verdicts[i].Violations)
	}
	return n
}

// CountByOrigin returns the number of checked symbols per origin.
func (r *Report) CountByOrigin() map[locator.Origin]int {
	m := make(map[locator.Origin]int)
	for i := range r.Verdicts {
		m[r.Verdicts[i].Source.Origin]++
	}
	return m
}

// Demangler turns mangled names into declarations.
type Demangler interface {
	Demangle(mangled string) (string, error)
}

// Engine checks the symbols of a shared library.
type Engine struct {
	// Prefix every version tag of the library must start with.
	Prefix     string
	Locator    locator.Locator
	Demangler  Demangler
	Exemptions *Exemptions
	Log        logflags.Logger
}

// Check examines every defined, non local symbol of tab. Policy violations
// are collected in the report; an error is only returned if a symbol could
// not be located, in which case checking stops.
func (e *Engine) Check(ctx context.Context, tab *elfsym.Table) (*Report, error) {
	log := e.Log
	if log == nil {
		log = logflags.SymbolsLogger()
	}
	rep := &Report{Path: tab.Path, Prefix: e.Prefix}
	for _, sym := range tab.Symbols {
		if !sym.Defined || sym.Bind == elf.STB_LOCAL {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src, err := e.Locator.Locate(ctx, tab.Path, sym)
		if err != nil {
			return nil, err
		}
		v := e.verdict(sym, src)
		if !v.OK() {
			log.WithField("symbol", sym.Name).Debugf("%d violation(s), origin %s", len(v.Violations), src.Origin)
		}
		rep.Verdicts = append(rep.Verdicts, v)
	}
	log.Debugf("%s: checked %d symbols, %d violations", tab.Path, len(rep.Verdicts), rep.Violations())
	return rep, nil
}

func (e *Engine) hasPrefix(version string) bool {
	return strings.HasPrefix(version, e.Prefix)
}

func (e *Engine) verdict(sym elfsym.SymbolRecord, src locator.Classification) Verdict {
	v := Verdict{Symbol: sym, Source: src}
	add := func(reason, detail string) {
		v.Violations = append(v.Violations, Violation{Reason: reason, Detail: detail})
	}
	versioned := sym.HasVersion && e.hasPrefix(sym.Version)

	switch src.Origin {
	case locator.OwnSource:
		if !versioned {
			add(ReasonOwnNotVersioned, "")
		}

	case locator.SystemHeader:
		// Observed with Qt 6 on arm64: inline code of the library itself
		// attributed to a system header.
		if strings.HasPrefix(sym.Name, e.Prefix) && versioned {
			break
		}
		if sym.Bind != elf.STB_WEAK {
			add(ReasonExternalNotWeak, sym.Bind.String())
		}

	case locator.Unknown:
		if !versioned {
			e.checkUnknown(&v, add)
		}
		if sym.Kind != elf.STT_OBJECT {
			add(ReasonUnknownNotObject, sym.Kind.String())
		}

	default:
		add(ReasonUnexpectedSourcePath, src.String())
	}
	return v
}

func (e *Engine) checkUnknown(v *Verdict, add func(reason, detail string)) {
	sym := &v.Symbol
	demangled, err := e.Demangler.Demangle(sym.Name)
	if err != nil {
		add(ReasonDemangleFailed, err.Error())
		return
	}
	v.Demangled = demangled
	if _, ok := e.Exemptions.Match(demangled); ok {
		if sym.Bind != elf.STB_WEAK && sym.Bind != elfsym.BindGNUUnique {
			add(ReasonUnknownNotWeak, sym.Bind.String())
		}
		return
	}
	add(ReasonUnknownNotVersioned, demangled)
}
