// Package report formats check results for the terminal.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"

	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/locator"
	"github.com/tuiwidgets/abicheck/pkg/policy"
	"github.com/tuiwidgets/abicheck/pkg/probe"
	"github.com/tuiwidgets/abicheck/pkg/probe/classify"
)

const (
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiBold   = "\033[1m"
	ansiReset  = "\033[0m"
)

// Printer writes diagnostics.
type Printer struct {
	out   io.Writer
	color bool
}

// New returns a Printer writing to out.
func New(out io.Writer, color bool) *Printer {
	return &Printer{out: out, color: color}
}

// ColorEnabled resolves a --color mode ("auto", "always" or "never")
// for f.
func ColorEnabled(mode string, f *os.File) (bool, error) {
	switch mode {
	case "", "auto":
		if strings.ToLower(os.Getenv("TERM")) == "dumb" || os.Getenv("NO_COLOR") != "" {
			return false, nil
		}
		return isatty.IsTerminal(f.Fd()), nil
	case "always":
		return true, nil
	case "never":
		return false, nil
	}
	return false, fmt.Errorf("invalid color mode %q, must be one of auto, always or never", mode)
}

// NewFile returns a Printer for f. ANSI sequences are translated where
// the console needs it.
func NewFile(f *os.File, mode string) (*Printer, error) {
	color, err := ColorEnabled(mode, f)
	if err != nil {
		return nil, err
	}
	if color {
		return New(colorable.NewColorable(f), true), nil
	}
	return New(f, false), nil
}

func (p *Printer) paint(style, s string) string {
	if !p.color {
		return s
	}
	return style + s + ansiReset
}

func (p *Printer) printf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format, args...)
}

// Violations prints every policy violation of rep followed by the source
// location of the symbol.
func (p *Printer) Violations(rep *policy.Report) {
	for i := range rep.Verdicts {
		v := &rep.Verdicts[i]
		for _, viol := range v.Violations {
			line := []string{p.paint(ansiRed+ansiBold, viol.Reason), v.Symbol.Name, v.Symbol.VersionString()}
			if viol.Detail != "" {
				line = append(line, viol.Detail)
			}
			p.printf("%s\n", strings.Join(line, " "))
			p.printf("   %s\n", v.Source)
		}
	}
}

// Verdict prints the final line of a symbols run.
func (p *Printer) Verdict(rep *policy.Report) {
	if rep.OK() {
		p.printf("%s: %s\n", rep.Path, p.paint(ansiGreen, "ok"))
		return
	}
	p.printf("%s: %s\n", rep.Path, p.paint(ansiRed, fmt.Sprintf("%d violation(s)", rep.Violations())))
}

var origins = []locator.Origin{locator.OwnSource, locator.SystemHeader, locator.Unknown, locator.Elsewhere}

// Summary prints a table of checked symbols and violations per origin.
func (p *Printer) Summary(rep *policy.Report) {
	symbols := rep.CountByOrigin()
	violations := make(map[locator.Origin]int)
	for i := range rep.Verdicts {
		v := &rep.Verdicts[i]
		violations[v.Source.Origin] += len(v.Violations)
	}

	table := tablewriter.NewWriter(p.out)
	table.SetHeader([]string{"Origin", "Symbols", "Violations"})
	for _, o := range origins {
		table.Append([]string{o.String(), strconv.Itoa(symbols[o]), strconv.Itoa(violations[o])})
	}
	table.SetFooter([]string{"total", strconv.Itoa(len(rep.Verdicts)), strconv.Itoa(rep.Violations())})
	table.Render()
}

// SpecialMembers prints the result of classifying a probe run. The last
// line always lists the inline classes.
func (p *Printer) SpecialMembers(res *classify.Result) {
	for _, e := range res.Errors {
		p.printf("%s\n", p.paint(ansiRed, e))
	}
	for _, m := range res.Missing {
		p.printf("%s\n", p.paint(ansiRed, m.String()))
	}
	for _, u := range res.Unexpected {
		p.printf("%s %s\n", p.paint(ansiYellow, "Unexpected output line: "), u)
	}
	p.printf("inline classes: %s\n", strings.Join(res.InlineClasses, ", "))
}

// ProbeSummary prints a table of the probed classes.
func (p *Printer) ProbeSummary(rep *probe.Report, res *classify.Result) {
	missing := make(map[string]int)
	for _, m := range res.Missing {
		missing[m.Class]++
	}
	table := tablewriter.NewWriter(p.out)
	table.SetHeader([]string{"Class", "Kind", "Signature", "Shape", "Expected", "Missing"})
	table.SetAutoWrapText(false)
	for _, c := range rep.Classes {
		table.Append([]string{
			c.Name,
			string(c.Kind),
			c.Signature,
			probe.SignatureDescription(c.Signature),
			strconv.Itoa(len(c.Expectations)),
			strconv.Itoa(missing[c.Name]),
		})
	}
	table.Render()
}

// Dump prints the dynamic symbol table and version tables of tab.
func (p *Printer) Dump(tab *elfsym.Table) {
	if len(tab.Definitions) > 0 {
		p.printf("Version definitions:\n")
		for _, d := range tab.Definitions {
			base := ""
			if d.Base {
				base = " (base)"
			}
			p.printf("  %d %s%s\n", d.Index, d.Name, base)
		}
	}
	if len(tab.Needs) > 0 {
		p.printf("Version requirements:\n")
		for _, n := range tab.Needs {
			p.printf("  %d %s from %s\n", n.Index, n.Name, n.File)
		}
	}

	table := tablewriter.NewWriter(p.out)
	table.SetHeader([]string{"Num", "Value", "Size", "Type", "Bind", "Ndx", "Name"})
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	table.SetColumnSeparator("")
	table.SetCenterSeparator("")
	table.SetHeaderLine(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	for i := range tab.Symbols {
		s := &tab.Symbols[i]
		ndx := "UND"
		if s.Defined {
			ndx = "DEF"
		}
		table.Append([]string{
			strconv.Itoa(s.Index),
			fmt.Sprintf("%016x", s.Value),
			strconv.FormatUint(s.Size, 10),
			symType(s),
			symBind(s),
			ndx,
			VersionedName(s),
		})
	}
	table.Render()
}

func symType(s *elfsym.SymbolRecord) string {
	return strings.TrimPrefix(s.Kind.String(), "STT_")
}

func symBind(s *elfsym.SymbolRecord) string {
	if s.Bind == elfsym.BindGNUUnique {
		return "UNIQUE"
	}
	return strings.TrimPrefix(s.Bind.String(), "STB_")
}

// VersionedName formats a symbol the way readelf and nm do: name@@VERSION
// for the default version of a defined symbol, name@VERSION otherwise.
func VersionedName(s *elfsym.SymbolRecord) string {
	if !s.HasVersion {
		return s.Name
	}
	if s.Defined && !s.Hidden {
		return s.Name + "@@" + s.Version
	}
	return s.Name + "@" + s.Version
}
