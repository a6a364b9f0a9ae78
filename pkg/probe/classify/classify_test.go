package classify

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/probe"
)

func parse(t *testing.T, s string) *probe.Report {
	t.Helper()
	rep, err := probe.ParseReport(strings.NewReader(s))
	require.NoError(t, err)
	return rep
}

func undefined(names ...string) probe.UndefinedSet {
	u := make(probe.UndefinedSet)
	for _, n := range names {
		u[n] = struct{}{}
	}
	return u
}

func TestDestructorEquivalence(t *testing.T) {
	rep := parse(t, "CLASS Tui::v0::ZLayout kind=Layout\nEXPECT _ZN3Tui2v07ZLayoutD1Ev Tui::v0::ZLayout#dtor\n")
	res := New(nil).Classify(rep, undefined("_ZN3Tui2v07ZLayoutD2Ev"))
	require.True(t, res.OK())
	require.Empty(t, res.Missing)
	require.Equal(t, 1, res.Satisfied)
}

func TestMissingSymbol(t *testing.T) {
	rep := parse(t, "CLASS Widget kind=OutOfLine\nEXPECT _ZN6WidgetC1Ev ctor\n")
	res := New(nil).Classify(rep, undefined("_ZN6WidgetD2Ev", "_ZN6WidgetC2Ev", "printf"))
	require.False(t, res.OK())
	require.Equal(t, []Missing{{Class: "Widget", Symbol: "_ZN6WidgetC1Ev", Description: "ctor"}}, res.Missing)
	require.Equal(t, "Missing symbol: _ZN6WidgetC1Ev for ctor", res.Missing[0].String())
	require.Empty(t, res.InlineClasses)
}

func TestConstructorHeuristics(t *testing.T) {
	tests := []struct {
		name   string
		expect string
		undef  string
	}{
		{"widget parent", "_ZN3Tui2v07ZButtonC1Ev", "_ZN3Tui2v07ZButtonC1EPNS0_7ZWidgetE"},
		{"ZWidget itself", "_ZN3Tui2v07ZWidgetC1Ev", "_ZN3Tui2v07ZWidgetC1EPS1_"},
		{"QObject parent", "_ZN3Tui2v08ZShortcutC1Ev", "_ZN3Tui2v08ZShortcutC1EP7QObject"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := parse(t, "CLASS X kind=Widget\nEXPECT "+tt.expect+" X#default ctor\n")
			res := New(nil).Classify(rep, undefined(tt.undef))
			require.Empty(t, res.Missing)
		})
	}
}

// The parent pointer rules accept a class whose default constructor is
// genuinely missing as long as a parent pointer constructor is imported.
// This documents a known false negative of the heuristic.
func TestConstructorHeuristicFalseNegative(t *testing.T) {
	rep := parse(t, "CLASS Tui::v0::ZLabel kind=Widget\nEXPECT _ZN3Tui2v06ZLabelC1Ev Tui::v0::ZLabel#default ctor\n")
	res := New(nil).Classify(rep, undefined("_ZN3Tui2v06ZLabelC1EPNS0_7ZWidgetE"))
	require.Empty(t, res.Missing)

	res = New([]Rule{DefaultRules[0]}).Classify(rep, undefined("_ZN3Tui2v06ZLabelC1EPNS0_7ZWidgetE"))
	require.Len(t, res.Missing, 1)
}

func TestInlineClasses(t *testing.T) {
	rep := parse(t, `CLASS Tui::v0::ZSymbol kind=Inline
EXPECT _ZN3Tui2v07ZSymbolC1Ev Tui::v0::ZSymbol#default ctor
EXPECT _ZN3Tui2v07ZSymbolD1Ev Tui::v0::ZSymbol#dtor
CLASS Tui::v0::ZColor kind=Value
EXPECT _ZN3Tui2v06ZColorC1Ev Tui::v0::ZColor#default ctor
CLASS Tui::v0::ZTextOption::Tab kind=Inline
EXPECT _ZN3Tui2v011ZTextOption3TabC1Ev Tui::v0::ZTextOption::Tab#default ctor
CLASS Tui::v0::ZPalette::ColorDef kind=Inline
EXPECT _ZN3Tui2v08ZPalette8ColorDefC1Ev Tui::v0::ZPalette::ColorDef#default ctor
ERROR Tui::v0::ZColor is not a widget
`)
	res := New(nil).Classify(rep, undefined("_ZN3Tui2v06ZColorC1Ev", "_ZN3Tui2v08ZPalette8ColorDefC1Ev"))
	require.Empty(t, res.Missing)
	require.Equal(t, []string{"Tui::v0::ZSymbol", "Tui::v0::ZTextOption::Tab"}, res.InlineClasses)
	require.Equal(t, []string{"ERROR Tui::v0::ZColor is not a widget"}, res.Errors)
	require.False(t, res.OK())
	require.Equal(t, 2, res.Satisfied)
}

func TestRuleCandidates(t *testing.T) {
	r := Rule{Suffix: "D1Ev", Alternatives: []string{"D2Ev", "D0Ev"}}
	require.Equal(t, []string{"_ZN1AD2Ev", "_ZN1AD0Ev"}, r.Candidates("_ZN1AD1Ev"))
	require.Nil(t, r.Candidates("_ZN1AC1Ev"))

	r = Rule{Symbol: "_ZN1AC1Ev", Alternatives: []string{"_ZN1AC1Ei"}}
	require.Equal(t, []string{"_ZN1AC1Ei"}, r.Candidates("_ZN1AC1Ev"))
	require.Nil(t, r.Candidates("_ZN1BC1Ev"))

	require.Nil(t, Rule{}.Candidates("_ZN1AC1Ev"))
}

func TestRulesFromConfig(t *testing.T) {
	rules, err := RulesFromConfig([]config.EquivalenceRule{
		{Name: "dtor", Suffix: "D1Ev", Alternatives: []string{"D2Ev"}},
		{Name: "exact", Symbol: "_ZN1AC1Ev", Alternatives: []string{"_ZN1AC1Ei"}},
	})
	require.NoError(t, err)
	require.Len(t, rules, 2)

	rep := parse(t, "CLASS A kind=Value\nEXPECT _ZN1AC1Ev A#default ctor\n")
	require.Empty(t, New(rules).Classify(rep, undefined("_ZN1AC1Ei")).Missing)

	_, err = RulesFromConfig([]config.EquivalenceRule{{Name: "both", Symbol: "a", Suffix: "b", Alternatives: []string{"c"}}})
	require.Error(t, err)
	_, err = RulesFromConfig([]config.EquivalenceRule{{Name: "neither", Alternatives: []string{"c"}}})
	require.Error(t, err)
	_, err = RulesFromConfig([]config.EquivalenceRule{{Name: "empty", Suffix: "D1Ev"}})
	require.Error(t, err)
}
