package locator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
	"github.com/tuiwidgets/abicheck/pkg/toolchain"
)

// Placeholders substituted in the resolver command line.
const (
	BinaryPlaceholder  = "{binary}"
	SymbolPlaceholder  = "{symbol}"
	AddressPlaceholder = "{address}"
)

// DefaultResolver is the resolver used when none is configured.
const DefaultResolver = "eu-addr2line -e {binary} {symbol}"

// Addr2Line resolves symbols by running an external addr2line style
// program once per symbol.
type Addr2Line struct {
	argv       []string
	classifier *Classifier
	output     func(ctx context.Context, argv []string) (stdout, stderr []byte, err error)
}

// NewAddr2Line parses the resolver command line. If it contains neither
// {symbol} nor {address} the symbol name is appended.
func NewAddr2Line(cmdline string, c *Classifier) (*Addr2Line, error) {
	if cmdline == "" {
		cmdline = DefaultResolver
	}
	words, err := toolchain.ParseCommand(cmdline)
	if err != nil {
		return nil, fmt.Errorf("invalid resolver: %w", err)
	}
	if len(words) == 0 {
		return nil, fmt.Errorf("invalid resolver %q", cmdline)
	}
	if !strings.Contains(cmdline, SymbolPlaceholder) && !strings.Contains(cmdline, AddressPlaceholder) {
		words = append(words, SymbolPlaceholder)
	}
	return &Addr2Line{argv: words, classifier: c, output: toolchain.Output}, nil
}

// Command returns the resolver command line for sym.
func (a *Addr2Line) Command(binary string, sym elfsym.SymbolRecord) []string {
	r := strings.NewReplacer(
		BinaryPlaceholder, binary,
		SymbolPlaceholder, sym.Name,
		AddressPlaceholder, fmt.Sprintf("%#x", sym.Value))
	cmd := make([]string, len(a.argv))
	for i, w := range a.argv {
		cmd[i] = r.Replace(w)
	}
	return cmd
}

// Locate runs the resolver. Anything written to standard error is treated
// as a failure.
func (a *Addr2Line) Locate(ctx context.Context, binary string, sym elfsym.SymbolRecord) (Classification, error) {
	cmd := a.Command(binary, sym)
	stdout, stderr, err := a.output(ctx, cmd)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Classification{}, err
		}
		return Classification{}, &ResolutionError{Binary: binary, Symbol: sym.Name, Stderr: strings.TrimSpace(string(stderr)), Err: err}
	}
	if len(stderr) > 0 {
		return Classification{}, &ResolutionError{Binary: binary, Symbol: sym.Name, Stderr: strings.TrimSpace(string(stderr))}
	}
	path, line, ok := parseLocation(string(stdout))
	if !ok {
		return Classification{}, &ResolutionError{Binary: binary, Symbol: sym.Name, Err: fmt.Errorf("unexpected resolver output %q", strings.TrimSpace(string(stdout)))}
	}
	r := a.classifier.Classify(path, line)
	logflags.LocatorLogger().Debugf("%s: %s (%s)", sym.Name, r, r.Origin)
	return r, nil
}
