// Package locator maps dynamic symbols to the source file they were
// compiled from and classifies that file as belonging to the project, to a
// system header or to neither.
package locator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tuiwidgets/abicheck/pkg/elfsym"
)

// Origin is where a symbol's definition comes from.
type Origin uint8

const (
	// Unknown means the resolver could not attribute the symbol to any
	// source line (??:0). Compiler synthesized data such as vtables and
	// typeinfo objects usually end up here.
	Unknown Origin = iota
	OwnSource
	SystemHeader
	// Elsewhere is a resolved location outside of every known root.
	Elsewhere
)

func (o Origin) String() string {
	switch o {
	case Unknown:
		return "unknown"
	case OwnSource:
		return "own source"
	case SystemHeader:
		return "system header"
	case Elsewhere:
		return "elsewhere"
	}
	return fmt.Sprintf("Origin(%d)", uint8(o))
}

// Classification is the result of locating a symbol.
type Classification struct {
	Origin Origin
	Path   string
	Line   int
}

func (c Classification) String() string {
	if c.Path == "" {
		return "??:0"
	}
	return c.Path + ":" + strconv.Itoa(c.Line)
}

// Locator resolves the source location of a symbol defined in binary.
type Locator interface {
	Locate(ctx context.Context, binary string, sym elfsym.SymbolRecord) (Classification, error)
}

// ResolutionError is returned when the resolver fails or reports problems.
type ResolutionError struct {
	Binary string
	Symbol string
	Stderr string
	Err    error
}

func (e *ResolutionError) Error() string {
	switch {
	case e.Err != nil && e.Stderr != "":
		return fmt.Sprintf("could not resolve %s in %s: %v: %s", e.Symbol, e.Binary, e.Err, e.Stderr)
	case e.Err != nil:
		return fmt.Sprintf("could not resolve %s in %s: %v", e.Symbol, e.Binary, e.Err)
	}
	return fmt.Sprintf("could not resolve %s in %s: %s", e.Symbol, e.Binary, e.Stderr)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Classifier maps resolved paths to origins.
type Classifier struct {
	ProjectRoot string
	SystemRoots []string
}

// DefaultSystemRoots is used when a Classifier has no SystemRoots.
var DefaultSystemRoots = []string{"/usr/include"}

// Classify returns the classification of path. An empty path or one
// starting with "??" is Unknown.
func (c *Classifier) Classify(path string, line int) Classification {
	if path == "" || strings.HasPrefix(path, "??") {
		return Classification{Origin: Unknown}
	}
	if strings.Contains(path, "/") {
		path = filepath.Clean(path)
	}
	r := Classification{Origin: Elsewhere, Path: path, Line: line}
	if c.ProjectRoot != "" && underRoot(path, c.ProjectRoot) {
		r.Origin = OwnSource
		return r
	}
	roots := c.SystemRoots
	if len(roots) == 0 {
		roots = DefaultSystemRoots
	}
	for _, root := range roots {
		if underRoot(path, root) {
			r.Origin = SystemHeader
			break
		}
	}
	return r
}

func underRoot(path, root string) bool {
	root = filepath.Clean(root)
	if root == "/" {
		return strings.HasPrefix(path, "/")
	}
	return path == root || strings.HasPrefix(path, root+string(filepath.Separator))
}

// parseLocation parses the first line of a resolver's output. Accepted
// forms are "path:line", "path:line:column" and binutils' "path:line
// (discriminator N)". Unknown lines ("?") parse as zero.
func parseLocation(out string) (path string, line int, ok bool) {
	out = strings.TrimSpace(out)
	if i := strings.IndexByte(out, '\n'); i >= 0 {
		out = strings.TrimSpace(out[:i])
	}
	if i := strings.Index(out, " ("); i >= 0 {
		out = out[:i]
	}
	if out == "" {
		return "", 0, false
	}
	if strings.HasPrefix(out, "??") {
		return "", 0, true
	}

	fields := strings.Split(out, ":")
	if len(fields) < 2 {
		return "", 0, false
	}
	// Drop a trailing column.
	if len(fields) >= 3 && isNumber(fields[len(fields)-1]) && isNumber(fields[len(fields)-2]) {
		fields = fields[:len(fields)-1]
	}
	lineStr := fields[len(fields)-1]
	path = strings.Join(fields[:len(fields)-1], ":")
	if lineStr != "?" {
		n, err := strconv.Atoi(lineStr)
		if err != nil {
			return "", 0, false
		}
		line = n
	}
	return path, line, true
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Cached memoizes the classification of every symbol. It is meant to be
// used for a single run over a single binary.
type Cached struct {
	Locator Locator
	memo    map[string]Classification
}

// NewCached wraps l.
func NewCached(l Locator) *Cached {
	return &Cached{Locator: l, memo: make(map[string]Classification)}
}

func (c *Cached) Locate(ctx context.Context, binary string, sym elfsym.SymbolRecord) (Classification, error) {
	key := binary + "\x00" + sym.Name
	if r, ok := c.memo[key]; ok {
		return r, nil
	}
	r, err := c.Locator.Locate(ctx, binary, sym)
	if err != nil {
		return r, err
	}
	c.memo[key] = r
	return r, nil
}
