// Package probe compiles and runs a probe program against the library and
// collects what it reports about the special members of the library's
// classes together with the symbols the probe imports from the library.
package probe

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/elfsym"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
	"github.com/tuiwidgets/abicheck/pkg/toolchain"
)

// UndefinedSet holds the names of the undefined dynamic symbols of the
// probe executable.
type UndefinedSet map[string]struct{}

// Has returns true if sym is in the set.
func (u UndefinedSet) Has(sym string) bool {
	_, ok := u[sym]
	return ok
}

// Spec describes how to build the probe.
type Spec struct {
	Sources []string
	Flags   []string
}

// Output is the result of a probe run.
type Output struct {
	Binary    string
	Report    *Report
	Undefined UndefinedSet
}

// Harness drives a probe run.
type Harness struct {
	Toolchain toolchain.Toolchain
	// Reader reads the dynamic symbols of the probe. Defaults to
	// elfsym.Read without requiring version definitions.
	Reader func(path string) (*elfsym.Table, error)
	// Stderr receives the probe's standard error. Discarded if nil.
	Stderr io.Writer
	// Keep leaves a temporary probe binary in place.
	Keep bool
	Log  logflags.Logger
}

func readProbe(path string) (*elfsym.Table, error) {
	return elfsym.Read(path, elfsym.AllowMissingVerdef())
}

// Run compiles the probe, runs it and reads its undefined symbols.
func (h *Harness) Run(ctx context.Context, spec Spec) (*Output, error) {
	log := h.Log
	if log == nil {
		log = logflags.ProbeLogger()
	}
	reader := h.Reader
	if reader == nil {
		reader = readProbe
	}

	bin, err := h.Toolchain.Compile(ctx, spec.Sources, spec.Flags)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		perr := &ProbeBuildError{Err: err}
		var exitErr *toolchain.ExitError
		if errors.As(err, &exitErr) {
			perr.Cmd = exitErr.Cmd
			perr.Output = exitErr.Output
		}
		return nil, perr
	}
	if bin.Temporary && !h.Keep {
		defer toolchain.Remove(bin.Path)
	}
	log.Debugf("probe built at %s", bin.Path)

	res, err := h.Toolchain.Run(ctx, bin)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &ProbeRuntimeError{Binary: bin.Path, Err: err}
	}
	if h.Stderr != nil && len(res.Stderr) > 0 {
		h.Stderr.Write(res.Stderr)
	}
	if res.ExitCode != 0 {
		return nil, &ProbeRuntimeError{Binary: bin.Path, ExitCode: res.ExitCode, Stderr: res.Stderr}
	}

	rep, err := ParseReport(bytes.NewReader(res.Stdout))
	if err != nil {
		return nil, &ProbeRuntimeError{Binary: bin.Path, Err: err}
	}

	tab, err := reader(bin.Path)
	if err != nil {
		return nil, err
	}
	undef := UndefinedSet(tab.Undefined())
	log.Debugf("probe reported %d classes, %d expectations; %d undefined symbols", len(rep.Classes), rep.Expectations(), len(undef))

	return &Output{Binary: bin.Path, Report: rep, Undefined: undef}, nil
}

// SpecFromConfig returns the probe build description of conf.
func SpecFromConfig(conf *config.ProbeConfig) Spec {
	return Spec{
		Sources: conf.Sources,
		Flags:   config.SplitQuotedFields(conf.Flags, '\''),
	}
}
