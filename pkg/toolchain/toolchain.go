// Package toolchain runs the external programs the checks depend on: the
// C++ compiler, the compiled probe and address-to-source resolvers.
package toolchain

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

// Binary is an executable produced by Compile.
type Binary struct {
	Path string
	// Temporary is set when Path was generated and should be removed once
	// the binary is no longer needed.
	Temporary bool
}

// RunResult describes a finished process.
type RunResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Toolchain compiles and runs programs.
type Toolchain interface {
	Compile(ctx context.Context, sources, flags []string) (*Binary, error)
	Run(ctx context.Context, bin *Binary) (*RunResult, error)
}

// ExitError is returned when an external process could not be started or
// exited unsuccessfully.
type ExitError struct {
	Cmd      string
	ExitCode int
	Output   []byte
	Err      error
}

func (e *ExitError) Error() string {
	if e.ExitCode > 0 {
		return fmt.Sprintf("%s: exit status %d", e.Cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: %v", e.Cmd, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Exec is a Toolchain invoking a real compiler.
type Exec struct {
	// Compiler is the compiler command line, for example {"c++"}.
	Compiler []string
	// Libraries are appended to the link line after the sources.
	Libraries []string
	// Output is the path of the produced binary, a temporary file in the
	// working directory is used if empty.
	Output string
	// Dir is the working directory of the compiler, the current directory
	// if empty.
	Dir string
	// Runner is prepended to the command line when running a binary.
	Runner []string
	// Env lists additional environment entries for Run.
	Env []string
}

// Compile builds sources into an executable.
func (e *Exec) Compile(ctx context.Context, sources, flags []string) (*Binary, error) {
	if len(e.Compiler) == 0 {
		return nil, fmt.Errorf("no compiler configured")
	}
	bin := &Binary{Path: e.Output}
	if bin.Path == "" {
		path, err := filepath.Abs(DefaultBinaryPath(e.Dir, "abicheck_probe"))
		if err != nil {
			return nil, err
		}
		bin.Path = path
		bin.Temporary = true
	}

	argv := append(append([]string{}, e.Compiler...), compileArgs(bin.Path, sources, flags, e.Libraries)...)
	cmdline, out, err := combinedOutput(ctx, e.Dir, argv)
	if err != nil {
		if bin.Temporary {
			Remove(bin.Path)
		}
		return nil, exitError(cmdline, out, err)
	}
	if len(out) > 0 {
		logflags.ToolchainLogger().Debugf("compiler output:\n%s", out)
	}
	if !filepath.IsAbs(bin.Path) && e.Dir != "" {
		bin.Path = filepath.Join(e.Dir, bin.Path)
	}
	return bin, nil
}

// Run executes bin and waits for it. A non-zero exit status is reported
// through RunResult.ExitCode, err is only set if the process could not be
// run to completion.
func (e *Exec) Run(ctx context.Context, bin *Binary) (*RunResult, error) {
	path, err := filepath.Abs(bin.Path)
	if err != nil {
		return nil, err
	}
	argv := append(append([]string{}, e.Runner...), path)
	return run(ctx, argv, e.Env)
}

func compileArgs(output string, sources, flags, libraries []string) []string {
	args := make([]string, 0, len(flags)+len(sources)+len(libraries)+2)
	args = append(args, flags...)
	args = append(args, "-o", output)
	args = append(args, sources...)
	args = append(args, libraries...)
	return args
}

// Remove the file at path and issue a warning to stderr if this fails.
// This can be used to remove the temporary probe binary.
func Remove(path string) {
	var err error
	for i := 0; i < 20; i++ {
		err = os.Remove(path)
		// Open files can be removed on Unix, but not on Windows, where there also appears
		// to be a delay in releasing the binary when the process exits.
		if err == nil || runtime.GOOS != "windows" {
			break
		}
		time.Sleep(1 * time.Millisecond)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not remove %v: %v\n", path, err)
	}
}

// DefaultBinaryPath returns an unused file path in dir, the current
// directory if empty, named 'name' followed by a random string
func DefaultBinaryPath(dir, name string) string {
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, name)
	if err != nil {
		logflags.ToolchainLogger().Errorf("could not create temporary file for build output: %v", err)
		return filepath.Join(dir, name)
	}
	r := f.Name()
	f.Close()
	return r
}

// SplitFlags splits a flag string, single quotes group words.
func SplitFlags(s string) []string {
	return config.SplitQuotedFields(s, '\'')
}
