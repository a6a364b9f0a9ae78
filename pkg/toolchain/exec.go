package toolchain

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/tuiwidgets/abicheck/pkg/config"
	"github.com/tuiwidgets/abicheck/pkg/logflags"
)

// waitDelay bounds how long Wait waits for output pipes after the process
// was killed because ctx was cancelled.
const waitDelay = 2 * time.Second

func command(ctx context.Context, dir string, argv []string, env []string) (string, *exec.Cmd) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)
	cmdline := config.JoinQuotedFields(argv, '\'')
	logflags.ToolchainLogger().Debugf("running %s", cmdline)
	return cmdline, cmd
}

func combinedOutput(ctx context.Context, dir string, argv []string) (string, []byte, error) {
	cmdline, cmd := command(ctx, dir, argv, nil)
	out, err := cmd.CombinedOutput()
	return cmdline, out, err
}

func run(ctx context.Context, argv []string, env []string) (*RunResult, error) {
	cmdline, cmd := command(ctx, "", argv, env)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	res := &RunResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, &ExitError{Cmd: cmdline, Err: err}
		}
		res.ExitCode = exitErr.ExitCode()
	}
	logflags.ToolchainLogger().Debugf("%s exited with status %d", cmdline, res.ExitCode)
	return res, nil
}

// Output runs argv and returns what it wrote to standard output and
// standard error. A non-zero exit status is returned as *ExitError.
func Output(ctx context.Context, argv []string) (stdout, stderr []byte, err error) {
	return OutputEnv(ctx, argv, nil)
}

// OutputEnv is like Output but adds env to the environment of the process.
func OutputEnv(ctx context.Context, argv []string, env []string) (stdout, stderr []byte, err error) {
	if len(argv) == 0 {
		return nil, nil, errors.New("empty command line")
	}
	res, err := run(ctx, argv, env)
	if err != nil {
		return nil, nil, err
	}
	if res.ExitCode != 0 {
		return res.Stdout, res.Stderr, &ExitError{Cmd: config.JoinQuotedFields(argv, '\''), ExitCode: res.ExitCode, Output: res.Stderr}
	}
	return res.Stdout, res.Stderr, nil
}

func exitError(cmdline string, out []byte, err error) error {
	e := &ExitError{Cmd: cmdline, Output: out, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		e.ExitCode = exitErr.ExitCode()
	}
	return e
}
