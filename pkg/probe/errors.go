package probe

import (
	"fmt"
	"strings"
)

// ProbeBuildError is returned when the probe could not be compiled.
type ProbeBuildError struct {
	Cmd    string
	Output []byte
	Err    error
}

func (e *ProbeBuildError) Error() string {
	out := strings.TrimSpace(string(e.Output))
	if out == "" {
		return fmt.Sprintf("could not build probe: %v", e.Err)
	}
	return fmt.Sprintf("could not build probe: %v\n%s", e.Err, out)
}

func (e *ProbeBuildError) Unwrap() error {
	return e.Err
}

// ProbeRuntimeError is returned when the probe could not be run or exited
// unsuccessfully.
type ProbeRuntimeError struct {
	Binary   string
	ExitCode int
	Stderr   []byte
	Err      error
}

func (e *ProbeRuntimeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("could not run probe %s: %v", e.Binary, e.Err)
	}
	return fmt.Sprintf("probe %s exited with status %d", e.Binary, e.ExitCode)
}

func (e *ProbeRuntimeError) Unwrap() error {
	return e.Err
}
