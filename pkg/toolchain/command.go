package toolchain

import (
	"fmt"

	"github.com/cosiner/argv"
)

// ParseCommand splits a command line using shell quoting rules. Pipes and
// backtick substitutions are rejected. An empty command line returns nil.
func ParseCommand(cmdline string) ([]string, error) {
	v, err := argv.Argv(cmdline,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, fmt.Errorf("invalid command line %q: %w", cmdline, err)
	}
	if len(v) > 1 {
		return nil, fmt.Errorf("invalid command line %q: expected a single command", cmdline)
	}
	if len(v) == 0 || len(v[0]) == 0 {
		return nil, nil
	}
	return v[0], nil
}
