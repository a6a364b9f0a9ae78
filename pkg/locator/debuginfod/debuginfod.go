// Package debuginfod fetches separate debug information with the
// debuginfod-find client.
package debuginfod

import (
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/tuiwidgets/abicheck/pkg/logflags"
	"github.com/tuiwidgets/abicheck/pkg/toolchain"
)

const (
	debuginfodFind       = "debuginfod-find"
	debuginfodMaxtimeEnv = "DEBUGINFOD_MAXTIME"
	debuginfodTimeoutEnv = "DEBUGINFOD_TIMEOUT"
)

// Find is the path of the debuginfod-find executable. It is looked up in
// PATH when empty.
var Find = ""

func execFind(ctx context.Context, args ...string) (string, error) {
	find := Find
	if find == "" {
		var err error
		find, err = exec.LookPath(debuginfodFind)
		if err != nil {
			return "", err
		}
	}
	var env []string
	if os.Getenv(debuginfodMaxtimeEnv) == "" || os.Getenv(debuginfodTimeoutEnv) == "" {
		env = []string{debuginfodMaxtimeEnv + "=1", debuginfodTimeoutEnv + "=1"}
	}
	logflags.LocatorLogger().Debugf("running %s %s", find, strings.Join(args, " "))
	out, _, err := toolchain.OutputEnv(ctx, append([]string{find}, args...), env) // ignore stderr
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// GetDebuginfo returns the path of the debug information file for buildid,
// downloading it if needed.
func GetDebuginfo(ctx context.Context, buildid string) (string, error) {
	return execFind(ctx, "debuginfo", buildid)
}
