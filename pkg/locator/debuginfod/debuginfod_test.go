package debuginfod

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestGetDebuginfo(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	dir := t.TempDir()
	fake := filepath.Join(dir, "debuginfod-find")
	script := "#!/bin/sh\n[ \"$1\" = debuginfo ] || exit 1\necho \"/cache/$2/debuginfo  \"\n"
	if err := os.WriteFile(fake, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	old := Find
	Find = fake
	defer func() { Find = old }()

	p, err := GetDebuginfo(context.Background(), "0123abcd")
	if err != nil {
		t.Fatalf("GetDebuginfo: %v", err)
	}
	if p != "/cache/0123abcd/debuginfo" {
		t.Errorf("GetDebuginfo() = %q", p)
	}
}

func TestGetDebuginfoMissingClient(t *testing.T) {
	old := Find
	Find = filepath.Join(t.TempDir(), "does-not-exist")
	defer func() { Find = old }()
	if _, err := GetDebuginfo(context.Background(), "0123abcd"); err == nil {
		t.Fatal("expected an error")
	}
}

func TestGetDebuginfoEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	t.Setenv(debuginfodMaxtimeEnv, "")
	t.Setenv(debuginfodTimeoutEnv, "")
	fake := filepath.Join(t.TempDir(), "debuginfod-find")
	script := "#!/bin/sh\necho \"/cache/$DEBUGINFOD_MAXTIME/$DEBUGINFOD_TIMEOUT\"\n"
	if err := os.WriteFile(fake, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	old := Find
	Find = fake
	defer func() { Find = old }()

	p, err := GetDebuginfo(context.Background(), "0123abcd")
	if err != nil {
		t.Fatalf("GetDebuginfo: %v", err)
	}
	if p != "/cache/1/1" {
		t.Errorf("GetDebuginfo() = %q, want timeouts set in the environment", p)
	}
}

func TestGetDebuginfoCancel(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	fake := filepath.Join(t.TempDir(), "debuginfod-find")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nsleep 30 &\nwait\n"), 0755); err != nil {
		t.Fatal(err)
	}
	old := Find
	Find = fake
	defer func() { Find = old }()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := GetDebuginfo(ctx, "0123abcd")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetDebuginfo() error = %v, want %v", err, context.DeadlineExceeded)
	}
	// The background sleep is in the same process group and killed with it.
	if d := time.Since(start); d > 10*time.Second {
		t.Errorf("GetDebuginfo took %v after cancellation", d)
	}
}
