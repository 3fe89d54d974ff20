package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestShellExecutor_Run(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	e := NewShellExecutor()

	tests := []struct {
		name       string
		script     string
		wantStdout string
		wantStderr string
		wantCode   int
	}{
		{"stdout captured", "echo hello", "hello", "", 0},
		{"stderr captured", "echo oops >&2", "", "oops", 0},
		{"exit code reported not errored", "exit 3", "", "", 3},
		{"multiline trims one trailing newline", "printf 'a\\nb\\n'", "a\nb", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.Run(context.Background(), tt.script, "", nil)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if res.Stdout != tt.wantStdout || res.Stderr != tt.wantStderr || res.ExitCode != tt.wantCode {
				t.Errorf("Run() = %+v, want stdout=%q stderr=%q code=%d",
					res, tt.wantStdout, tt.wantStderr, tt.wantCode)
			}
		})
	}
}

func TestShellExecutor_Workdir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	res, err := NewShellExecutor().Run(context.Background(), "ls marker", dir, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "marker" || res.ExitCode != 0 {
		t.Errorf("Run() = %+v, want marker in workdir", res)
	}
}

func TestShellExecutor_Env(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	res, err := NewShellExecutor().Run(context.Background(),
		"echo $ORC_TEST_VALUE", "", map[string]string{"ORC_TEST_VALUE": "42"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Stdout != "42" {
		t.Errorf("stdout = %q, want 42", res.Stdout)
	}
}

func TestShellExecutor_Cancellation(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	res, err := NewShellExecutor().Run(ctx, "sleep 30", "", nil)
	if err == nil {
		t.Fatal("Run() succeeded, want context error")
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1 for killed process", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("cancellation took %v, process not killed", elapsed)
	}
}

func TestShellExecutor_EmptyScript(t *testing.T) {
	if _, err := NewShellExecutor().Run(context.Background(), "", "", nil); err == nil {
		t.Fatal("Run() with empty script succeeded, want error")
	}
}
