// Package executor runs workflow scripts as shell commands with context
// cancellation and captured results.
package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
)

// Result holds a completed script's captured streams and exit code.
// These land in the workflow context under actions.<name>.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ShellExecutor runs run_script actions. Scripts are executed in their
// own process group so cancellation kills the entire tree, not just the
// shell.
type ShellExecutor struct {
	// Shell is the interpreter used to run scripts. Defaults to /bin/sh.
	Shell string
}

// NewShellExecutor creates a ShellExecutor with default settings.
func NewShellExecutor() *ShellExecutor {
	return &ShellExecutor{Shell: "/bin/sh"}
}

// Run executes a script and captures its outputs. A non-zero exit code
// is not an error: the code is reported in the Result so the workflow
// can branch on it. When the context is cancelled the process group
// gets SIGTERM, then SIGKILL after 3s, and the exit code is -1.
func (e *ShellExecutor) Run(ctx context.Context, script, workdir string, env map[string]string) (*Result, error) {
	if script == "" {
		return nil, orcerrors.New(orcerrors.CodeActionFailed, "script is empty")
	}

	shell := e.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	// Not CommandContext: cancellation is handled manually so the tree
	// gets SIGTERM before SIGKILL.
	cmd := exec.Command(shell, "-c", script)
	if workdir != "" {
		cmd.Dir = workdir
	}
	if len(env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeActionFailed, "starting script")
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var exitCode int
	var runErr error

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(3 * time.Second):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		exitCode = -1
		runErr = ctx.Err()

	case err := <-done:
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			} else {
				exitCode = -1
				runErr = err
			}
		}
	}

	return &Result{
		Stdout:   strings.TrimSuffix(stdout.String(), "\n"),
		Stderr:   strings.TrimSuffix(stderr.String(), "\n"),
		ExitCode: exitCode,
	}, runErr
}
