package bridge

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// TmuxBridge implements Bridge by shelling out to the tmux CLI. Each
// session is a detached pseudo-terminal; text is injected via send-keys
// and rendered output is read via capture-pane.
type TmuxBridge struct {
	// defaultTimeout bounds each tmux invocation when the caller's
	// context has no deadline.
	defaultTimeout time.Duration

	// Terminal geometry for new sessions.
	width, height int
}

// NewTmuxBridge creates a tmux-backed transport with default settings.
func NewTmuxBridge() *TmuxBridge {
	return &TmuxBridge{
		defaultTimeout: 5 * time.Second,
		width:          200,
		height:         50,
	}
}

// Call dispatches a transport request to the corresponding tmux command.
func (b *TmuxBridge) Call(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("request is nil")
	}

	switch req.Op {
	case OpSpawn:
		return b.spawn(ctx, req)
	case OpSend:
		return b.send(ctx, req)
	case OpRead:
		return b.read(ctx, req)
	case OpList:
		return b.list(ctx, req)
	case OpTerminate:
		return b.terminate(ctx, req)
	case OpRestart:
		return b.restart(ctx, req)
	}
	return nil, fmt.Errorf("unknown transport op %q", req.Op)
}

func (b *TmuxBridge) spawn(ctx context.Context, req *Request) (*Response, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if b.sessionExists(ctx, req.Session) {
		return fail("session %s already exists", req.Session), nil
	}

	args := []string{
		"new-session",
		"-d",
		"-s", req.Session,
		"-x", fmt.Sprintf("%d", b.width),
		"-y", fmt.Sprintf("%d", b.height),
	}
	if req.Workdir != "" {
		args = append(args, "-c", req.Workdir)
	}
	for k, v := range req.Env {
		args = append(args, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if req.Command != "" {
		args = append(args, req.Command)
	}

	if output, err := b.run(ctx, args...); err != nil {
		return fail("creating tmux session: %v: %s", err, output), nil
	}
	return ok(), nil
}

func (b *TmuxBridge) send(ctx context.Context, req *Request) (*Response, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if !b.sessionExists(ctx, req.Session) {
		return fail("session %s not found", req.Session), nil
	}

	// Inject the text literally (-l) so tmux key names inside prompts
	// are not interpreted, then press Enter separately.
	if output, err := b.run(ctx, "send-keys", "-t", req.Session, "-l", req.Text); err != nil {
		return fail("send-keys: %v: %s", err, output), nil
	}
	if output, err := b.run(ctx, "send-keys", "-t", req.Session, "Enter"); err != nil {
		return fail("send-keys enter: %v: %s", err, output), nil
	}
	return ok(), nil
}

func (b *TmuxBridge) read(ctx context.Context, req *Request) (*Response, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if !b.sessionExists(ctx, req.Session) {
		return fail("session %s not found", req.Session), nil
	}

	args := []string{"capture-pane", "-t", req.Session, "-p"}
	if req.Lines > 0 {
		args = append(args, "-S", fmt.Sprintf("-%d", req.Lines))
	}

	output, err := b.run(ctx, args...)
	if err != nil {
		return fail("capture-pane: %v: %s", err, output), nil
	}

	resp := ok()
	resp.Output = lastLines(output, req.Lines)
	return resp, nil
}

func (b *TmuxBridge) list(ctx context.Context, req *Request) (*Response, error) {
	ctx, cancel := b.ensureTimeout(ctx)
	defer cancel()
	cmd := exec.CommandContext(ctx, "tmux", "list-sessions", "-F", "#{session_name}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errStr := stderr.String()
		// No server or no sessions is a normal empty result.
		if strings.Contains(errStr, "no server running") ||
			strings.Contains(errStr, "no current session") {
			return ok(), nil
		}
		if exitErr, isExit := err.(*exec.ExitError); isExit && exitErr.ExitCode() == 1 {
			return ok(), nil
		}
		return fail("listing tmux sessions: %v: %s", err, errStr), nil
	}

	resp := ok()
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if req.Prefix == "" || strings.HasPrefix(line, req.Prefix) {
			resp.Sessions = append(resp.Sessions, line)
		}
	}
	return resp, nil
}

func (b *TmuxBridge) terminate(ctx context.Context, req *Request) (*Response, error) {
	if req.Session == "" {
		return nil, fmt.Errorf("session name is required")
	}
	if !b.sessionExists(ctx, req.Session) {
		return ok(), nil // Already gone; terminate is idempotent
	}

	output, err := b.run(ctx, "kill-session", "-t", req.Session)
	if err != nil && !strings.Contains(output, "session not found") {
		return fail("killing tmux session: %v: %s", err, output), nil
	}
	return ok(), nil
}

// restart tears down any leftover session and recreates it in the same
// working directory. The caller supplies the command with its resume
// flag already appended.
func (b *TmuxBridge) restart(ctx context.Context, req *Request) (*Response, error) {
	if _, err := b.terminate(ctx, req); err != nil {
		return nil, err
	}
	return b.spawn(ctx, req)
}

func (b *TmuxBridge) sessionExists(ctx context.Context, name string) bool {
	ctx, cancel := b.ensureTimeout(ctx)
	defer cancel()
	return exec.CommandContext(ctx, "tmux", "has-session", "-t", name).Run() == nil
}

func (b *TmuxBridge) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := b.ensureTimeout(ctx)
	defer cancel()
	output, err := exec.CommandContext(ctx, "tmux", args...).CombinedOutput()
	return string(output), err
}

// ensureTimeout bounds a call that arrived without a deadline.
func (b *TmuxBridge) ensureTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.defaultTimeout)
}

// lastLines returns at most n trailing lines of s, or s unchanged when
// n <= 0.
func lastLines(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if n <= 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}

func ok() *Response {
	return &Response{Success: true}
}

func fail(format string, args ...any) *Response {
	return &Response{Success: false, Error: fmt.Sprintf(format, args...)}
}
