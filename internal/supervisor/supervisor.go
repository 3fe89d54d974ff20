package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/bridge"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// Supervisor manages agent instances through the session transport.
// The registry it owns is the only shared mutable resource between
// concurrent workflow runs.
type Supervisor struct {
	cfg    config.SupervisorConfig
	bridge bridge.Bridge
	reg    *Registry
	store  *Store // Optional; nil disables durable persistence
	logger *slog.Logger
}

// New creates a Supervisor. The registry is passed in explicitly so
// multiple supervisors (and their tests) can coexist in one process.
func New(cfg config.SupervisorConfig, b bridge.Bridge, reg *Registry, store *Store, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		bridge: b,
		reg:    reg,
		store:  store,
		logger: logger,
	}
}

// SpawnSpec describes a requested instance.
type SpawnSpec struct {
	Role          types.Role
	Workdir       string
	Context       string // Initial prompt text injected after startup
	ParentID      string // Empty for root executives
	WorkspaceMode types.WorkspaceMode
}

// Spawn creates a session, registers a new instance under a freshly
// derived hierarchical ID, and injects the initial context text.
// The caller's role must be privileged enough to create the child.
func (s *Supervisor) Spawn(ctx context.Context, caller types.Role, spec SpawnSpec) (*types.Instance, error) {
	if err := s.checkSupervise(caller, "spawn"); err != nil {
		return nil, err
	}
	if !caller.CanSpawn(spec.Role) {
		return nil, orcerrors.New(orcerrors.CodeSpawnPrivilege,
			"role %s may not spawn %s", caller, spec.Role)
	}
	if spec.ParentID != "" {
		if _, exists := s.reg.Get(spec.ParentID); !exists {
			return nil, orcerrors.New(orcerrors.CodeSpawnParentMissing,
				"parent %s does not exist", spec.ParentID)
		}
	}

	mode := spec.WorkspaceMode
	if mode == "" {
		mode = types.WorkspaceIsolated
	}

	inst := &types.Instance{
		Role:          spec.Role,
		ParentID:      spec.ParentID,
		Workdir:       spec.Workdir,
		Status:        types.StatusStarting,
		WorkspaceMode: mode,
		CreatedAt:     time.Now(),
	}
	if err := s.reg.Register(inst); err != nil {
		return nil, err
	}
	session := s.cfg.SessionPrefix + inst.ID
	s.reg.setSession(inst.ID, session)

	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:      bridge.OpSpawn,
		Session: session,
		Workdir: spec.Workdir,
		Command: s.cfg.AgentCommand,
	})
	if err != nil || !resp.Success {
		s.reg.Remove(inst.ID)
		return nil, spawnError(session, resp, err)
	}

	if s.cfg.StartupDelay > 0 {
		select {
		case <-time.After(s.cfg.StartupDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if spec.Context != "" {
		if err := s.deliver(ctx, session, spec.Context); err != nil {
			s.logger.Warn("initial context delivery failed", "instance", inst.ID, "error", err)
		}
	}

	if err := s.reg.SetStatus(inst.ID, types.StatusActive); err != nil {
		return nil, err
	}

	out, _ := s.reg.Get(inst.ID)
	if s.store != nil {
		if err := s.store.Save(out); err != nil {
			s.logger.Error("persisting instance failed", "instance", inst.ID, "error", err)
		}
	}

	s.logger.Info("instance spawned",
		"instance", inst.ID, "role", inst.Role, "parent", spec.ParentID, "session", session)
	return out, nil
}

// Send delivers text to the instance's session as simulated keystrokes.
func (s *Supervisor) Send(ctx context.Context, caller types.Role, instanceID, text string) error {
	if err := s.checkSupervise(caller, "send"); err != nil {
		return err
	}
	inst, exists := s.reg.Get(instanceID)
	if !exists {
		return orcerrors.New(orcerrors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if err := s.deliver(ctx, inst.Session, text); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeDeliverySessionGone,
			"delivering to %s", instanceID)
	}
	if inst.Status == types.StatusIdle {
		if err := s.reg.SetStatus(instanceID, types.StatusActive); err != nil {
			return err
		}
		if s.store != nil {
			if err := s.store.UpdateStatus(instanceID, types.StatusActive); err != nil {
				s.logger.Error("persisting active status failed", "instance", instanceID, "error", err)
			}
		}
	}
	return nil
}

// MarkIdle parks a live instance: its session stays up but no work is
// in flight. The next Send wakes it back to active.
func (s *Supervisor) MarkIdle(caller types.Role, instanceID string) error {
	if err := s.checkSupervise(caller, "idle"); err != nil {
		return err
	}
	if _, exists := s.reg.Get(instanceID); !exists {
		return orcerrors.New(orcerrors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if err := s.reg.SetStatus(instanceID, types.StatusIdle); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.UpdateStatus(instanceID, types.StatusIdle); err != nil {
			s.logger.Error("persisting idle status failed", "instance", instanceID, "error", err)
		}
	}
	s.logger.Info("instance idle", "instance", instanceID)
	return nil
}

// Read returns the most recent rendered lines of the instance's session.
// It never blocks longer than one transport call and returns an empty
// string, not an error, when there is nothing to show.
func (s *Supervisor) Read(ctx context.Context, caller types.Role, instanceID string, maxLines int) (string, error) {
	if err := s.checkSupervise(caller, "read"); err != nil {
		return "", err
	}
	inst, exists := s.reg.Get(instanceID)
	if !exists {
		return "", orcerrors.New(orcerrors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}

	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:      bridge.OpRead,
		Session: inst.Session,
		Lines:   maxLines,
	})
	if err != nil {
		return "", orcerrors.Wrap(err, orcerrors.CodeDeliverySessionGone, "reading %s", instanceID)
	}
	if !resp.Success {
		return "", orcerrors.New(orcerrors.CodeDeliverySessionGone,
			"reading %s: %s", instanceID, resp.Error)
	}
	return resp.Output, nil
}

// List returns instances matching the filter.
func (s *Supervisor) List(caller types.Role, filter Filter) ([]*types.Instance, error) {
	if err := s.checkSupervise(caller, "list"); err != nil {
		return nil, err
	}
	return s.reg.List(filter), nil
}

// Get returns a single instance by ID without a privilege check; it
// exposes no session access and is used for status display.
func (s *Supervisor) Get(instanceID string) (*types.Instance, bool) {
	return s.reg.Get(instanceID)
}

// Terminate tears down the instance's session. With cascade (the
// default behavior for workflows), all transitive descendants are
// terminated first, post-order, so no orphaned children remain.
// Terminate is idempotent: an unknown ID is a no-op.
func (s *Supervisor) Terminate(ctx context.Context, caller types.Role, instanceID string, cascade bool) error {
	if err := s.checkSupervise(caller, "terminate"); err != nil {
		return err
	}

	if _, exists := s.reg.Get(instanceID); !exists {
		return nil
	}

	targets := []string{instanceID}
	if cascade {
		targets = append(s.reg.Descendants(instanceID), instanceID)
	}

	for _, id := range targets {
		inst, exists := s.reg.Get(id)
		if !exists {
			continue
		}
		resp, err := s.bridge.Call(ctx, &bridge.Request{
			Op:      bridge.OpTerminate,
			Session: inst.Session,
		})
		if err != nil || !resp.Success {
			// The session may already be gone; removal proceeds either way.
			s.logger.Warn("session teardown failed", "instance", id, "error", terminateErr(resp, err))
		}
		s.reg.Remove(id)
		if s.store != nil {
			if err := s.store.Delete(id); err != nil {
				s.logger.Error("deleting persisted instance failed", "instance", id, "error", err)
			}
		}
		s.logger.Info("instance terminated", "instance", id)
	}
	return nil
}

// Restart recreates a dead instance's session in the same working
// directory with the resume flag, preserving its ID and place in the
// hierarchy. If the working directory is inaccessible, the configured
// fallback directory is tried; with no fallback the instance fails (but
// nothing else does).
func (s *Supervisor) Restart(ctx context.Context, caller types.Role, instanceID string) error {
	if err := s.checkSupervise(caller, "restart"); err != nil {
		return err
	}
	inst, exists := s.reg.Get(instanceID)
	if !exists {
		return orcerrors.New(orcerrors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if inst.Status != types.StatusDead {
		return orcerrors.New(orcerrors.CodeRestartNotDead,
			"instance %s is %s, not dead", instanceID, inst.Status)
	}

	workdir := inst.Workdir
	if err := checkDir(workdir); err != nil {
		if s.cfg.FallbackWorkdir == "" {
			return orcerrors.Wrap(err, orcerrors.CodeWorkdirInaccessible,
				"workdir %s inaccessible for %s", workdir, instanceID)
		}
		s.logger.Warn("workdir inaccessible, using fallback",
			"instance", instanceID, "workdir", workdir, "fallback", s.cfg.FallbackWorkdir)
		workdir = s.cfg.FallbackWorkdir
		if err := checkDir(workdir); err != nil {
			return orcerrors.Wrap(err, orcerrors.CodeWorkdirInaccessible,
				"fallback workdir %s inaccessible", workdir)
		}
	}

	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:      bridge.OpRestart,
		Session: inst.Session,
		Workdir: workdir,
		Command: s.cfg.AgentCommand + " " + s.cfg.ResumeFlag,
	})
	if err != nil || !resp.Success {
		return orcerrors.Wrap(terminateErr(resp, err), orcerrors.CodeRestartFailed,
			"recreating session for %s", instanceID)
	}

	if err := s.reg.SetStatus(instanceID, types.StatusStarting); err != nil {
		return err
	}
	if err := s.reg.SetStatus(instanceID, types.StatusActive); err != nil {
		return err
	}
	if s.store != nil {
		if err := s.store.UpdateStatus(instanceID, types.StatusActive); err != nil {
			s.logger.Error("persisting restart failed", "instance", instanceID, "error", err)
		}
	}

	s.logger.Info("instance restarted", "instance", instanceID, "workdir", workdir)
	return nil
}

// IsActive probes the underlying session's liveness, letting the engine
// distinguish "instance is slow" from "instance is gone".
func (s *Supervisor) IsActive(ctx context.Context, instanceID string) bool {
	inst, exists := s.reg.Get(instanceID)
	if !exists {
		return false
	}

	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:     bridge.OpList,
		Prefix: inst.Session,
	})
	if err != nil || !resp.Success {
		return false
	}
	for _, session := range resp.Sessions {
		if session == inst.Session {
			return true
		}
	}
	return false
}

// Rehydrate loads the durable registry into memory, then sweeps session
// liveness: instances whose sessions vanished while the orchestrator
// was down are marked dead (eligible for restart).
func (s *Supervisor) Rehydrate(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	instances, err := s.store.LoadAll()
	if err != nil {
		return err
	}
	for _, inst := range instances {
		if err := s.reg.Adopt(inst); err != nil {
			return err
		}
	}

	return s.SweepLiveness(ctx)
}

// SweepLiveness marks instances whose sessions are gone as dead.
func (s *Supervisor) SweepLiveness(ctx context.Context) error {
	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:     bridge.OpList,
		Prefix: s.cfg.SessionPrefix,
	})
	if err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeDeliverySessionGone, "listing sessions")
	}

	live := make(map[string]bool, len(resp.Sessions))
	for _, session := range resp.Sessions {
		live[session] = true
	}

	for _, inst := range s.reg.List(Filter{}) {
		if inst.Status == types.StatusDead || live[inst.Session] {
			continue
		}
		if err := s.reg.SetStatus(inst.ID, types.StatusDead); err != nil {
			s.logger.Warn("marking instance dead failed", "instance", inst.ID, "error", err)
			continue
		}
		if s.store != nil {
			if err := s.store.UpdateStatus(inst.ID, types.StatusDead); err != nil {
				s.logger.Error("persisting dead status failed", "instance", inst.ID, "error", err)
			}
		}
		s.logger.Info("instance marked dead", "instance", inst.ID, "session", inst.Session)
	}
	return nil
}

// Nudge sends a bare Enter keystroke to the instance, unsticking agents
// whose composed message is sitting unsubmitted in the input box.
func (s *Supervisor) Nudge(ctx context.Context, caller types.Role, instanceID string) error {
	return s.Send(ctx, caller, instanceID, "")
}

func (s *Supervisor) deliver(ctx context.Context, session, text string) error {
	resp, err := s.bridge.Call(ctx, &bridge.Request{
		Op:      bridge.OpSend,
		Session: session,
		Text:    text,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("%s", resp.Error)
	}
	return nil
}

func (s *Supervisor) checkSupervise(caller types.Role, op string) error {
	if !caller.CanSupervise() {
		return orcerrors.New(orcerrors.CodePermissionDenied,
			"role %s may not call %s", caller, op).WithDetail("op", op)
	}
	return nil
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}

func spawnError(session string, resp *bridge.Response, err error) error {
	if err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeSpawnTransport, "creating session %s", session)
	}
	return orcerrors.New(orcerrors.CodeSpawnTransport, "creating session %s: %s", session, resp.Error)
}

func terminateErr(resp *bridge.Response, err error) error {
	if err != nil {
		return err
	}
	if resp != nil && resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}
	return fmt.Errorf("transport call failed")
}
