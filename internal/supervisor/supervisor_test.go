package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/bridge"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/logging"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// fakeBridge records transport calls and simulates session state.
type fakeBridge struct {
	mu       sync.Mutex
	sessions map[string]bool
	sent     map[string][]string // session -> delivered text
	output   map[string]string   // session -> pane content for read
	calls    []bridge.Op

	failSpawn bool
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		sessions: make(map[string]bool),
		sent:     make(map[string][]string),
		output:   make(map[string]string),
	}
}

func (f *fakeBridge) Call(_ context.Context, req *bridge.Request) (*bridge.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.Op)

	switch req.Op {
	case bridge.OpSpawn, bridge.OpRestart:
		if f.failSpawn {
			return &bridge.Response{Success: false, Error: "transport refused"}, nil
		}
		f.sessions[req.Session] = true
		return &bridge.Response{Success: true}, nil
	case bridge.OpSend:
		if !f.sessions[req.Session] {
			return &bridge.Response{Success: false, Error: "session not found"}, nil
		}
		f.sent[req.Session] = append(f.sent[req.Session], req.Text)
		return &bridge.Response{Success: true}, nil
	case bridge.OpRead:
		if !f.sessions[req.Session] {
			return &bridge.Response{Success: false, Error: "session not found"}, nil
		}
		return &bridge.Response{Success: true, Output: f.output[req.Session]}, nil
	case bridge.OpList:
		resp := &bridge.Response{Success: true}
		for name, alive := range f.sessions {
			if alive && (req.Prefix == "" || len(name) >= len(req.Prefix) && name[:len(req.Prefix)] == req.Prefix) {
				resp.Sessions = append(resp.Sessions, name)
			}
		}
		return resp, nil
	case bridge.OpTerminate:
		delete(f.sessions, req.Session)
		return &bridge.Response{Success: true}, nil
	}
	return nil, fmt.Errorf("unknown op %s", req.Op)
}

func (f *fakeBridge) kill(session string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, session)
}

func testConfig(t *testing.T) config.SupervisorConfig {
	cfg := config.Default().Supervisor
	cfg.StartupDelay = 0
	cfg.FallbackWorkdir = ""
	return cfg
}

func newTestSupervisor(t *testing.T, fb *fakeBridge) *Supervisor {
	t.Helper()
	return New(testConfig(t), fb, NewRegistry(), nil, logging.NewForTest())
}

func spawnTree(t *testing.T, sup *Supervisor) (root, mgr, spec *types.Instance) {
	t.Helper()
	ctx := context.Background()

	root, err := sup.Spawn(ctx, types.RoleExecutive, SpawnSpec{Role: types.RoleExecutive, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn(root) error = %v", err)
	}
	mgr, err = sup.Spawn(ctx, types.RoleExecutive, SpawnSpec{Role: types.RoleManager, ParentID: root.ID, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn(mgr) error = %v", err)
	}
	spec, err = sup.Spawn(ctx, types.RoleManager, SpawnSpec{Role: types.RoleSpecialist, ParentID: mgr.ID, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn(spec) error = %v", err)
	}
	return root, mgr, spec
}

func TestSpawn_DeliversInitialContext(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)

	inst, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{
		Role:    types.RoleExecutive,
		Workdir: "/tmp",
		Context: "You are the executive. Orchestrate the plan.",
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	if inst.Status != types.StatusActive {
		t.Errorf("status = %s, want active", inst.Status)
	}

	sent := fb.sent[inst.Session]
	if len(sent) != 1 || sent[0] != "You are the executive. Orchestrate the plan." {
		t.Errorf("delivered context = %v, want the initial prompt", sent)
	}
}

func TestSpawn_TransportRefusal(t *testing.T) {
	fb := newFakeBridge()
	fb.failSpawn = true
	sup := newTestSupervisor(t, fb)

	_, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleExecutive})
	if !orcerrors.HasCode(err, orcerrors.CodeSpawnTransport) {
		t.Fatalf("Spawn() error = %v, want %s", err, orcerrors.CodeSpawnTransport)
	}
	if got := len(sup.reg.List(Filter{})); got != 0 {
		t.Errorf("registry has %d instances after failed spawn, want 0", got)
	}
}

func TestSpawn_PrivilegeChecks(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)

	// A manager may not spawn an executive.
	_, err := sup.Spawn(context.Background(), types.RoleManager, SpawnSpec{Role: types.RoleExecutive})
	if !orcerrors.HasCode(err, orcerrors.CodeSpawnPrivilege) {
		t.Errorf("manager spawning executive: error = %v, want %s", err, orcerrors.CodeSpawnPrivilege)
	}

	// Missing parent fails.
	_, err = sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleSpecialist, ParentID: "mgr_9_9"})
	if !orcerrors.HasCode(err, orcerrors.CodeSpawnParentMissing) {
		t.Errorf("missing parent: error = %v, want %s", err, orcerrors.CodeSpawnParentMissing)
	}
}

func TestSpecialist_DeniedAllSupervisoryOps(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"spawn", func() error {
			_, err := sup.Spawn(ctx, types.RoleSpecialist, SpawnSpec{Role: types.RoleSpecialist})
			return err
		}},
		{"send", func() error { return sup.Send(ctx, types.RoleSpecialist, root.ID, "hi") }},
		{"read", func() error {
			_, err := sup.Read(ctx, types.RoleSpecialist, root.ID, 10)
			return err
		}},
		{"list", func() error {
			_, err := sup.List(types.RoleSpecialist, Filter{})
			return err
		}},
		{"terminate", func() error { return sup.Terminate(ctx, types.RoleSpecialist, root.ID, true) }},
		{"restart", func() error { return sup.Restart(ctx, types.RoleSpecialist, root.ID) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !orcerrors.HasCode(err, orcerrors.CodePermissionDenied) {
				t.Errorf("%s by specialist: error = %v, want %s", tt.name, err, orcerrors.CodePermissionDenied)
			}
		})
	}
}

func TestTerminate_CascadeRemovesAllDescendants(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, mgr, spec := spawnTree(t, sup)

	if err := sup.Terminate(context.Background(), types.RoleExecutive, root.ID, true); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}

	for _, id := range []string{root.ID, mgr.ID, spec.ID} {
		if _, exists := sup.Get(id); exists {
			t.Errorf("instance %s still in registry after cascade terminate", id)
		}
	}
	if got := len(fb.sessions); got != 0 {
		t.Errorf("%d sessions still alive after cascade terminate, want 0", got)
	}
}

func TestTerminate_Idempotent(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)
	ctx := context.Background()

	if err := sup.Terminate(ctx, types.RoleExecutive, root.ID, true); err != nil {
		t.Fatalf("Terminate() error = %v", err)
	}
	if err := sup.Terminate(ctx, types.RoleExecutive, root.ID, true); err != nil {
		t.Errorf("second Terminate() = %v, want nil (idempotent)", err)
	}
}

func TestSend_DeadSession(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)

	fb.kill(root.Session)

	err := sup.Send(context.Background(), types.RoleExecutive, root.ID, "hello")
	if !orcerrors.HasCode(err, orcerrors.CodeDeliverySessionGone) {
		t.Errorf("Send() to dead session: error = %v, want %s", err, orcerrors.CodeDeliverySessionGone)
	}
}

func TestRestart_RequiresDeadStatus(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)

	err := sup.Restart(context.Background(), types.RoleExecutive, root.ID)
	if !orcerrors.HasCode(err, orcerrors.CodeRestartNotDead) {
		t.Errorf("Restart() of active instance: error = %v, want %s", err, orcerrors.CodeRestartNotDead)
	}
}

func TestRestart_ResumesInWorkdir(t *testing.T) {
	fb := newFakeBridge()
	cfg := testConfig(t)
	reg := NewRegistry()
	sup := New(cfg, fb, reg, nil, logging.NewForTest())

	workdir := t.TempDir()
	inst, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleExecutive, Workdir: workdir})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	fb.kill(inst.Session)
	if err := reg.SetStatus(inst.ID, types.StatusDead); err != nil {
		t.Fatalf("SetStatus(dead) error = %v", err)
	}

	if err := sup.Restart(context.Background(), types.RoleExecutive, inst.ID); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	got, _ := sup.Get(inst.ID)
	if got.Status != types.StatusActive {
		t.Errorf("status after restart = %s, want active", got.Status)
	}
	if !fb.sessions[inst.Session] {
		t.Error("session was not recreated")
	}
}

func TestRestart_InaccessibleWorkdirNoFallback(t *testing.T) {
	fb := newFakeBridge()
	reg := NewRegistry()
	sup := New(testConfig(t), fb, reg, nil, logging.NewForTest())

	inst, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{
		Role: types.RoleExecutive, Workdir: "/nonexistent/path/xyz",
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	fb.kill(inst.Session)
	if err := reg.SetStatus(inst.ID, types.StatusDead); err != nil {
		t.Fatalf("SetStatus(dead) error = %v", err)
	}

	err = sup.Restart(context.Background(), types.RoleExecutive, inst.ID)
	if !orcerrors.HasCode(err, orcerrors.CodeWorkdirInaccessible) {
		t.Errorf("Restart() error = %v, want %s", err, orcerrors.CodeWorkdirInaccessible)
	}
}

func TestRestart_FallbackWorkdir(t *testing.T) {
	fb := newFakeBridge()
	cfg := testConfig(t)
	cfg.FallbackWorkdir = t.TempDir()
	reg := NewRegistry()
	sup := New(cfg, fb, reg, nil, logging.NewForTest())

	inst, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{
		Role: types.RoleExecutive, Workdir: "/nonexistent/path/xyz",
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	fb.kill(inst.Session)
	if err := reg.SetStatus(inst.ID, types.StatusDead); err != nil {
		t.Fatalf("SetStatus(dead) error = %v", err)
	}

	if err := sup.Restart(context.Background(), types.RoleExecutive, inst.ID); err != nil {
		t.Errorf("Restart() with fallback workdir error = %v, want nil", err)
	}
}

func TestIsActive(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)
	ctx := context.Background()

	if !sup.IsActive(ctx, root.ID) {
		t.Error("IsActive() = false for a live session")
	}
	fb.kill(root.Session)
	if sup.IsActive(ctx, root.ID) {
		t.Error("IsActive() = true for a killed session")
	}
	if sup.IsActive(ctx, "exec_99") {
		t.Error("IsActive() = true for an unknown instance")
	}
}

func TestRehydrate_RestoresHierarchyAndSweeps(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir + "/registry.db")
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer store.Close()

	fb := newFakeBridge()
	cfg := testConfig(t)
	reg := NewRegistry()
	sup := New(cfg, fb, reg, store, logging.NewForTest())

	root, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleExecutive, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	child, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleManager, ParentID: root.ID, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	// Simulate orchestrator restart: fresh registry, same store. The
	// child's session died while we were down.
	fb.kill(child.Session)
	reg2 := NewRegistry()
	sup2 := New(cfg, fb, reg2, store, logging.NewForTest())
	if err := sup2.Rehydrate(context.Background()); err != nil {
		t.Fatalf("Rehydrate() error = %v", err)
	}

	gotRoot, exists := sup2.Get(root.ID)
	if !exists || gotRoot.Status != types.StatusActive {
		t.Errorf("rehydrated root = %v (exists=%t), want active", gotRoot, exists)
	}
	gotChild, exists := sup2.Get(child.ID)
	if !exists || gotChild.Status != types.StatusDead {
		t.Errorf("rehydrated child status = %v, want dead after liveness sweep", gotChild)
	}

	// Children index must be rebuilt.
	descendants := reg2.Descendants(root.ID)
	if len(descendants) != 1 || descendants[0] != child.ID {
		t.Errorf("Descendants() = %v, want [%s]", descendants, child.ID)
	}

	// And new IDs must not collide with rehydrated ones.
	fresh, err := sup2.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleManager, ParentID: root.ID, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn() after rehydrate error = %v", err)
	}
	if fresh.ID == child.ID {
		t.Errorf("ID %s reused after rehydrate", child.ID)
	}
}

func TestConcurrentSpawns_UniqueIDs(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)

	root, err := sup.Spawn(context.Background(), types.RoleExecutive, SpawnSpec{Role: types.RoleExecutive, Workdir: "/tmp"})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}

	const n = 20
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := sup.Spawn(context.Background(), types.RoleExecutive,
				SpawnSpec{Role: types.RoleSpecialist, ParentID: root.ID, Workdir: "/tmp"})
			if err != nil {
				t.Errorf("concurrent Spawn() error = %v", err)
				return
			}
			ids <- inst.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate ID %s assigned by concurrent spawns", id)
		}
		seen[id] = true
	}
}

func TestNudge_SendsBareEnter(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)

	if err := sup.Nudge(context.Background(), types.RoleExecutive, root.ID); err != nil {
		t.Fatalf("Nudge() error = %v", err)
	}
	sent := fb.sent[root.Session]
	if len(sent) == 0 || sent[len(sent)-1] != "" {
		t.Errorf("Nudge() delivered %v, want trailing empty text", sent)
	}
}

func TestMarkIdle_ParksAndSendWakes(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)

	if err := sup.MarkIdle(types.RoleExecutive, root.ID); err != nil {
		t.Fatalf("MarkIdle() error = %v", err)
	}
	inst, _ := sup.Get(root.ID)
	if inst.Status != types.StatusIdle {
		t.Fatalf("status = %s, want idle", inst.Status)
	}

	// Delivering work to a parked instance wakes it.
	if err := sup.Send(context.Background(), types.RoleExecutive, root.ID, "next task"); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	inst, _ = sup.Get(root.ID)
	if inst.Status != types.StatusActive {
		t.Errorf("status after Send = %s, want active", inst.Status)
	}
}

func TestMarkIdle_DeniedToSpecialist(t *testing.T) {
	fb := newFakeBridge()
	sup := newTestSupervisor(t, fb)
	root, _, _ := spawnTree(t, sup)

	err := sup.MarkIdle(types.RoleSpecialist, root.ID)
	if !orcerrors.HasCode(err, orcerrors.CodePermissionDenied) {
		t.Errorf("MarkIdle() error = %v, want %s", err, orcerrors.CodePermissionDenied)
	}
}
