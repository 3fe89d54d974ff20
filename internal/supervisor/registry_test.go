package supervisor

import (
	"testing"
	"time"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

func newInstance(role types.Role, parentID string) *types.Instance {
	return &types.Instance{
		Role:          role,
		ParentID:      parentID,
		Workdir:       "/tmp/work",
		Status:        types.StatusStarting,
		WorkspaceMode: types.WorkspaceIsolated,
		CreatedAt:     time.Now(),
	}
}

func TestRegistry_HierarchicalIDs(t *testing.T) {
	reg := NewRegistry()

	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register(root) error = %v", err)
	}
	if root.ID != "exec_1" {
		t.Errorf("root ID = %s, want exec_1", root.ID)
	}

	mgr := newInstance(types.RoleManager, "exec_1")
	if err := reg.Register(mgr); err != nil {
		t.Fatalf("Register(mgr) error = %v", err)
	}
	if mgr.ID != "mgr_1_1" {
		t.Errorf("manager ID = %s, want mgr_1_1", mgr.ID)
	}

	spec := newInstance(types.RoleSpecialist, "mgr_1_1")
	if err := reg.Register(spec); err != nil {
		t.Fatalf("Register(spec) error = %v", err)
	}
	if spec.ID != "spec_1_1_1" {
		t.Errorf("specialist ID = %s, want spec_1_1_1", spec.ID)
	}

	// Second child of the executive continues the parent's ordinal chain.
	spec2 := newInstance(types.RoleSpecialist, "exec_1")
	if err := reg.Register(spec2); err != nil {
		t.Fatalf("Register(spec2) error = %v", err)
	}
	if spec2.ID != "spec_1_2" {
		t.Errorf("second child ID = %s, want spec_1_2", spec2.ID)
	}
}

func TestRegistry_IDNeverReused(t *testing.T) {
	reg := NewRegistry()

	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	first := newInstance(types.RoleSpecialist, root.ID)
	if err := reg.Register(first); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	firstID := first.ID

	reg.Remove(firstID)

	second := newInstance(types.RoleSpecialist, root.ID)
	if err := reg.Register(second); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if second.ID == firstID {
		t.Errorf("ID %s was reused after removal", firstID)
	}
}

func TestRegistry_MissingParent(t *testing.T) {
	reg := NewRegistry()
	inst := newInstance(types.RoleSpecialist, "exec_99")
	if err := reg.Register(inst); err == nil {
		t.Fatal("Register() with missing parent should fail")
	}
}

func TestRegistry_DescendantsPostOrder(t *testing.T) {
	reg := NewRegistry()

	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	mgr := newInstance(types.RoleManager, root.ID)
	if err := reg.Register(mgr); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	spec := newInstance(types.RoleSpecialist, mgr.ID)
	if err := reg.Register(spec); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got := reg.Descendants(root.ID)
	want := []string{spec.ID, mgr.ID} // Deepest first
	if len(got) != len(want) {
		t.Fatalf("Descendants() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Descendants()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRegistry_ListFilter(t *testing.T) {
	reg := NewRegistry()

	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := reg.Register(newInstance(types.RoleSpecialist, root.ID)); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}

	if got := len(reg.List(Filter{})); got != 4 {
		t.Errorf("List(all) = %d instances, want 4", got)
	}
	if got := len(reg.List(Filter{Role: types.RoleSpecialist})); got != 3 {
		t.Errorf("List(specialists) = %d instances, want 3", got)
	}
	if got := len(reg.List(Filter{ParentID: root.ID})); got != 3 {
		t.Errorf("List(children of root) = %d instances, want 3", got)
	}
}

func TestRegistry_ReadsReturnClones(t *testing.T) {
	reg := NewRegistry()
	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, _ := reg.Get(root.ID)
	got.Workdir = "/mutated"

	again, _ := reg.Get(root.ID)
	if again.Workdir == "/mutated" {
		t.Error("mutating a Get() result leaked into the registry")
	}
}

func TestRegistry_Adopt_AdvancesCounters(t *testing.T) {
	reg := NewRegistry()

	adopted := newInstance(types.RoleExecutive, "")
	adopted.ID = "exec_3"
	if err := reg.Adopt(adopted); err != nil {
		t.Fatalf("Adopt() error = %v", err)
	}

	fresh := newInstance(types.RoleExecutive, "")
	if err := reg.Register(fresh); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if fresh.ID != "exec_4" {
		t.Errorf("fresh ID = %s, want exec_4 (counter must skip adopted ordinals)", fresh.ID)
	}
}

func TestRegistry_StatusTransitions(t *testing.T) {
	reg := NewRegistry()
	root := newInstance(types.RoleExecutive, "")
	if err := reg.Register(root); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.SetStatus(root.ID, types.StatusActive); err != nil {
		t.Fatalf("SetStatus(active) error = %v", err)
	}
	if err := reg.SetStatus(root.ID, types.StatusStarting); err == nil {
		t.Error("SetStatus(active -> starting) should be rejected")
	}
	if err := reg.SetStatus(root.ID, types.StatusDead); err != nil {
		t.Fatalf("SetStatus(dead) error = %v", err)
	}
	if err := reg.SetStatus(root.ID, types.StatusStarting); err != nil {
		t.Errorf("SetStatus(dead -> starting) should be allowed for restart, got %v", err)
	}
}
