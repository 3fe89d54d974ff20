// Package supervisor owns the instance registry and the lifecycle of
// agent instances: spawn, send, read, terminate (cascading), restart,
// and liveness. Role-based access control is enforced here.
package supervisor

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// Registry is an arena of instances keyed by hierarchical ID, with a
// children index per instance. All mutations go through one mutex
// (single-writer discipline) so two concurrent spawns can never be
// assigned the same ID; reads hand out clones and take only the read
// lock.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*types.Instance

	// counters tracks the next ordinal per parent ("" for roots).
	// Counters only grow, so an ID is never reused even after its
	// instance is removed.
	counters map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*types.Instance),
		counters:  make(map[string]int),
	}
}

// Filter selects instances in List.
type Filter struct {
	Role     types.Role // Zero value matches all roles
	ParentID string     // Empty matches all parents
}

// NextID derives a fresh hierarchical ID for a child of parentID.
// Roots get "exec_1", "exec_2", ...; children append the next ordinal
// to the parent's lineage: the second child of exec_1 spawned as a
// manager becomes "mgr_1_2".
func (r *Registry) NextID(role types.Role, parentID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIDLocked(role, parentID)
}

func (r *Registry) nextIDLocked(role types.Role, parentID string) (string, error) {
	if parentID == "" {
		r.counters[""]++
		return fmt.Sprintf("%s_%d", role.Prefix(), r.counters[""]), nil
	}

	parent, exists := r.instances[parentID]
	if !exists {
		return "", orcerrors.New(orcerrors.CodeSpawnParentMissing, "parent %s does not exist", parentID)
	}

	r.counters[parentID]++
	return fmt.Sprintf("%s_%s_%d", role.Prefix(), parent.Lineage(), r.counters[parentID]), nil
}

// Register derives an ID for the instance, links it under its parent,
// and stores it. The passed instance's ID field is filled in.
func (r *Registry) Register(inst *types.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.nextIDLocked(inst.Role, inst.ParentID)
	if err != nil {
		return err
	}
	inst.ID = id

	if _, exists := r.instances[id]; exists {
		return orcerrors.New(orcerrors.CodeDuplicateID, "instance %s already registered", id)
	}

	r.instances[id] = inst
	if inst.ParentID != "" {
		r.instances[inst.ParentID].AddChild(id)
	}
	return nil
}

// Adopt inserts an instance that already has an ID, used when
// rehydrating from the durable store. Counters are advanced so future
// IDs never collide with adopted ones.
func (r *Registry) Adopt(inst *types.Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst.ID == "" {
		return orcerrors.New(orcerrors.CodeInvalidWorkflow, "adopted instance has no ID")
	}
	if _, exists := r.instances[inst.ID]; exists {
		return orcerrors.New(orcerrors.CodeDuplicateID, "instance %s already registered", inst.ID)
	}

	r.instances[inst.ID] = inst
	if inst.ParentID != "" {
		if parent, exists := r.instances[inst.ParentID]; exists {
			parent.AddChild(inst.ID)
		}
	}

	// Keep the ordinal counter ahead of the adopted ID.
	counterKey := inst.ParentID
	if ordinal := trailingOrdinal(inst.ID); ordinal > r.counters[counterKey] {
		r.counters[counterKey] = ordinal
	}
	return nil
}

// Get returns a clone of the instance, or false if unknown.
func (r *Registry) Get(id string) (*types.Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, exists := r.instances[id]
	if !exists {
		return nil, false
	}
	return inst.Clone(), true
}

// List returns clones of all instances matching the filter, sorted by ID.
func (r *Registry) List(filter Filter) []*types.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*types.Instance
	for _, inst := range r.instances {
		if filter.Role != "" && inst.Role != filter.Role {
			continue
		}
		if filter.ParentID != "" && inst.ParentID != filter.ParentID {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes the instance and unlinks it from its parent's children
// index. Removing an unknown ID is a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, exists := r.instances[id]
	if !exists {
		return
	}
	if inst.ParentID != "" {
		if parent, parentExists := r.instances[inst.ParentID]; parentExists {
			parent.RemoveChild(id)
		}
	}
	delete(r.instances, id)
}

// SetStatus transitions the instance's lifecycle status, enforcing the
// transition table.
func (r *Registry) SetStatus(id string, status types.InstanceStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	inst, exists := r.instances[id]
	if !exists {
		return orcerrors.New(orcerrors.CodeInstanceNotFound, "instance %s not found", id)
	}
	if !inst.Status.CanTransitionTo(status) {
		return orcerrors.New(orcerrors.CodeInvalidWorkflow,
			"invalid status transition %s -> %s for %s", inst.Status, status, id)
	}
	inst.Status = status
	return nil
}

// setSession records the transport session handle under the write lock.
func (r *Registry) setSession(id, session string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, exists := r.instances[id]; exists {
		inst.Session = session
	}
}

// Descendants returns every transitive descendant of id in post-order
// (deepest first), so cascading terminate tears children down before
// their parents. The id itself is not included.
func (r *Registry) Descendants(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.descendantsLocked(id)
}

func (r *Registry) descendantsLocked(id string) []string {
	inst, exists := r.instances[id]
	if !exists {
		return nil
	}

	var out []string
	for _, child := range inst.Children {
		out = append(out, r.descendantsLocked(child)...)
		out = append(out, child)
	}
	return out
}

// trailingOrdinal extracts the final ordinal from a hierarchical ID.
func trailingOrdinal(id string) int {
	idx := strings.LastIndex(id, "_")
	if idx < 0 {
		return 0
	}
	var n int
	fmt.Sscanf(id[idx+1:], "%d", &n)
	return n
}
