package types

import (
	"fmt"
	"time"
)

// InstanceStatus represents the lifecycle state of an instance.
type InstanceStatus string

const (
	StatusStarting InstanceStatus = "starting" // Session created, agent booting
	StatusActive   InstanceStatus = "active"   // Agent is working
	StatusIdle     InstanceStatus = "idle"     // Agent at its blank baseline
	StatusDead     InstanceStatus = "dead"     // Session gone, eligible for restart
)

// Valid returns true if this is a recognized status.
func (s InstanceStatus) Valid() bool {
	switch s {
	case StatusStarting, StatusActive, StatusIdle, StatusDead:
		return true
	}
	return false
}

// CanTransitionTo returns true if transitioning from s to target is valid.
func (s InstanceStatus) CanTransitionTo(target InstanceStatus) bool {
	switch s {
	case StatusStarting:
		return target == StatusActive || target == StatusDead
	case StatusActive:
		return target == StatusIdle || target == StatusDead
	case StatusIdle:
		return target == StatusActive || target == StatusDead
	case StatusDead:
		// Restart recreates the session in place.
		return target == StatusStarting
	}
	return false
}

// WorkspaceMode gates whether an instance participates in the shared
// git-collaboration workspace. Only the flag is stored here; the
// collaboration layer itself lives outside the orchestration core.
type WorkspaceMode string

const (
	WorkspaceIsolated WorkspaceMode = "isolated"
	WorkspaceShared   WorkspaceMode = "shared"
)

// Valid returns true if this is a recognized workspace mode.
func (m WorkspaceMode) Valid() bool {
	return m == WorkspaceIsolated || m == WorkspaceShared
}

// Instance is one supervised external agent process bound to one
// terminal session. The ID encodes role and lineage (exec_1, mgr_1_1,
// spec_1_1_2) and is immutable after creation; IDs are never reused.
type Instance struct {
	ID            string         `yaml:"id"`
	Role          Role           `yaml:"role"`
	ParentID      string         `yaml:"parent_id,omitempty"` // Empty for root executives
	Workdir       string         `yaml:"workdir"`
	Session       string         `yaml:"session"` // Transport session handle
	Status        InstanceStatus `yaml:"status"`
	WorkspaceMode WorkspaceMode  `yaml:"workspace_mode"`
	CreatedAt     time.Time      `yaml:"created_at"`
	Children      []string       `yaml:"children,omitempty"`
}

// AddChild registers a child ID. Duplicate registrations are ignored.
func (i *Instance) AddChild(id string) {
	for _, c := range i.Children {
		if c == id {
			return
		}
	}
	i.Children = append(i.Children, id)
}

// RemoveChild unregisters a child ID.
func (i *Instance) RemoveChild(id string) {
	for n, c := range i.Children {
		if c == id {
			i.Children = append(i.Children[:n], i.Children[n+1:]...)
			return
		}
	}
}

// Clone returns a deep copy. Registry reads hand out clones so callers
// can never mutate registry state without going through the supervisor.
func (i *Instance) Clone() *Instance {
	out := *i
	out.Children = append([]string(nil), i.Children...)
	return &out
}

// Lineage returns the ordinal chain encoded in the ID, without the role
// prefix. For "mgr_1_2" it returns "1_2".
func (i *Instance) Lineage() string {
	prefix := i.Role.Prefix() + "_"
	if len(i.ID) > len(prefix) && i.ID[:len(prefix)] == prefix {
		return i.ID[len(prefix):]
	}
	return i.ID
}

func (i *Instance) String() string {
	return fmt.Sprintf("%s (%s, %s)", i.ID, i.Role, i.Status)
}
