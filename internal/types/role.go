// Package types defines the shared data model for the orchestrator:
// instance roles, lifecycle states, and workflow run records.
package types

// Role identifies an instance's privilege tier. Privilege is strictly
// ordered: executive > manager > specialist. Only executives and managers
// may create children or invoke supervisory operations; specialists are
// denied all of them.
type Role string

const (
	RoleExecutive  Role = "executive"
	RoleManager    Role = "manager"
	RoleSpecialist Role = "specialist"
)

// Valid returns true if this is a recognized role.
func (r Role) Valid() bool {
	switch r {
	case RoleExecutive, RoleManager, RoleSpecialist:
		return true
	}
	return false
}

// Level returns the privilege level. Higher means more privileged.
func (r Role) Level() int {
	switch r {
	case RoleExecutive:
		return 3
	case RoleManager:
		return 2
	case RoleSpecialist:
		return 1
	}
	return 0
}

// CanSupervise reports whether the role may call supervisory operations
// (spawn, send, read, list, terminate, restart). This is a hard invariant:
// specialists are unconditionally denied, regardless of arguments.
func (r Role) CanSupervise() bool {
	return r == RoleExecutive || r == RoleManager
}

// CanSpawn reports whether r may create a child with the given role.
// A parent must have equal-or-higher privilege than its child.
func (r Role) CanSpawn(child Role) bool {
	return r.CanSupervise() && child.Valid() && r.Level() >= child.Level()
}

// Prefix returns the hierarchical-id prefix for the role.
func (r Role) Prefix() string {
	switch r {
	case RoleExecutive:
		return "exec"
	case RoleManager:
		return "mgr"
	case RoleSpecialist:
		return "spec"
	}
	return "unknown"
}

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.Valid()
}
