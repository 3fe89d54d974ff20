package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestOrcError_Error(t *testing.T) {
	err := New(CodePermissionDenied, "role %s denied", "specialist")
	want := "[PERM_001] role specialist denied"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestOrcError_Wrap(t *testing.T) {
	cause := errors.New("no such session")
	err := Wrap(cause, CodeDeliverySessionGone, "send to spec_1_1_1 failed")

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if !strings.Contains(err.Error(), "no such session") {
		t.Errorf("Error() = %q, want cause included", err.Error())
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"orc error", New(CodeSignalTimeout, "deadline"), CodeSignalTimeout},
		{"wrapped orc error", fmt.Errorf("outer: %w", New(CodeSpawnTransport, "tmux refused")), CodeSpawnTransport},
		{"plain error", errors.New("plain"), ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	err := New(CodeRestartNotDead, "instance is active")
	if !HasCode(err, CodeRestartNotDead) {
		t.Error("HasCode should match the error's own code")
	}
	if HasCode(err, CodeRestartFailed) {
		t.Error("HasCode should not match a different code")
	}
}

func TestIsPermission(t *testing.T) {
	if !IsPermission(New(CodePermissionDenied, "denied")) {
		t.Error("PERM_001 should be a permission error")
	}
	if !IsPermission(New(CodeWorkdirInaccessible, "no access")) {
		t.Error("PERM_002 should be a permission error")
	}
	if IsPermission(New(CodeSpawnTransport, "refused")) {
		t.Error("SPAWN_001 should not be a permission error")
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodeInstanceNotFound, "not found").
		WithDetail("instance_id", "mgr_1_2").
		WithDetail("op", "send")

	if err.Details["instance_id"] != "mgr_1_2" {
		t.Errorf("Details[instance_id] = %v, want mgr_1_2", err.Details["instance_id"])
	}
	if !strings.Contains(err.JSON(), `"instance_id":"mgr_1_2"`) {
		t.Errorf("JSON() = %s, want instance_id detail", err.JSON())
	}
}
