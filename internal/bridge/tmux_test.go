package bridge

import (
	"context"
	"testing"
)

func TestCall_UnknownOp(t *testing.T) {
	b := NewTmuxBridge()
	_, err := b.Call(context.Background(), &Request{Op: Op("teleport")})
	if err == nil {
		t.Fatal("Call() with unknown op should error")
	}
}

func TestCall_NilRequest(t *testing.T) {
	b := NewTmuxBridge()
	if _, err := b.Call(context.Background(), nil); err == nil {
		t.Fatal("Call(nil) should error")
	}
}

func TestCall_MissingSession(t *testing.T) {
	b := NewTmuxBridge()
	for _, op := range []Op{OpSpawn, OpSend, OpRead, OpTerminate} {
		t.Run(string(op), func(t *testing.T) {
			if _, err := b.Call(context.Background(), &Request{Op: op}); err == nil {
				t.Errorf("Call(%s) without session should error", op)
			}
		})
	}
}

func TestLastLines(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"fewer lines than n", "a\nb", 5, "a\nb"},
		{"trims to last n", "a\nb\nc\nd", 2, "c\nd"},
		{"zero keeps all", "a\nb\nc", 0, "a\nb\nc"},
		{"strips trailing newline", "a\nb\n", 2, "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := lastLines(tt.in, tt.n); got != tt.want {
				t.Errorf("lastLines(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}
