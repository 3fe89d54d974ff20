// Package bridge defines the session transport boundary: the only place
// the orchestration core talks to the outside terminal-multiplexer layer.
// Any transport satisfying the Bridge contract is interchangeable.
package bridge

import "context"

// Op identifies a transport operation.
type Op string

const (
	OpSpawn     Op = "spawn"
	OpSend      Op = "send"
	OpRead      Op = "read"
	OpList      Op = "list"
	OpTerminate Op = "terminate"
	OpRestart   Op = "restart"
)

// Request is one transport call. Fields beyond Op and Session are
// op-specific; unused fields are ignored.
type Request struct {
	Op      Op                `json:"op"`
	Session string            `json:"session,omitempty"`
	Workdir string            `json:"workdir,omitempty"` // spawn, restart
	Env     map[string]string `json:"env,omitempty"`     // spawn
	Command string            `json:"command,omitempty"` // spawn, restart: program to run in the session
	Text    string            `json:"text,omitempty"`    // send
	Lines   int               `json:"lines,omitempty"`   // read
	Prefix  string            `json:"prefix,omitempty"`  // list: session name prefix filter
}

// Response is the result of one transport call.
type Response struct {
	Success  bool     `json:"success"`
	Output   string   `json:"output,omitempty"`   // read
	Sessions []string `json:"sessions,omitempty"` // list
	Error    string   `json:"error,omitempty"`
}

// Bridge is the session transport contract. Implementations must be
// stateless per call and bound by a call-level timeout; a failed call
// returns either a transport error or a Response with Success=false.
type Bridge interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}
