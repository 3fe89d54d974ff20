package types

import "time"

// RunStatus represents the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed" // Reached via an explicit completion action
	RunStatusFailed    RunStatus = "failed"    // Unrecovered timeout or unhandled action error
)

// IsTerminal returns true if this status is final.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// StageOutcome describes how a stage wait ended.
type StageOutcome string

const (
	OutcomeMatched  StageOutcome = "matched"
	OutcomeTimedOut StageOutcome = "timed_out"
)

// StageRecord is one entry in a run's per-stage history.
type StageRecord struct {
	Stage     string       `yaml:"stage"`
	Outcome   StageOutcome `yaml:"outcome"`
	Signal    string       `yaml:"signal,omitempty"`  // Trigger keyword that fired
	Snippet   string       `yaml:"snippet,omitempty"` // Matched output line
	StartedAt time.Time    `yaml:"started_at"`
	EndedAt   time.Time    `yaml:"ended_at"`
}

// Duration returns the wall time the stage was active.
func (r *StageRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
