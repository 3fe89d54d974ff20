// Package engine drives workflow runs: it walks the stage graph,
// delegates instance work to the supervisor, waits on completion
// monitors, and dispatches stage action lists.
package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// Run is the mutable state of one workflow execution. It is snapshotted
// to YAML after every stage transition for crash diagnostics.
type Run struct {
	ID            string              `yaml:"id"`
	Workflow      string              `yaml:"workflow"`
	Status        types.RunStatus     `yaml:"status"`
	CurrentStage  string              `yaml:"current_stage,omitempty"`
	InstanceID    string              `yaml:"instance_id,omitempty"`
	FailureReason string              `yaml:"failure_reason,omitempty"`
	StartedAt     time.Time           `yaml:"started_at"`
	EndedAt       time.Time           `yaml:"ended_at,omitempty"`
	History       []types.StageRecord `yaml:"history,omitempty"`

	// LastBuffer is the monitor buffer from the most recent wait, kept
	// for timeout post-mortems.
	LastBuffer string `yaml:"last_buffer,omitempty"`

	// Context is the workflow context snapshot taken with the run.
	Context map[string]any `yaml:"context,omitempty"`
}

// NewRun creates a running Run for the named workflow.
func NewRun(workflowName string) *Run {
	return &Run{
		ID:        uuid.NewString(),
		Workflow:  workflowName,
		Status:    types.RunStatusRunning,
		StartedAt: time.Now(),
	}
}

// Record appends a stage history entry.
func (r *Run) Record(rec types.StageRecord) {
	r.History = append(r.History, rec)
}

// Finish marks the run terminal.
func (r *Run) Finish(status types.RunStatus, reason string) {
	r.Status = status
	r.FailureReason = reason
	r.EndedAt = time.Now()
}

// SnapshotWriter persists run state to <dir>/<run-id>.yaml, atomically
// (temp file plus rename), so a crash mid-write never corrupts the last
// good snapshot.
type SnapshotWriter struct {
	dir string
}

// NewSnapshotWriter creates a writer rooted at dir. An empty dir
// disables snapshots.
func NewSnapshotWriter(dir string) *SnapshotWriter {
	return &SnapshotWriter{dir: dir}
}

// Write persists the run. Context should be the workflow context
// snapshot taken at the same transition.
func (w *SnapshotWriter) Write(run *Run, context map[string]any) error {
	if w == nil || w.dir == "" {
		return nil
	}
	run.Context = context

	data, err := yaml.Marshal(run)
	if err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "marshaling run %s", run.ID)
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "creating runs dir")
	}

	path := filepath.Join(w.dir, run.ID+".yaml")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "writing run snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeStoreIO, "publishing run snapshot")
	}
	return nil
}

// Path returns where the run's snapshot lives.
func (w *SnapshotWriter) Path(runID string) string {
	return filepath.Join(w.dir, runID+".yaml")
}

// LoadRun reads a run snapshot back, for post-mortem inspection.
func LoadRun(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "reading run snapshot %s", path)
	}
	var run Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeStoreIO, "parsing run snapshot %s", path)
	}
	return &run, nil
}

// Summary renders a one-line human summary of the run.
func (r *Run) Summary() string {
	switch r.Status {
	case types.RunStatusCompleted:
		return fmt.Sprintf("run %s completed after %d stage(s)", r.ID, len(r.History))
	case types.RunStatusFailed:
		return fmt.Sprintf("run %s failed at stage %s: %s", r.ID, r.CurrentStage, r.FailureReason)
	default:
		return fmt.Sprintf("run %s %s at stage %s", r.ID, r.Status, r.CurrentStage)
	}
}
