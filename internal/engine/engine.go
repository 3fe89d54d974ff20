package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/config"
	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/executor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/monitor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/workflow"
)

// engineRole is the privilege the engine acts with when it drives
// instances on behalf of a run.
const engineRole = types.RoleExecutive

// Engine executes workflow definitions against live instances.
type Engine struct {
	cfg    *config.Config
	sup    *supervisor.Supervisor
	shell  *executor.ShellExecutor
	snaps  *SnapshotWriter
	logger *slog.Logger

	// seeds carries monitor positions across waits per instance, so a
	// signal still visible in a pane from an earlier stage cannot
	// re-trigger a later wait.
	mu    sync.Mutex
	seeds map[string]*monitor.State
}

// New creates an engine. snaps may be nil to disable run snapshots.
func New(cfg *config.Config, sup *supervisor.Supervisor, snaps *SnapshotWriter, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		sup:    sup,
		shell:  executor.NewShellExecutor(),
		snaps:  snaps,
		logger: logger,
		seeds:  make(map[string]*monitor.State),
	}
}

func (e *Engine) seed(instanceID string) *monitor.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeds[instanceID]
}

func (e *Engine) setSeed(instanceID string, s *monitor.State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seeds[instanceID] = s
}

func (e *Engine) dropSeed(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.seeds, instanceID)
}

// Options are per-run overrides.
type Options struct {
	Workdir string
	Vars    map[string]string // Merged over the definition's vars
}

// runState is the engine's working state for one run.
type runState struct {
	def        *workflow.Definition
	run        *Run
	wfctx      *workflow.Context
	opts       Options
	stageStart time.Time
}

// Execute runs the workflow to a terminal status. The returned Run is
// always terminal; the error reports the infrastructure failure that
// ended the run early, if any. Cancelling ctx cancels the active
// monitor wait and, when configured, tears down the run's instances.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, opts Options) (*Run, error) {
	st := &runState{
		def:   def,
		run:   NewRun(def.Name),
		wfctx: workflow.NewContext(),
		opts:  opts,
	}
	for k, v := range def.Vars {
		st.wfctx.Set("vars."+k, v)
	}
	for k, v := range opts.Vars {
		st.wfctx.Set("vars."+k, v)
	}

	e.logger.Info("run started", "run", st.run.ID, "workflow", def.Name)
	err := e.loop(ctx, st)
	if err != nil && !st.run.Status.IsTerminal() {
		st.run.Finish(types.RunStatusFailed, err.Error())
	}
	if !st.run.Status.IsTerminal() {
		st.run.Finish(types.RunStatusCompleted, "")
	}
	e.snapshot(st)

	if ctx.Err() != nil && e.cfg.Engine.TerminateOnCancel {
		e.teardown(st)
	}
	e.logger.Info("run finished", "run", st.run.ID, "status", st.run.Status)
	return st.run, err
}

// loop walks the stage graph until a stage resolves to no next stage,
// an action completes the workflow, or something fails. Cycles in the
// graph are legal and run unbounded.
func (e *Engine) loop(ctx context.Context, st *runState) error {
	stage := st.def.Entry()
	timeouts := 0 // Consecutive timeouts on the current stage

	for stage != nil {
		if ctx.Err() != nil {
			st.run.Finish(types.RunStatusFailed, "run cancelled")
			return ctx.Err()
		}
		st.run.CurrentStage = stage.ID

		if err := e.ensureInstance(ctx, st); err != nil {
			st.run.Finish(types.RunStatusFailed, err.Error())
			return err
		}

		prompt := st.wfctx.Interpolate(stage.Prompt)
		if timeouts > 0 {
			prompt = recoveryPrompt(stage)
		}
		if prompt != "" {
			if err := e.sendWithRecovery(ctx, st.run.InstanceID, prompt); err != nil {
				st.run.Finish(types.RunStatusFailed, err.Error())
				return err
			}
		}

		event, buffer, ok := e.wait(ctx, st, stage)
		if !ok {
			st.run.Finish(types.RunStatusFailed, "run cancelled")
			return ctx.Err()
		}
		st.run.LastBuffer = buffer

		switch event.Kind {
		case monitor.EventMatched:
			timeouts = 0
			next, err := e.stageMatched(ctx, st, stage, event, buffer)
			if err != nil {
				st.run.Finish(types.RunStatusFailed, err.Error())
				return err
			}
			e.snapshot(st)
			stage = st.def.Stage(next)

		case monitor.EventTimedOut:
			timeouts++
			next, failed, err := e.stageTimedOut(ctx, st, stage, timeouts)
			if err != nil {
				st.run.Finish(types.RunStatusFailed, err.Error())
				return err
			}
			e.snapshot(st)
			if failed {
				return orcerrors.New(orcerrors.CodeSignalTimeout,
					"stage %s timed out waiting for %s", stage.ID, workflow.DescribeSignals(stage))
			}
			if next != stage.ID {
				timeouts = 0
			}
			stage = st.def.Stage(next)
		}
	}
	return nil
}

// stageMatched records the completion, feeds the context, runs the
// success actions, and resolves the next stage. Precedence: an action's
// redirect beats the fired trigger's route, which beats the stage
// default. Empty means the workflow is done.
func (e *Engine) stageMatched(ctx context.Context, st *runState, stage *workflow.Stage, event monitor.Event, buffer string) (string, error) {
	st.run.Record(types.StageRecord{
		Stage:     stage.ID,
		Outcome:   types.OutcomeMatched,
		Signal:    event.Signal,
		Snippet:   event.Snippet,
		StartedAt: st.stageStart,
		EndedAt:   time.Now(),
	})

	st.wfctx.Set("stages."+stage.ID+".output", buffer)
	st.wfctx.Set("stages."+stage.ID+".signal", event.Signal)
	st.wfctx.Set("stage.output", buffer)

	ctrl, err := e.executeActions(ctx, st, stage.OnSuccess)
	if err != nil {
		ctrl, err = e.routeActionError(ctx, st, stage, err)
		if err != nil {
			return "", err
		}
	}
	if ctrl.complete {
		st.run.Finish(types.RunStatusCompleted, "")
		return "", nil
	}
	if ctrl.gotoStage != "" {
		return ctrl.gotoStage, nil
	}
	return stage.NextFor(event.Signal), nil
}

// stageTimedOut runs the timeout actions and decides between recovery
// and failure. Without a redirecting timeout action, the stage gets one
// recovery prompt; a second consecutive timeout fails the run unless the
// stage opts into unlimited retries.
func (e *Engine) stageTimedOut(ctx context.Context, st *runState, stage *workflow.Stage, timeouts int) (next string, failed bool, err error) {
	st.run.Record(types.StageRecord{
		Stage:     stage.ID,
		Outcome:   types.OutcomeTimedOut,
		StartedAt: st.stageStart,
		EndedAt:   time.Now(),
	})

	ctrl, err := e.executeActions(ctx, st, stage.OnTimeout)
	if err != nil {
		return "", false, err
	}
	if ctrl.complete {
		st.run.Finish(types.RunStatusCompleted, "")
		return "", false, nil
	}
	if ctrl.gotoStage != "" {
		return ctrl.gotoStage, false, nil
	}

	if stage.UnlimitedRetries || timeouts < 2 {
		e.logger.Warn("stage timed out, sending recovery prompt",
			"run", st.run.ID, "stage", stage.ID, "attempt", timeouts)
		return stage.ID, false, nil
	}

	st.run.Finish(types.RunStatusFailed,
		"stage "+stage.ID+" timed out twice waiting for "+workflow.DescribeSignals(stage))
	return "", true, nil
}

// ensureInstance binds the run to a live instance, spawning one when
// none is bound or the bound one's session has died.
func (e *Engine) ensureInstance(ctx context.Context, st *runState) error {
	if st.run.InstanceID != "" && e.sup.IsActive(ctx, st.run.InstanceID) {
		return nil
	}

	role := types.RoleSpecialist
	if r := st.def.Settings.InstanceRole; r != "" {
		role, _ = types.ParseRole(r)
	} else if r := e.cfg.Engine.InstanceRole; r != "" {
		role, _ = types.ParseRole(r)
	}

	mode := types.WorkspaceMode(st.def.Settings.WorkspaceMode)
	if mode == "" {
		mode = types.WorkspaceMode(e.cfg.Engine.WorkspaceMode)
	}

	inst, err := e.sup.Spawn(ctx, engineRole, supervisor.SpawnSpec{
		Role:          role,
		Workdir:       st.opts.Workdir,
		WorkspaceMode: mode,
	})
	if err != nil {
		return err
	}
	st.run.InstanceID = inst.ID
	st.wfctx.Set("instance.id", inst.ID)
	e.logger.Info("instance bound to run", "run", st.run.ID, "instance", inst.ID)
	return nil
}

// wait blocks on one monitor until it emits its terminal event. ok is
// false when the wait was cancelled before any event.
func (e *Engine) wait(ctx context.Context, st *runState, stage *workflow.Stage) (monitor.Event, string, bool) {
	st.stageStart = time.Now()

	m := monitor.New(
		&outputReader{sup: e.sup},
		monitor.NewClassifier(e.cfg.Monitor),
		st.run.InstanceID,
		monitor.Config{
			Signals:      stage.Signals(),
			PollInterval: st.def.Settings.PollIntervalDuration(e.cfg.Engine.PollInterval),
			Timeout:      stage.TimeoutDuration(st.def.Settings.TimeoutDuration(e.cfg.Engine.DefaultTimeout)),
			BufferSize:   e.cfg.Monitor.BufferSize,
			ReadLines:    e.cfg.Monitor.ReadLines,
		},
		e.logger,
	)
	defer m.Stop()
	m.Resume(e.seed(st.run.InstanceID))

	event, open := <-m.Start(ctx)
	if open {
		e.setSeed(st.run.InstanceID, m.Checkpoint())
	}
	return event, m.Buffer(), open
}

// sendWithRecovery delivers a prompt, and on a gone-session delivery
// failure makes one restart attempt before retrying. A second failure
// escalates with the original error.
func (e *Engine) sendWithRecovery(ctx context.Context, instanceID, text string) error {
	err := e.sup.Send(ctx, engineRole, instanceID, text)
	if err == nil || !orcerrors.HasCode(err, orcerrors.CodeDeliverySessionGone) {
		return err
	}

	e.logger.Warn("delivery failed, attempting restart", "instance", instanceID, "error", err)
	if sweepErr := e.sup.SweepLiveness(ctx); sweepErr != nil {
		e.logger.Warn("liveness sweep failed", "error", sweepErr)
		return err
	}
	if restartErr := e.sup.Restart(ctx, engineRole, instanceID); restartErr != nil {
		e.logger.Warn("restart failed", "instance", instanceID, "error", restartErr)
		return err
	}
	e.dropSeed(instanceID)
	return e.sup.Send(ctx, engineRole, instanceID, text)
}

// routeActionError sends an error from a stage's success actions through
// the stage's failure path. The failure path's redirect, if any, decides
// where the run goes next; a failure path that is absent, errors, or
// does not redirect escalates the original error.
func (e *Engine) routeActionError(ctx context.Context, st *runState, stage *workflow.Stage, cause error) (control, error) {
	if len(stage.OnTimeout) == 0 {
		return control{}, cause
	}
	e.logger.Warn("success action failed, routing to failure path",
		"run", st.run.ID, "stage", stage.ID, "error", cause)
	ctrl, err := e.executeActions(ctx, st, stage.OnTimeout)
	if err != nil {
		return control{}, err
	}
	if !ctrl.redirects() {
		return control{}, cause
	}
	return ctrl, nil
}

func (e *Engine) snapshot(st *runState) {
	if err := e.snaps.Write(st.run, st.wfctx.Snapshot()); err != nil {
		e.logger.Warn("run snapshot failed", "run", st.run.ID, "error", err)
	}
}

// teardown cascade-terminates the run's instance tree after a
// cancellation. It uses a fresh context since the run's is already
// done.
func (e *Engine) teardown(st *runState) {
	if st.run.InstanceID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.sup.Terminate(ctx, engineRole, st.run.InstanceID, true); err != nil {
		e.logger.Warn("teardown failed", "run", st.run.ID, "error", err)
	}
	e.dropSeed(st.run.InstanceID)
}

// outputReader adapts the supervisor's role-checked Read to the
// monitor's reader interface.
type outputReader struct {
	sup *supervisor.Supervisor
}

func (r *outputReader) Read(ctx context.Context, instanceID string, maxLines int) (string, error) {
	return r.sup.Read(ctx, engineRole, instanceID, maxLines)
}

// recoveryPrompt reiterates the expected signal after a timeout.
func recoveryPrompt(stage *workflow.Stage) string {
	return "Please finish the current task and respond with " +
		workflow.DescribeSignals(stage) + " on its own line."
}
