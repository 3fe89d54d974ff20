package engine

import (
	"context"
	"time"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/supervisor"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/workflow"
)

// control is what an action list hands back to the stage loop: an
// explicit jump, a completion, or neither. The first redirecting action
// in a list wins and the rest of the list is skipped.
type control struct {
	gotoStage string
	complete  bool
}

func (c control) redirects() bool {
	return c.gotoStage != "" || c.complete
}

// executeActions dispatches a stage's action list in order. Action
// errors stop the list and surface to the stage loop, which routes them
// to the run's failure path.
func (e *Engine) executeActions(ctx context.Context, st *runState, actions []workflow.Action) (control, error) {
	for i := range actions {
		action := &actions[i]
		ctrl, err := e.executeAction(ctx, st, action)
		if err != nil {
			return control{}, err
		}
		if ctrl.redirects() {
			return ctrl, nil
		}
	}
	return control{}, nil
}

func (e *Engine) executeAction(ctx context.Context, st *runState, action *workflow.Action) (control, error) {
	switch action.Kind {
	case workflow.ActionSendPrompt:
		target := st.wfctx.Interpolate(action.Target)
		if target == "" {
			target = st.run.InstanceID
		}
		return control{}, e.sendWithRecovery(ctx, target, st.wfctx.Interpolate(action.Prompt))

	case workflow.ActionSpawn:
		return control{}, e.spawnAction(ctx, st, action)

	case workflow.ActionTerminate:
		target := st.wfctx.Interpolate(action.Instance)
		if target == "" {
			target = st.run.InstanceID
		}
		if target == "" {
			return control{}, nil
		}
		if err := e.sup.Terminate(ctx, engineRole, target, action.CascadeOrDefault()); err != nil {
			return control{}, err
		}
		e.dropSeed(target)
		if target == st.run.InstanceID {
			st.run.InstanceID = ""
		}
		return control{}, nil

	case workflow.ActionRunScript:
		return control{}, e.scriptAction(ctx, st, action)

	case workflow.ActionLog:
		e.logger.Info(st.wfctx.Interpolate(action.Message),
			"run", st.run.ID, "stage", st.run.CurrentStage)
		return control{}, nil

	case workflow.ActionWait:
		select {
		case <-time.After(time.Duration(action.Seconds * float64(time.Second))):
			return control{}, nil
		case <-ctx.Done():
			return control{}, ctx.Err()
		}

	case workflow.ActionConditional:
		if workflow.Truthy(st.wfctx.Interpolate(action.Condition)) {
			return e.executeActions(ctx, st, action.Then)
		}
		return e.executeActions(ctx, st, action.Else)

	case workflow.ActionSetVar:
		st.wfctx.Set(action.Key, st.wfctx.Interpolate(action.Value))
		return control{}, nil

	case workflow.ActionReturnToBlank:
		// Park the bound instance and jump to the baseline stage. The
		// session stays up; re-entering the stage re-arms its monitor
		// on the same instance.
		if st.run.InstanceID != "" {
			if err := e.sup.MarkIdle(engineRole, st.run.InstanceID); err != nil {
				e.logger.Warn("parking instance failed",
					"run", st.run.ID, "instance", st.run.InstanceID, "error", err)
			}
		}
		return control{gotoStage: action.Stage}, nil

	case workflow.ActionCompleteWorkflow:
		return control{complete: true}, nil

	case workflow.ActionGotoStage:
		return control{gotoStage: action.Stage}, nil
	}

	// Unreachable for definitions that passed validation.
	return control{}, orcerrors.New(orcerrors.CodeUnknownAction, "unknown action %q", action.Kind)
}

func (e *Engine) spawnAction(ctx context.Context, st *runState, action *workflow.Action) error {
	role := types.RoleSpecialist
	if action.Role != "" {
		role, _ = types.ParseRole(action.Role)
	}
	workdir := st.wfctx.Interpolate(action.Workdir)
	if workdir == "" {
		workdir = st.opts.Workdir
	}

	inst, err := e.sup.Spawn(ctx, engineRole, supervisor.SpawnSpec{
		Role:     role,
		Workdir:  workdir,
		Context:  st.wfctx.Interpolate(action.Context),
		ParentID: st.run.InstanceID,
	})
	if err != nil {
		return err
	}
	if action.Bind != "" {
		st.wfctx.Set(action.Bind, inst.ID)
	}
	return nil
}

func (e *Engine) scriptAction(ctx context.Context, st *runState, action *workflow.Action) error {
	res, err := e.shell.Run(ctx, st.wfctx.Interpolate(action.Script), st.opts.Workdir, nil)
	if err != nil {
		return orcerrors.Wrap(err, orcerrors.CodeActionFailed, "run_script %q", action.Name)
	}

	name := action.Name
	if name == "" {
		name = "last"
	}
	st.wfctx.Set("actions."+name+".stdout", res.Stdout)
	st.wfctx.Set("actions."+name+".stderr", res.Stderr)
	st.wfctx.Set("actions."+name+".exit_code", res.ExitCode)
	return nil
}
