package workflow

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	orcerrors "github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/errors"
	"github.com/michael-abdo/tmux-claude-mcp-server-sub003/internal/types"
)

// Load reads and validates a workflow definition file. Validation is
// eager: a malformed definition is rejected here, before any instance
// is spawned.
func Load(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeInvalidWorkflow, "opening workflow %s", path)
	}
	defer f.Close()
	return Parse(f, path)
}

// Parse decodes a workflow definition from a reader. Unknown fields are
// rejected so a typo like "on_sucess" fails loudly instead of silently
// dropping actions.
func Parse(r io.Reader, source string) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, orcerrors.Wrap(err, orcerrors.CodeInvalidWorkflow, "parsing workflow %s", source)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate performs the structural checks: unique resolvable stage IDs,
// non-empty triggers, known action kinds, and no dangling next_stage or
// goto references anywhere in the stage graph.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return orcerrors.New(orcerrors.CodeInvalidWorkflow, "workflow name is required")
	}
	if len(d.Stages) == 0 {
		return orcerrors.New(orcerrors.CodeInvalidWorkflow, "workflow %s has no stages", d.Name)
	}
	if d.Settings.InstanceRole != "" {
		if _, valid := types.ParseRole(d.Settings.InstanceRole); !valid {
			return orcerrors.New(orcerrors.CodeInvalidWorkflow,
				"unknown instance_role %q", d.Settings.InstanceRole)
		}
	}
	if d.Settings.WorkspaceMode != "" && !types.WorkspaceMode(d.Settings.WorkspaceMode).Valid() {
		return orcerrors.New(orcerrors.CodeInvalidWorkflow,
			"unknown workspace_mode %q", d.Settings.WorkspaceMode)
	}

	ids := make(map[string]bool, len(d.Stages))
	for i := range d.Stages {
		stage := &d.Stages[i]
		if stage.ID == "" {
			return orcerrors.New(orcerrors.CodeInvalidWorkflow, "stage %d has no id", i)
		}
		if ids[stage.ID] {
			return orcerrors.New(orcerrors.CodeInvalidWorkflow, "duplicate stage id %q", stage.ID)
		}
		ids[stage.ID] = true
	}

	if d.EntryStage != "" && !ids[d.EntryStage] {
		return orcerrors.New(orcerrors.CodeDanglingStage, "entry_stage %q does not exist", d.EntryStage)
	}

	for i := range d.Stages {
		stage := &d.Stages[i]
		if len(stage.AllTriggers()) == 0 {
			return orcerrors.New(orcerrors.CodeInvalidWorkflow,
				"stage %q has no trigger keywords", stage.ID)
		}
		for _, trigger := range stage.AllTriggers() {
			if err := checkStageRef(ids, stage.ID, trigger.NextStage); err != nil {
				return err
			}
		}
		if err := validateActions(ids, stage.ID, "on_success", stage.OnSuccess); err != nil {
			return err
		}
		if err := validateActions(ids, stage.ID, "on_timeout", stage.OnTimeout); err != nil {
			return err
		}
	}
	return nil
}

func validateActions(ids map[string]bool, stageID, list string, actions []Action) error {
	for i := range actions {
		action := &actions[i]
		where := fmt.Sprintf("stage %q %s[%d]", stageID, list, i)

		if !action.Kind.Valid() {
			return orcerrors.New(orcerrors.CodeUnknownAction,
				"%s: unknown action %q", where, action.Kind)
		}

		switch action.Kind {
		case ActionSendPrompt:
			if action.Prompt == "" {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: send_prompt needs a prompt", where)
			}
		case ActionSpawn:
			if action.Role != "" {
				if _, valid := types.ParseRole(action.Role); !valid {
					return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: unknown role %q", where, action.Role)
				}
			}
		case ActionRunScript:
			if action.Script == "" {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: run_script needs a script", where)
			}
		case ActionWait:
			if action.Seconds <= 0 {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: wait needs positive seconds", where)
			}
		case ActionConditional:
			if action.Condition == "" {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: conditional needs a condition", where)
			}
			if err := validateActions(ids, stageID, list+".then", action.Then); err != nil {
				return err
			}
			if err := validateActions(ids, stageID, list+".else", action.Else); err != nil {
				return err
			}
		case ActionSetVar:
			if action.Key == "" {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: set_var needs a key", where)
			}
		case ActionGotoStage:
			if action.Stage == "" {
				return orcerrors.New(orcerrors.CodeInvalidWorkflow, "%s: goto_stage needs a stage", where)
			}
		}

		if err := checkStageRef(ids, stageID, action.Stage); err != nil {
			return err
		}
	}
	return nil
}

func checkStageRef(ids map[string]bool, fromStage, ref string) error {
	if ref == "" || ids[ref] {
		return nil
	}
	return orcerrors.New(orcerrors.CodeDanglingStage,
		"stage %q references missing stage %q", fromStage, ref).
		WithDetail("from", fromStage).WithDetail("ref", ref)
}

// DescribeSignals renders a stage's expected signals for recovery
// prompts ("DONE_A" or "DONE_A or DONE_B").
func DescribeSignals(stage *Stage) string {
	return strings.Join(stage.Signals(), " or ")
}
