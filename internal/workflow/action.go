package workflow

// ActionKind is the closed catalog of side-effecting operations a stage
// may dispatch. Unknown kinds are rejected when the definition loads,
// before anything is spawned.
type ActionKind string

const (
	ActionSendPrompt       ActionKind = "send_prompt"
	ActionSpawn            ActionKind = "spawn"
	ActionTerminate        ActionKind = "terminate"
	ActionRunScript        ActionKind = "run_script"
	ActionLog              ActionKind = "log"
	ActionWait             ActionKind = "wait"
	ActionConditional      ActionKind = "conditional"
	ActionSetVar           ActionKind = "set_var"
	ActionReturnToBlank    ActionKind = "return_to_blank_state"
	ActionCompleteWorkflow ActionKind = "complete_workflow"
	ActionGotoStage        ActionKind = "goto_stage"
)

// Valid returns true if this is a recognized action kind.
func (k ActionKind) Valid() bool {
	switch k {
	case ActionSendPrompt, ActionSpawn, ActionTerminate, ActionRunScript,
		ActionLog, ActionWait, ActionConditional, ActionSetVar,
		ActionReturnToBlank, ActionCompleteWorkflow, ActionGotoStage:
		return true
	}
	return false
}

// Action is one entry in a stage's success or timeout action list.
// Fields beyond Kind are kind-specific; templates in string fields are
// interpolated against the workflow context at execution time.
type Action struct {
	Kind ActionKind `yaml:"action"`

	// send_prompt
	Prompt string `yaml:"prompt,omitempty"`
	Target string `yaml:"target,omitempty"` // Instance ID or context ref; empty = current instance

	// spawn
	Role    string `yaml:"role,omitempty"`
	Workdir string `yaml:"workdir,omitempty"`
	Context string `yaml:"context,omitempty"` // Initial prompt for the new instance
	Bind    string `yaml:"bind,omitempty"`    // Context key that receives the new instance ID

	// terminate
	Instance string `yaml:"instance,omitempty"` // Empty = current instance
	Cascade  *bool  `yaml:"cascade,omitempty"`  // Default true

	// run_script
	Script string `yaml:"script,omitempty"`
	Name   string `yaml:"name,omitempty"` // Results land under actions.<name>

	// log
	Message string `yaml:"message,omitempty"`

	// wait
	Seconds float64 `yaml:"seconds,omitempty"`

	// conditional
	Condition string   `yaml:"condition,omitempty"` // Template; truthy after interpolation
	Then      []Action `yaml:"then,omitempty"`
	Else      []Action `yaml:"else,omitempty"`

	// set_var
	Key   string `yaml:"key,omitempty"`
	Value string `yaml:"value,omitempty"`

	// goto_stage, return_to_blank_state
	Stage string `yaml:"stage,omitempty"`
}

// CascadeOrDefault returns the cascade flag, defaulting to true so
// terminating an instance never leaves orphaned children.
func (a *Action) CascadeOrDefault() bool {
	if a.Cascade == nil {
		return true
	}
	return *a.Cascade
}
