// Package config loads orchestrator configuration from TOML files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// LogLevel specifies the logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogFormat specifies the log output format.
type LogFormat string

const (
	LogFormatJSON LogFormat = "json"
	LogFormatText LogFormat = "text"
)

// PathsConfig holds path configuration, relative to the project directory
// unless absolute.
type PathsConfig struct {
	RunsDir    string `toml:"runs_dir"`
	LogsDir    string `toml:"logs_dir"`
	RegistryDB string `toml:"registry_db"`
}

// EngineConfig holds workflow engine defaults. Workflow definitions may
// override poll interval and timeout per run or per stage.
type EngineConfig struct {
	PollInterval   time.Duration `toml:"poll_interval"`
	DefaultTimeout time.Duration `toml:"default_timeout"`
	InstanceRole   string        `toml:"instance_role"`
	WorkspaceMode  string        `toml:"workspace_mode"`

	// TerminateOnCancel controls whether a run-level cancellation also
	// tears down every instance the run spawned.
	TerminateOnCancel bool `toml:"terminate_on_cancel"`
}

// MonitorConfig holds completion-monitor tuning, including the heuristic
// classifier's marker and deny-phrase lists. The deny list is empirical;
// it is configuration, not code, so deployments can tune it.
type MonitorConfig struct {
	BufferSize    int      `toml:"buffer_size"` // Rolling buffer cap, in bytes
	ReadLines     int      `toml:"read_lines"`  // Lines pulled per poll
	PromptMarkers []string `toml:"prompt_markers"`
	OutputMarkers []string `toml:"output_markers"`
	DenyPhrases   []string `toml:"deny_phrases"`

	// MaxExtraChars bounds how much non-signal text a matching line may
	// carry and still count as "the signal alone".
	MaxExtraChars int `toml:"max_extra_chars"`
}

// SupervisorConfig holds instance-supervisor settings.
type SupervisorConfig struct {
	// AgentCommand launches the agent program inside a fresh session.
	AgentCommand string `toml:"agent_command"`
	// ResumeFlag is appended to AgentCommand when restarting a dead
	// instance so the agent picks up its prior context.
	ResumeFlag string `toml:"resume_flag"`
	// SessionPrefix namespaces this orchestrator's sessions.
	SessionPrefix string `toml:"session_prefix"`
	// FallbackWorkdir is used when an instance's working directory is
	// inaccessible on restart. Empty means fail that instance.
	FallbackWorkdir string `toml:"fallback_workdir"`
	// StartupDelay is how long to wait after session creation before
	// the first keystroke injection.
	StartupDelay time.Duration `toml:"startup_delay"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  LogLevel  `toml:"level"`
	Format LogFormat `toml:"format"`
	File   string    `toml:"file"`
}

// Config is the main configuration struct for the orchestrator.
type Config struct {
	Version    string           `toml:"version"`
	Paths      PathsConfig      `toml:"paths"`
	Engine     EngineConfig     `toml:"engine"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Supervisor SupervisorConfig `toml:"supervisor"`
	Logging    LoggingConfig    `toml:"logging"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: "1",
		Paths: PathsConfig{
			RunsDir:    ".orc/runs",
			LogsDir:    ".orc/logs",
			RegistryDB: ".orc/registry.db",
		},
		Engine: EngineConfig{
			PollInterval:      2 * time.Second,
			DefaultTimeout:    5 * time.Minute,
			InstanceRole:      "specialist",
			WorkspaceMode:     "isolated",
			TerminateOnCancel: false,
		},
		Monitor: MonitorConfig{
			BufferSize:    16 * 1024,
			ReadLines:     50,
			PromptMarkers: []string{">", "$", "❯"},
			OutputMarkers: []string{"⏺", "●", "⎿"},
			DenyPhrases: []string{
				"say", "type", "write", "output", "document",
				"when you are done", "when finished", "respond with",
			},
			MaxExtraChars: 10,
		},
		Supervisor: SupervisorConfig{
			AgentCommand:    "claude --dangerously-skip-permissions",
			ResumeFlag:      "--continue",
			SessionPrefix:   "orc_",
			FallbackWorkdir: "",
			StartupDelay:    500 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  LogLevelInfo,
			Format: LogFormatJSON,
			File:   "",
		},
	}
}

// Load loads configuration from a file, merging with defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from the standard location in a
// project directory (.orc/config.toml).
func LoadFromDir(dir string) (*Config, error) {
	return Load(filepath.Join(dir, ".orc", "config.toml"))
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.PollInterval <= 0 {
		return fmt.Errorf("engine poll_interval must be positive")
	}
	if c.Engine.DefaultTimeout <= 0 {
		return fmt.Errorf("engine default_timeout must be positive")
	}
	if c.Monitor.BufferSize <= 0 {
		return fmt.Errorf("monitor buffer_size must be positive")
	}
	if c.Supervisor.AgentCommand == "" {
		return fmt.Errorf("supervisor agent_command is required")
	}
	return nil
}

// RunsDir returns the absolute runs directory path.
func (c *Config) RunsDir(baseDir string) string {
	return absPath(baseDir, c.Paths.RunsDir)
}

// LogsDir returns the absolute logs directory path.
func (c *Config) LogsDir(baseDir string) string {
	return absPath(baseDir, c.Paths.LogsDir)
}

// RegistryDB returns the absolute registry database path.
func (c *Config) RegistryDB(baseDir string) string {
	return absPath(baseDir, c.Paths.RegistryDB)
}

// LogFile returns the absolute log file path, or "" if file logging is
// disabled.
func (c *Config) LogFile(baseDir string) string {
	if c.Logging.File == "" {
		return ""
	}
	return absPath(c.LogsDir(baseDir), c.Logging.File)
}

func absPath(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
