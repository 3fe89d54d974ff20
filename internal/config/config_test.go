package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
	if cfg.Engine.PollInterval != 2*time.Second {
		t.Errorf("poll_interval = %v, want 2s", cfg.Engine.PollInterval)
	}
	if cfg.Supervisor.SessionPrefix != "orc_" {
		t.Errorf("session_prefix = %q", cfg.Supervisor.SessionPrefix)
	}
	if len(cfg.Monitor.DenyPhrases) == 0 {
		t.Error("default deny phrase list is empty")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.DefaultTimeout != 5*time.Minute {
		t.Errorf("default_timeout = %v, want default", cfg.Engine.DefaultTimeout)
	}
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	doc := `
[engine]
poll_interval = "500ms"
terminate_on_cancel = true

[supervisor]
session_prefix = "team_"

[monitor]
max_extra_chars = 4
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.PollInterval != 500*time.Millisecond {
		t.Errorf("poll_interval = %v, want 500ms", cfg.Engine.PollInterval)
	}
	if !cfg.Engine.TerminateOnCancel {
		t.Error("terminate_on_cancel not applied")
	}
	if cfg.Supervisor.SessionPrefix != "team_" {
		t.Errorf("session_prefix = %q, want team_", cfg.Supervisor.SessionPrefix)
	}
	if cfg.Monitor.MaxExtraChars != 4 {
		t.Errorf("max_extra_chars = %d, want 4", cfg.Monitor.MaxExtraChars)
	}
	// Untouched sections keep their defaults.
	if cfg.Engine.DefaultTimeout != 5*time.Minute {
		t.Errorf("default_timeout = %v, want default preserved", cfg.Engine.DefaultTimeout)
	}
	if cfg.Supervisor.AgentCommand == "" {
		t.Error("agent_command default lost in merge")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("not = [valid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted invalid TOML")
	}
}

func TestConfig_Paths(t *testing.T) {
	cfg := Default()
	if got := cfg.RunsDir("/proj"); got != "/proj/.orc/runs" {
		t.Errorf("RunsDir = %q", got)
	}
	if got := cfg.RegistryDB("/proj"); got != "/proj/.orc/registry.db" {
		t.Errorf("RegistryDB = %q", got)
	}

	cfg.Paths.RunsDir = "/abs/runs"
	if got := cfg.RunsDir("/proj"); got != "/abs/runs" {
		t.Errorf("absolute RunsDir = %q, want passthrough", got)
	}

	if got := cfg.LogFile("/proj"); got != "" {
		t.Errorf("LogFile = %q, want disabled", got)
	}
	cfg.Logging.File = "orc.log"
	if got := cfg.LogFile("/proj"); got != "/proj/.orc/logs/orc.log" {
		t.Errorf("LogFile = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero poll interval", func(c *Config) { c.Engine.PollInterval = 0 }},
		{"zero timeout", func(c *Config) { c.Engine.DefaultTimeout = 0 }},
		{"zero buffer", func(c *Config) { c.Monitor.BufferSize = 0 }},
		{"no agent command", func(c *Config) { c.Supervisor.AgentCommand = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted a broken config")
			}
		})
	}
}
