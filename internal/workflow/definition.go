// Package workflow holds the declarative workflow definition (stages,
// triggers, action lists), its loader and validator, and the per-run
// workflow context used for variable interpolation.
package workflow

import (
	"strings"
	"time"
)

// Settings are workflow-level defaults. Durations are given in seconds
// in the YAML document.
type Settings struct {
	PollInterval  int    `yaml:"poll_interval,omitempty"`
	Timeout       int    `yaml:"timeout,omitempty"`
	InstanceRole  string `yaml:"instance_role,omitempty"`
	WorkspaceMode string `yaml:"workspace_mode,omitempty"`
}

// PollIntervalDuration returns the poll interval, or fallback when unset.
func (s Settings) PollIntervalDuration(fallback time.Duration) time.Duration {
	if s.PollInterval <= 0 {
		return fallback
	}
	return time.Duration(s.PollInterval) * time.Second
}

// TimeoutDuration returns the default stage timeout, or fallback when
// unset.
func (s Settings) TimeoutDuration(fallback time.Duration) time.Duration {
	if s.Timeout <= 0 {
		return fallback
	}
	return time.Duration(s.Timeout) * time.Second
}

// Trigger is one completion signal a stage waits for, with an optional
// per-trigger next stage.
type Trigger struct {
	Keyword   string `yaml:"keyword"`
	NextStage string `yaml:"next_stage,omitempty"`
}

// Stage is one node of the workflow state machine: a prompt, trigger
// signals, and success/timeout action lists.
type Stage struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`

	// TriggerKeyword is the common shorthand: a single keyword or an
	// "a|b|c" alternation. Triggers is the long form with per-trigger
	// routing. At least one of the two must be present.
	TriggerKeyword string    `yaml:"trigger_keyword,omitempty"`
	Triggers       []Trigger `yaml:"triggers,omitempty"`

	// NextStage is the default next stage when no trigger or action
	// redirects control. A stage may target itself or an earlier stage;
	// such cycles are intentional and unbounded.
	NextStage string `yaml:"next_stage,omitempty"`

	Timeout          int  `yaml:"timeout,omitempty"` // Seconds; 0 means the workflow default
	UnlimitedRetries bool `yaml:"unlimited_retries,omitempty"`

	OnSuccess []Action `yaml:"on_success,omitempty"`
	OnTimeout []Action `yaml:"on_timeout,omitempty"`
}

// Signals returns every keyword the stage waits for, expanding "a|b|c"
// alternations.
func (s *Stage) Signals() []string {
	var out []string
	for _, trigger := range s.AllTriggers() {
		out = append(out, trigger.Keyword)
	}
	return out
}

// AllTriggers normalizes the shorthand and long forms into one list.
func (s *Stage) AllTriggers() []Trigger {
	var out []Trigger
	if s.TriggerKeyword != "" {
		for _, keyword := range strings.Split(s.TriggerKeyword, "|") {
			keyword = strings.TrimSpace(keyword)
			if keyword != "" {
				out = append(out, Trigger{Keyword: keyword, NextStage: s.NextStage})
			}
		}
	}
	for _, trigger := range s.Triggers {
		if trigger.NextStage == "" {
			trigger.NextStage = s.NextStage
		}
		out = append(out, trigger)
	}
	return out
}

// NextFor returns the next stage for the trigger keyword that fired.
func (s *Stage) NextFor(keyword string) string {
	for _, trigger := range s.AllTriggers() {
		if trigger.Keyword == keyword {
			return trigger.NextStage
		}
	}
	return s.NextStage
}

// TimeoutDuration returns the stage timeout, or fallback when unset.
func (s *Stage) TimeoutDuration(fallback time.Duration) time.Duration {
	if s.Timeout <= 0 {
		return fallback
	}
	return time.Duration(s.Timeout) * time.Second
}

// Definition is a declarative workflow, loaded once per run and
// immutable afterwards.
type Definition struct {
	Name       string            `yaml:"name"`
	Settings   Settings          `yaml:"settings,omitempty"`
	EntryStage string            `yaml:"entry_stage,omitempty"`
	Vars       map[string]string `yaml:"vars,omitempty"`
	Stages     []Stage           `yaml:"stages"`
}

// Stage returns the stage with the given ID, or nil.
func (d *Definition) Stage(id string) *Stage {
	for i := range d.Stages {
		if d.Stages[i].ID == id {
			return &d.Stages[i]
		}
	}
	return nil
}

// Entry returns the entry stage: the explicitly marked one, or the
// first in the document.
func (d *Definition) Entry() *Stage {
	if d.EntryStage != "" {
		return d.Stage(d.EntryStage)
	}
	if len(d.Stages) == 0 {
		return nil
	}
	return &d.Stages[0]
}
