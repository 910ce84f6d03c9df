// Package report records the outcome of qemurun workflows so a run can be
// inspected after the fact, step by step.
package report

import (
	"encoding/json"
	"time"
)

// Kind identifies the workflow that produced a run.
type Kind string

const (
	// App builds the application image and optionally runs it.
	App Kind = "app"
	// Unittest builds the unit test image and optionally runs it.
	Unittest Kind = "unittest"
	// VSCode builds the unit test image and emits editor payloads.
	VSCode Kind = "vscode"
)

// Step statuses.
const (
	StatusPass    = "pass"
	StatusFail    = "fail"
	StatusSkipped = "skipped"
)

// Store persists and retrieves run results.
type Store interface {
	Save(result *RunResult) error
	Load(runID string) (*RunResult, error)
}

// RunResult holds the structured outcome of one workflow run.
type RunResult struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	StartedAt time.Time `json:"started_at"`
	Steps     []Step    `json:"steps"`

	Executable string      `json:"executable,omitempty"` // unit test ELF reported by cargo
	Image      string      `json:"image,omitempty"`      // flashable image handed to the emulator
	Test       *TestResult `json:"test,omitempty"`
	Payloads   []Payload   `json:"payloads,omitempty"`
}

// Step is the record of one child process run by a workflow.
type Step struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Command  string        `json:"command,omitempty"`
	Exit     string        `json:"exit,omitempty"` // e.g. "exit status 0", "signal: killed (-9)"
	Duration time.Duration `json:"duration,omitempty"`
	Detail   string        `json:"detail,omitempty"`
	Output   []string      `json:"output,omitempty"` // last lines of merged output
}

// TestResult is the verdict parsed from the emulator's result banner.
type TestResult struct {
	Passed bool   `json:"passed"`
	Banner string `json:"banner"`
}

// Payload is an editor configuration fragment.
type Payload struct {
	Title string          `json:"title"`
	Body  json.RawMessage `json:"body"`
}

// FindStep returns the step named name.
func (r *RunResult) FindStep(name string) (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Failed returns the first failed step, if any.
func (r *RunResult) Failed() (*Step, bool) {
	for i := range r.Steps {
		if r.Steps[i].Status == StatusFail {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Passed reports whether no step failed.
func (r *RunResult) Passed() bool {
	_, failed := r.Failed()
	return !failed
}
