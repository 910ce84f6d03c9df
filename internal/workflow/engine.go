// Package workflow runs the firmware build and emulator steps. It is
// consumed by both the MCP server and the CLI commands.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deixis/qemurun/internal/config"
	"github.com/deixis/qemurun/internal/logging"
	"github.com/deixis/qemurun/internal/metrics"
	"github.com/deixis/qemurun/internal/procs"
	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/runner"
)

// CommandRunner starts shell commands.
// Implemented by runner.Runner.
type CommandRunner interface {
	Start(cmd runner.Command, cwd string) (runner.Handle, error)
}

// Reaper kills processes by binary name.
// Implemented by procs.Reaper.
type Reaper interface {
	KillByName(name string, pgid int) (procs.Result, error)
}

// Engine holds shared dependencies for all workflow operations. Steps run
// strictly one after another; an Engine must not run two workflows at once.
type Engine struct {
	Config   *config.Config
	Runner   CommandRunner
	Reaper   Reaper            // optional; nil skips the post-banner sweep
	Console  *logging.Console  // echoes child output; nil discards it
	Logger   *slog.Logger      // optional
	Metrics  *metrics.Recorder // optional
	RepoRoot string            // project root; commands run from here
}

// Step names.
const (
	StepBuildApp      = "build-app"
	StepBuildUnittest = "build-unittest"
	StepSaveImage     = "save-image"
	StepEmulator      = "emulator"
	StepFindGDB       = "find-gdb"
)

// StepResult holds the outcome of a single step.
type StepResult struct {
	Name     string
	Status   string // pass, fail, skipped
	Command  string
	Exit     runner.ExitStatus
	Duration time.Duration
	Detail   string   // failure message shown to the user
	Output   []string // last lines of merged output
}

// Record converts the result for storage.
func (s StepResult) Record() report.Step {
	st := report.Step{
		Name:     s.Name,
		Status:   s.Status,
		Command:  s.Command,
		Duration: s.Duration,
		Detail:   s.Detail,
		Output:   s.Output,
	}
	if s.Exit.State != runner.StateRunning {
		st.Exit = s.Exit.String()
	}
	return st
}

// StepError reports a failed step. Status is the terminal status of the
// step's process, when it got far enough to have one.
type StepError struct {
	Step    string
	Command string
	Status  runner.ExitStatus
	Reason  string
	Err     error
}

func (e *StepError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	if e.Status.State == runner.StateRunning {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	code, _ := e.Status.ReturnCode()
	msg := fmt.Sprintf("Running \"%s\" failed: %d", e.Command, code)
	if e.Err != nil {
		msg += "\n" + e.Err.Error()
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return e.Logger
}

func (e *Engine) console() *logging.Console {
	if e.Console == nil {
		e.Console = logging.NewConsole(nil, 0)
	}
	return e.Console
}

func (e *Engine) config() *config.Config {
	if e.Config == nil {
		e.Config = &config.Config{}
	}
	return e.Config
}

// stateReader is implemented by handles that can tell a blank line from a
// stream that is closed but not yet finished.
type stateReader interface {
	Read() (string, runner.ReadState)
}

// next reads one line. ok is false when nothing was read.
func next(h runner.Handle) (line string, ok bool) {
	if r, isState := h.(stateReader); isState {
		line, st := r.Read()
		return line, st == runner.LineRead
	}
	line = h.ReadLine()
	return line, line != ""
}

// lineFunc inspects one output line. Returning true stops the read loop.
type lineFunc func(h runner.Handle, line string) bool

// stream starts cmd, echoes every line to the console and hands it to scan
// until the process stops running or scan asks to stop. The returned result
// carries the terminal status; Status is left for the caller to decide.
// When ctx is cancelled the process is killed and ctx.Err() returned.
func (e *Engine) stream(ctx context.Context, step string, cmd runner.Command, scan lineFunc) (StepResult, error) {
	res := StepResult{Name: step, Command: cmd.Line()}
	con := e.console()
	con.Reset()
	start := time.Now()

	h, err := e.Runner.Start(cmd, e.RepoRoot)
	if err != nil {
		res.Status = report.StatusFail
		res.Duration = time.Since(start)
		res.Detail = err.Error()
		e.logger().Error("step_start_failed", "step", step, "command", cmd.Line(), "error", err)
		return res, &StepError{Step: step, Command: cmd.Line(), Err: err}
	}
	e.logger().Info("step_started", "step", step, "pid", h.Pid(), "command", cmd.Line())

	// Kill unblocks a read waiting on a quiet child.
	stop := context.AfterFunc(ctx, func() { _ = h.Kill() })
	for h.Running() && ctx.Err() == nil {
		line, ok := next(h)
		if !ok || ctx.Err() != nil {
			continue
		}
		con.Line(line)
		if scan != nil && scan(h, line) {
			break
		}
	}
	stop()

	if err := ctx.Err(); err != nil {
		_ = h.Kill()
		res.Exit = h.ExitCode()
		res.Status = report.StatusFail
		res.Duration = time.Since(start)
		res.Detail = "cancelled"
		res.Output = con.Tail()
		e.logger().Warn("step_cancelled", "step", step, "pid", h.Pid(), "error", err)
		return res, err
	}

	res.Exit = h.ExitCode()
	res.Duration = time.Since(start)
	res.Output = con.Tail()
	e.logger().Info("step_finished", "step", step, "pid", h.Pid(), "status", res.Exit.String(), "duration", res.Duration)
	return res, nil
}

// finish sets the step status from err and records metrics.
func (e *Engine) finish(res *StepResult, err error) {
	if err != nil {
		res.Status = report.StatusFail
		if res.Detail == "" {
			res.Detail = err.Error()
		}
		e.console().Printf("%s", res.Detail)
	} else {
		res.Status = report.StatusPass
	}
	if e.Metrics != nil {
		e.Metrics.RecordStep(res.Name, res.Status, res.Duration)
	}
}
