package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/vscode"
)

// BuildTaskCommand is the editor build task: rebuild the unit test image
// without running it.
const BuildTaskCommand = "qemurun unittest --no-run"

// RunOptions selects what the app and unittest pipelines do after building.
type RunOptions struct {
	NoRun     bool // build only
	Debugging bool // wait for gdb before booting
}

// PipelineResult holds the full outcome of a pipeline run.
type PipelineResult struct {
	RunResult *report.RunResult
	Steps     []StepResult
	FailedIdx int // -1 if all passed
}

// Passed reports whether every step that ran passed.
func (p *PipelineResult) Passed() bool {
	return p.FailedIdx < 0
}

// Err returns the failure of the failed step, if any.
func (p *PipelineResult) Err() error {
	if p.FailedIdx < 0 {
		return nil
	}
	s := p.Steps[p.FailedIdx]
	return &StepError{Step: s.Name, Command: s.Command, Status: s.Exit, Reason: s.Detail}
}

type pipeline struct {
	e   *Engine
	res *PipelineResult
	idx int
}

func (e *Engine) newPipeline(kind report.Kind, steps ...string) *pipeline {
	rr := &report.RunResult{ID: uuid.New().String(), Kind: kind, StartedAt: time.Now().UTC()}
	results := make([]StepResult, len(steps))
	for i, name := range steps {
		results[i] = StepResult{Name: name, Status: report.StatusSkipped}
	}
	if e.Metrics != nil {
		e.Metrics.RecordRun(rr.ID, string(kind))
	}
	e.logger().Info("run_started", "run_id", rr.ID, "kind", kind)
	return &pipeline{e: e, res: &PipelineResult{RunResult: rr, Steps: results, FailedIdx: -1}}
}

// record stores the outcome of the next planned step and reports whether
// the pipeline may continue.
func (p *pipeline) record(res StepResult, err error) bool {
	p.res.Steps[p.idx] = res
	p.idx++
	if err != nil {
		p.res.FailedIdx = p.idx - 1
		return false
	}
	return true
}

// done copies the step records into the run result. A cancelled context is
// returned as the error; step failures are only reflected in FailedIdx.
func (p *pipeline) done(err error) (*PipelineResult, error) {
	rr := p.res.RunResult
	rr.Steps = rr.Steps[:0]
	for _, s := range p.res.Steps {
		rr.Steps = append(rr.Steps, s.Record())
	}
	p.e.logger().Info("run_finished", "run_id", rr.ID, "kind", rr.Kind, "passed", p.res.Passed())
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return p.res, err
	}
	return p.res, nil
}

// App builds the application image and, unless opts.NoRun, boots it.
func (e *Engine) App(ctx context.Context, opts RunOptions) (*PipelineResult, error) {
	p := e.newPipeline(report.App, StepBuildApp, StepEmulator)
	con := e.console()

	con.Printf("Build app")
	res, image, err := e.BuildAppImage(ctx)
	if !p.record(res, err) {
		return p.done(err)
	}
	p.res.RunResult.Image = image

	if !opts.NoRun {
		con.Printf("Run app in QEMU")
		res, test, err := e.RunEmulator(ctx, image, opts.Debugging)
		p.res.RunResult.Test = test
		if !p.record(res, err) {
			return p.done(err)
		}
	}
	con.Printf("Done")
	return p.done(nil)
}

// Unittest builds the unit tests, saves their image and, unless
// opts.NoRun, boots it and checks the result banner.
func (e *Engine) Unittest(ctx context.Context, opts RunOptions) (*PipelineResult, error) {
	p := e.newPipeline(report.Unittest, StepBuildUnittest, StepSaveImage, StepEmulator)
	con := e.console()

	con.Printf("Build unittest")
	image, err := e.unittestImage(ctx, p)
	if err != nil {
		return p.done(err)
	}

	if !opts.NoRun {
		con.Printf("Run unittest in QEMU")
		res, test, err := e.RunEmulator(ctx, image, opts.Debugging)
		p.res.RunResult.Test = test
		if !p.record(res, err) {
			return p.done(err)
		}
	}
	con.Printf("Done")
	return p.done(nil)
}

// VSCode rebuilds the unit test image so paths are current, then produces
// the editor payloads for debugging it under the emulator.
func (e *Engine) VSCode(ctx context.Context) (*PipelineResult, *vscode.Payloads, error) {
	p := e.newPipeline(report.VSCode, StepBuildUnittest, StepSaveImage, StepFindGDB)

	e.console().Printf("Build unittests to get updated path names")
	image, err := e.unittestImage(ctx, p)
	if err != nil {
		res, err := p.done(err)
		return res, nil, err
	}

	start := time.Now()
	payloads, entries, err := e.debugPayloads(image, p.res.RunResult.Executable)
	find := StepResult{Name: StepFindGDB, Duration: time.Since(start)}
	e.finish(&find, err)
	if !p.record(find, err) {
		res, err := p.done(err)
		return res, nil, err
	}

	for _, entry := range entries {
		p.res.RunResult.Payloads = append(p.res.RunResult.Payloads, report.Payload{Title: entry.Title, Body: entry.Body})
	}
	res, err := p.done(nil)
	return res, payloads, err
}

// debugPayloads locates gdb and renders the editor entries for debugging
// image. Every failure is reported as a find-gdb step error.
func (e *Engine) debugPayloads(image, executable string) (*vscode.Payloads, []vscode.Entry, error) {
	c := e.config()
	root := c.GDBSearchRoot()
	if !filepath.IsAbs(root) && e.RepoRoot != "" {
		root = filepath.Join(e.RepoRoot, root)
	}
	gdb, err := vscode.FindGDB(root, c.GDBBinary())
	if err != nil {
		return nil, nil, &StepError{Step: StepFindGDB, Reason: err.Error(), Err: err}
	}

	payloads := &vscode.Payloads{
		BuildTask: vscode.BuildTask(BuildTaskCommand),
		DebugTask: vscode.DebugTask(c.QEMUBinary(), c.Machine(), vscode.RelPath(e.RepoRoot, image), c.GDBPort()),
		Launch:    vscode.AttachLaunch(vscode.RelPath(e.RepoRoot, executable), gdb, c.GDBPort()),
	}
	entries, err := payloads.Entries()
	if err != nil {
		return nil, nil, &StepError{Step: StepFindGDB, Reason: "rendering payloads: " + err.Error(), Err: err}
	}
	return payloads, entries, nil
}

// unittestImage runs the build-unittest and save-image steps.
func (e *Engine) unittestImage(ctx context.Context, p *pipeline) (string, error) {
	res, exec, err := e.BuildUnittest(ctx)
	if !p.record(res, err) {
		return "", err
	}
	p.res.RunResult.Executable = exec

	e.console().Printf("Save unittest image")
	res, image, err := e.SaveUnittestImage(ctx, exec)
	if !p.record(res, err) {
		return "", err
	}
	p.res.RunResult.Image = image
	return image, nil
}
