package workflow

import (
	"context"
	"fmt"
	"syscall"

	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/runner"
)

// BuildEnv returns the environment for cargo builds: the inherited
// environment, the emulator sdkconfig defaults, network credentials
// blanked, then configured extras.
func (e *Engine) BuildEnv() map[string]string {
	return runner.InheritEnv(e.config().BuildEnv())
}

// AppImageCommand returns the command that builds and merges the app image.
func (e *Engine) AppImageCommand() runner.Command {
	c := e.config()
	line := fmt.Sprintf("cargo espflash save-image --target %s --partition-table %s --chip %s --merge %s",
		c.Target(), c.PartitionTable(), c.Chip(), c.AppImage())
	return runner.NewCommand(line, e.BuildEnv())
}

// UnittestBuildCommand returns the command that compiles the unit tests
// without running them.
func (e *Engine) UnittestBuildCommand() runner.Command {
	line := fmt.Sprintf("cargo test --target %s --no-run", e.config().Target())
	return runner.NewCommand(line, e.BuildEnv())
}

// UnittestImageCommand returns the command that turns the test executable
// into a flashable image.
func (e *Engine) UnittestImageCommand(executable string) runner.Command {
	c := e.config()
	line := fmt.Sprintf("espflash save-image --partition-table %s --chip %s --merge %s %s",
		c.PartitionTable(), c.Chip(), executable, c.UnittestImage())
	return runner.NewCommand(line, runner.InheritEnv(nil))
}

// EmulatorCommand returns the command that boots image. With debugging the
// emulator waits for gdb on the configured port before starting the CPU.
func (e *Engine) EmulatorCommand(image string, debugging bool) runner.Command {
	c := e.config()
	line := fmt.Sprintf("%s -nographic -machine %s ", c.QEMUBinary(), c.Machine())
	if debugging {
		line += fmt.Sprintf("-gdb tcp::%d -S ", c.GDBPort())
	}
	line += fmt.Sprintf("-drive file=%s,if=mtd,format=raw -no-reboot", image)
	return runner.NewCommand(line, runner.InheritEnv(nil))
}

// BuildAppImage builds the application and saves the merged image. It
// returns the image path.
func (e *Engine) BuildAppImage(ctx context.Context) (StepResult, string, error) {
	cmd := e.AppImageCommand()
	res, err := e.stream(ctx, StepBuildApp, cmd, nil)
	if err == nil {
		err = exitedZero(res, cmd)
	}
	e.finish(&res, err)
	if err != nil {
		return res, "", err
	}
	image := e.config().AppImage()
	e.console().Printf("Saving image to %s", image)
	return res, image, nil
}

// BuildUnittest compiles the unit tests and returns the executable cargo
// reported last.
func (e *Engine) BuildUnittest(ctx context.Context) (StepResult, string, error) {
	cmd := e.UnittestBuildCommand()
	var artifact ArtifactTracker
	res, err := e.stream(ctx, StepBuildUnittest, cmd, func(_ runner.Handle, line string) bool {
		if artifact.Observe(line) {
			path, _ := artifact.Path()
			e.logger().Debug("artifact_detected", "path", path)
		}
		return false
	})
	if err == nil {
		err = exitedZero(res, cmd)
	}
	exec, found := artifact.Path()
	if err == nil && !found {
		err = &StepError{Step: StepBuildUnittest, Command: cmd.Line(), Status: res.Exit, Reason: "No executable found"}
	}
	e.finish(&res, err)
	if err != nil {
		return res, "", err
	}
	e.console().Printf("Found executable %s", exec)
	return res, exec, nil
}

// SaveUnittestImage merges executable into a flashable image and returns
// the image path.
func (e *Engine) SaveUnittestImage(ctx context.Context, executable string) (StepResult, string, error) {
	cmd := e.UnittestImageCommand(executable)
	res, err := e.stream(ctx, StepSaveImage, cmd, nil)
	if err == nil {
		err = exitedZero(res, cmd)
	}
	e.finish(&res, err)
	if err != nil {
		return res, "", err
	}
	image := e.config().UnittestImage()
	e.console().Printf("Saving image to %s", image)
	return res, image, nil
}

// RunEmulator boots image and reads its console until the test harness
// prints its result banner. The banner triggers a sweep of emulator
// processes and a kill of the spawned process; the step passes only when
// the process died from that SIGKILL and the banner reported success.
func (e *Engine) RunEmulator(ctx context.Context, image string, debugging bool) (StepResult, *report.TestResult, error) {
	return e.runEmulatorCommand(ctx, e.EmulatorCommand(image, debugging))
}

func (e *Engine) runEmulatorCommand(ctx context.Context, cmd runner.Command) (StepResult, *report.TestResult, error) {
	var test *report.TestResult
	res, err := e.stream(ctx, StepEmulator, cmd, func(h runner.Handle, line string) bool {
		banner, ok := ParseResultBanner(line)
		if !ok {
			return false
		}
		test = &report.TestResult{Passed: banner.Passed, Banner: banner.Line}
		e.logger().Info("banner_detected", "passed", banner.Passed, "line", banner.Line)
		// Group kill before the sweep: a wrapper shell must not see its
		// emulator child die and exit on its own.
		if err := h.Kill(); err != nil {
			e.logger().Warn("kill_failed", "pid", h.Pid(), "error", err)
		}
		e.reap(h.Pid())
		return true
	})
	if err == nil {
		switch {
		case !res.Exit.KilledBy(syscall.SIGKILL):
			err = &StepError{Step: StepEmulator, Command: cmd.Line(), Status: res.Exit}
		case test == nil || !test.Passed:
			err = &StepError{Step: StepEmulator, Command: cmd.Line(), Status: res.Exit, Reason: "Test failed"}
		}
	}
	if test != nil && e.Metrics != nil {
		e.Metrics.RecordTestResult(test.Passed)
	}
	e.finish(&res, err)
	return res, test, err
}

// reap kills emulator processes that outlived the group kill, such as ones
// in another group under ScopeGlobal. Failures are logged and otherwise
// ignored.
func (e *Engine) reap(pgid int) {
	if e.Reaper == nil {
		return
	}
	name := e.config().EmulatorProcessName()
	res, err := e.Reaper.KillByName(name, pgid)
	if err != nil {
		e.logger().Warn("reap_failed", "name", name, "pgid", pgid, "error", err)
		return
	}
	e.logger().Debug("reap_finished", "name", name, "pgid", pgid,
		"matched", res.Matched, "killed", res.Killed, "skipped", res.Skipped)
	if e.Metrics != nil {
		e.Metrics.RecordReaped(res.Killed)
	}
}

func exitedZero(res StepResult, cmd runner.Command) error {
	if res.Exit.Success() {
		return nil
	}
	serr := &StepError{Step: res.Name, Command: cmd.Line(), Status: res.Exit}
	if code, _ := res.Exit.ReturnCode(); code == exitNotFound {
		serr.Err = NewErrToolUnavailable(ToolName(cmd.Line()))
	}
	return serr
}
