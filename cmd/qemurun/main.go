// Command qemurun builds ESP32 firmware and runs it, or its unit tests, in
// QEMU.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/deixis/qemurun"
	"github.com/deixis/qemurun/internal/config"
	"github.com/deixis/qemurun/internal/logging"
	"github.com/deixis/qemurun/internal/metrics"
	"github.com/deixis/qemurun/internal/procs"
	"github.com/deixis/qemurun/internal/report"
	"github.com/deixis/qemurun/internal/runner"
	"github.com/deixis/qemurun/internal/workflow"
)

// errFailed reports a run whose outcome was already printed.
var errFailed = errors.New("run failed")

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "qemurun:", err)
		}
		os.Exit(1)
	}
}

// options holds the persistent flags.
type options struct {
	configPath  string
	workspace   string
	qemuBin     string
	logLevel    string
	logFormat   string
	metricsFile string
	jsonOut     bool
}

// NewRootCmd wires the cobra tree.
func NewRootCmd() *cobra.Command {
	o := &options{}
	root := &cobra.Command{
		Use:           "qemurun",
		Short:         "Build ESP32 firmware and run it in QEMU",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&o.configPath, "config", "", "path to the config file (default: .qemurun at the project root)")
	pf.StringVar(&o.workspace, "workspace", "", "project directory (default: current directory)")
	pf.StringVarP(&o.qemuBin, "qemu-bin-path", "q", "", "path to qemu binary (default "+config.DefaultQEMUBinary+")")
	pf.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	pf.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	pf.StringVar(&o.metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")
	pf.BoolVar(&o.jsonOut, "json", false, "print the run result as JSON")

	root.AddCommand(
		newAppCmd(o),
		newUnittestCmd(o),
		newVSCodeCmd(o),
		newMCPCmd(o),
		newVersionCmd(),
	)
	return root
}

func newAppCmd(o *options) *cobra.Command {
	var opts workflow.RunOptions
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Start application in QEMU",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runPipeline(cmd, func(ctx context.Context, e *workflow.Engine) (*workflow.PipelineResult, error) {
				return e.App(ctx, opts)
			})
		},
	}
	addRunFlags(cmd, &opts, "app")
	return cmd
}

func newUnittestCmd(o *options) *cobra.Command {
	var opts workflow.RunOptions
	cmd := &cobra.Command{
		Use:   "unittest",
		Short: "Start unittest in QEMU",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.runPipeline(cmd, func(ctx context.Context, e *workflow.Engine) (*workflow.PipelineResult, error) {
				return e.Unittest(ctx, opts)
			})
		},
	}
	addRunFlags(cmd, &opts, "unittest")
	return cmd
}

func addRunFlags(cmd *cobra.Command, opts *workflow.RunOptions, what string) {
	cmd.Flags().BoolVarP(&opts.NoRun, "no-run", "n", false, "only build, do not run")
	cmd.Flags().BoolVarP(&opts.Debugging, "debugging", "d", false, "run "+what+" in debugging mode")
}

func newVSCodeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "vscode",
		Short: "Print tasks.json and launch.json entries for debugging unit tests",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := o.setup(cmd.OutOrStdout(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res, payloads, err := s.engine.VSCode(ctx)
			if err := s.finish(res); err != nil {
				return err
			}
			if err != nil {
				return err
			}
			if o.jsonOut {
				return writeJSON(cmd.OutOrStdout(), res.RunResult)
			}
			if payloads == nil {
				renderSummary(cmd.OutOrStdout(), res)
				return errFailed
			}
			return payloads.Render(cmd.OutOrStdout())
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), qemurun.Version)
		},
	}
}

type pipelineFunc func(context.Context, *workflow.Engine) (*workflow.PipelineResult, error)

func (o *options) runPipeline(cmd *cobra.Command, run pipelineFunc) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := o.setup(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	res, err := run(ctx, s.engine)
	if err := s.finish(res); err != nil {
		return err
	}
	if err != nil {
		return err
	}

	if o.jsonOut {
		if err := writeJSON(cmd.OutOrStdout(), res.RunResult); err != nil {
			return err
		}
	} else {
		renderSummary(cmd.OutOrStdout(), res)
	}
	if !res.Passed() {
		return errFailed
	}
	return nil
}

// session is everything one command needs to run workflows.
type session struct {
	engine      *workflow.Engine
	runner      *runner.Runner
	store       report.Store
	logger      *slog.Logger
	metrics     *metrics.Recorder
	metricsFile string
}

// setup loads the configuration and wires the engine. Child output is
// echoed to out, or to errOut when stdout carries JSON.
func (o *options) setup(out, errOut io.Writer) (*session, error) {
	logger := logging.NewLogger(errOut, o.logFormat, o.logLevel)

	workspace := o.workspace
	if workspace == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("determining workspace: %w", err)
		}
		workspace = wd
	}

	var (
		loaded *config.LoadResult
		err    error
	)
	if o.configPath != "" {
		loaded, err = config.LoadFile(o.configPath, workspace)
	} else {
		loaded, err = config.Load(workspace)
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	if o.qemuBin != "" {
		cfg.QEMU.Binary = o.qemuBin
	}

	r := &runner.Runner{
		Workspace: loaded.RepoRoot,
		Shell:     cfg.ShellPath(),
		Logger:    logger,
	}

	echo := out
	if o.jsonOut {
		echo = errOut
	}

	rec := metrics.NewRecorder()
	engine := &workflow.Engine{
		Config:   cfg,
		Runner:   r,
		Console:  logging.NewConsole(echo, logging.DefaultTailLines),
		Logger:   logger,
		Metrics:  rec,
		RepoRoot: loaded.RepoRoot,
	}
	if reaper, err := procs.NewReaper(procs.Scope(cfg.KillScope()), logger); err != nil {
		logger.Warn("reaper_unavailable", "error", err)
	} else {
		engine.Reaper = reaper
	}

	logger.Debug("config_loaded", "root", loaded.RepoRoot, "qemu", cfg.QEMUBinary(), "kill_scope", cfg.KillScope())
	return &session{
		engine:      engine,
		runner:      r,
		store:       report.NewDiskStore(filepath.Join(loaded.RepoRoot, "target", "qemurun", "runs")),
		logger:      logger,
		metrics:     rec,
		metricsFile: o.metricsFile,
	}, nil
}

// finish persists the run and writes metrics. Failures to persist are
// logged; failing to write a requested metrics file is an error.
func (s *session) finish(res *workflow.PipelineResult) error {
	if res == nil {
		return nil
	}
	if err := s.store.Save(res.RunResult); err != nil {
		s.logger.Warn("run_save_failed", "run_id", res.RunResult.ID, "error", err)
	}
	if s.metricsFile != "" {
		if err := s.metrics.WriteTextfile(s.metricsFile); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
