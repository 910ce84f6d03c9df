// Package runner supervises one shell child process at a time: it starts
// the command with stdout and stderr merged into a single pipe, hands the
// output back line by line, and reports how the process terminated.
package runner

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Command is an immutable shell command line plus the environment it runs with.
type Command struct {
	line string
	env  map[string]string
}

// NewCommand copies env so later changes by the caller do not leak in.
func NewCommand(line string, env map[string]string) Command {
	cp := make(map[string]string, len(env))
	for k, v := range env {
		cp[k] = v
	}
	return Command{line: line, env: cp}
}

// Line returns the shell command line.
func (c Command) Line() string { return c.line }

// Env returns a copy of the environment mapping.
func (c Command) Env() map[string]string {
	cp := make(map[string]string, len(c.env))
	for k, v := range c.env {
		cp[k] = v
	}
	return cp
}

// Environ returns the environment as sorted KEY=VALUE pairs.
func (c Command) Environ() []string {
	out := make([]string, 0, len(c.env))
	for k, v := range c.env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// InheritEnv returns the current process environment with overrides applied.
// A fresh map is built on every call.
func InheritEnv(overrides map[string]string) map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		env[k] = v
	}
	for k, v := range overrides {
		env[k] = v
	}
	return env
}

// Handle is the caller's view of a started child process.
// Implemented by *Process.
type Handle interface {
	ReadLine() string
	Running() bool
	Kill() error
	ExitCode() ExitStatus
	// Pid is also the process group id: the child leads its own group.
	Pid() int
}

// Runner starts commands within a workspace boundary.
type Runner struct {
	Workspace string
	Shell     string       // defaults to /bin/sh
	Logger    *slog.Logger // defaults to a discarding logger
}

// Start spawns cmd with the working directory cwd, resolved relative to the
// workspace root. cwd must remain within the workspace.
func (r *Runner) Start(cmd Command, cwd string) (Handle, error) {
	dir, err := r.resolveDir(cwd)
	if err != nil {
		return nil, err
	}

	p := NewProcess(cmd, WithShell(r.Shell), WithLogger(r.Logger))
	if err := p.Start(dir); err != nil {
		return nil, err
	}
	return p, nil
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if cwd == "" {
		return r.Workspace, nil
	}
	if r.Workspace == "" {
		return cwd, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}
