// Package runnertest provides scripted stand-ins for runner.Runner so
// workflows can be tested without spawning real toolchains.
package runnertest

import (
	"fmt"
	"strings"
	"sync"
	"syscall"

	"github.com/deixis/qemurun/internal/runner"
)

// Script describes how a fake process behaves.
type Script struct {
	Lines  []string          // output, in order
	Status runner.ExitStatus // status after the output is drained
	// Endless keeps the process alive after Lines are consumed; it only
	// stops when killed.
	Endless bool
}

// Call records one Start invocation.
type Call struct {
	Command runner.Command
	Cwd     string
}

// Runner returns scripted processes. Scripts are matched by the first
// registered key that is a prefix of the command line.
type Runner struct {
	Scripts  map[string]Script
	StartErr map[string]error
	Calls    []Call
	Procs    []*Process
}

// Start implements the workflow's command runner.
func (r *Runner) Start(cmd runner.Command, cwd string) (runner.Handle, error) {
	r.Calls = append(r.Calls, Call{Command: cmd, Cwd: cwd})
	if err, ok := match(r.StartErr, cmd.Line()); ok {
		return nil, err
	}
	script, ok := match(r.Scripts, cmd.Line())
	if !ok {
		script = Script{Status: runner.Exited(0)}
	}
	p := &Process{script: script, running: true, pid: 4242 + len(r.Procs)}
	r.Procs = append(r.Procs, p)
	return p, nil
}

func match[T any](m map[string]T, line string) (T, bool) {
	var (
		best  string
		v     T
		found bool
	)
	for k, val := range m {
		if strings.HasPrefix(line, k) && (!found || len(k) > len(best)) {
			best, v, found = k, val, true
		}
	}
	return v, found
}

// Process is a scripted runner.Handle.
type Process struct {
	script Script
	next   int
	pid    int

	mu      sync.Mutex
	running bool
	killed  bool
}

// ReadLine returns the next scripted line, or "" once the output is drained.
func (p *Process) ReadLine() string {
	if p.next < len(p.script.Lines) {
		line := p.script.Lines[p.next]
		p.next++
		return line
	}
	if !p.script.Endless {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}
	return ""
}

// Running reports the scripted liveness.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Kill marks the process killed.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.killed = true
	return nil
}

// Killed reports whether Kill was called.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Consumed returns how many scripted lines were read.
func (p *Process) Consumed() int { return p.next }

// Pid returns a fake pid.
func (p *Process) Pid() int { return p.pid }

// ExitCode returns SIGKILL after Kill, otherwise the scripted status.
func (p *Process) ExitCode() runner.ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return runner.ExitStatus{}
	}
	if p.killed {
		return runner.Signaled(syscall.SIGKILL)
	}
	return p.script.Status
}

func (p *Process) String() string {
	return fmt.Sprintf("fake pid %d", p.pid)
}
