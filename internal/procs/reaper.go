// Package procs finds live processes by binary name and kills them. It is
// the best-effort sweep run after the emulator reports a test result.
package procs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

// Scope limits which matching processes are killed.
type Scope string

const (
	// ScopeGroup kills matches inside one process group only.
	ScopeGroup Scope = "group"
	// ScopeGlobal kills every match on the machine, like `pidof | kill`.
	ScopeGlobal Scope = "global"
)

// commLen is the kernel's limit for /proc/<pid>/comm, excluding the NUL.
const commLen = 15

// Target is a process selected for killing.
type Target struct {
	PID  int
	PGRP int
	Name string
}

// Result summarises a sweep.
type Result struct {
	Matched int // processes whose name matched within scope
	Killed  int // processes that accepted the signal
	Skipped int // processes that vanished or refused the signal
}

// Reaper kills processes by name using /proc.
type Reaper struct {
	FS     procfs.FS
	Scope  Scope
	Logger *slog.Logger

	// Signal delivers the kill. Defaults to SIGKILL via kill(2).
	Signal func(pid int) error
}

// NewReaper returns a Reaper reading the default /proc mount.
func NewReaper(scope Scope, logger *slog.Logger) (*Reaper, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return nil, fmt.Errorf("opening /proc: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Reaper{FS: fs, Scope: scope, Logger: logger}, nil
}

// Find lists processes named name. With ScopeGroup only members of process
// group pgid are returned. The calling process is never included.
func (r *Reaper) Find(name string, pgid int) ([]Target, error) {
	all, err := r.FS.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	self := os.Getpid()
	var out []Target
	for _, p := range all {
		if p.PID == self {
			continue
		}
		if !procMatches(p, name) {
			continue
		}
		stat, err := p.Stat()
		if err != nil {
			// Exited between listing and inspection.
			continue
		}
		if r.Scope != ScopeGlobal && stat.PGRP != pgid {
			continue
		}
		out = append(out, Target{PID: p.PID, PGRP: stat.PGRP, Name: name})
	}
	return out, nil
}

// KillByName sends SIGKILL to every process named name within scope.
// Processes that disappear or refuse the signal are skipped, not errors;
// only failing to enumerate /proc is reported.
func (r *Reaper) KillByName(name string, pgid int) (Result, error) {
	var res Result

	targets, err := r.Find(name, pgid)
	if err != nil {
		r.logger().Debug("reap_skipped", "name", name, "error", err)
		return res, err
	}
	res.Matched = len(targets)

	signal := r.Signal
	if signal == nil {
		signal = killPID
	}

	for _, t := range targets {
		if err := signal(t.PID); err != nil {
			res.Skipped++
			r.logger().Debug("reap_failed", "pid", t.PID, "name", name, "error", err)
			continue
		}
		res.Killed++
		r.logger().Debug("reaped", "pid", t.PID, "pgrp", t.PGRP, "name", name)
	}
	return res, nil
}

func (r *Reaper) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

func killPID(pid int) error {
	err := unix.Kill(pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("pid %d: %w", pid, os.ErrProcessDone)
	}
	return err
}

func procMatches(p procfs.Proc, name string) bool {
	var argv0, exe, comm string
	if args, err := p.CmdLine(); err == nil && len(args) > 0 {
		argv0 = args[0]
	}
	if e, err := p.Executable(); err == nil {
		exe = e
	}
	if c, err := p.Comm(); err == nil {
		comm = c
	}
	return Matches(name, argv0, exe, comm)
}

// Matches reports whether a process described by its argv[0], executable
// path and comm is named name. comm is compared against name truncated to
// the kernel's comm length.
func Matches(name, argv0, exe, comm string) bool {
	if name == "" {
		return false
	}
	if argv0 != "" && filepath.Base(argv0) == name {
		return true
	}
	if exe != "" && filepath.Base(exe) == name {
		return true
	}
	short := name
	if len(short) > commLen {
		short = short[:commLen]
	}
	return comm != "" && comm == short
}
