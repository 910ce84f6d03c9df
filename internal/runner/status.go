package runner

import (
	"fmt"
	"syscall"
)

// State tags an ExitStatus.
type State int

const (
	// StateRunning means no terminal status is available yet.
	StateRunning State = iota
	// StateExited means the process returned an exit code.
	StateExited
	// StateSignaled means the process was terminated by a signal.
	StateSignaled
)

func (s State) String() string {
	switch s {
	case StateExited:
		return "exited"
	case StateSignaled:
		return "signaled"
	default:
		return "running"
	}
}

// ExitStatus is the terminal status of a child process. The zero value
// reports that no status is available.
type ExitStatus struct {
	State  State
	Code   int            // exit code, valid when State == StateExited
	Signal syscall.Signal // terminating signal, valid when State == StateSignaled
}

// Exited returns the status of a process that exited with code.
func Exited(code int) ExitStatus {
	return ExitStatus{State: StateExited, Code: code}
}

// Signaled returns the status of a process terminated by sig.
func Signaled(sig syscall.Signal) ExitStatus {
	return ExitStatus{State: StateSignaled, Signal: sig}
}

// ReturnCode encodes the status the POSIX way: the exit code for a normal
// exit, the negated signal number for signal termination. ok is false while
// the process is still running.
func (s ExitStatus) ReturnCode() (code int, ok bool) {
	switch s.State {
	case StateExited:
		return s.Code, true
	case StateSignaled:
		return -int(s.Signal), true
	default:
		return 0, false
	}
}

// Success reports a normal exit with code 0.
func (s ExitStatus) Success() bool {
	return s.State == StateExited && s.Code == 0
}

// KilledBy reports whether the process was terminated by sig.
func (s ExitStatus) KilledBy(sig syscall.Signal) bool {
	return s.State == StateSignaled && s.Signal == sig
}

func (s ExitStatus) String() string {
	switch s.State {
	case StateExited:
		return fmt.Sprintf("exit status %d", s.Code)
	case StateSignaled:
		return fmt.Sprintf("signal: %s (%d)", s.Signal, -int(s.Signal))
	default:
		return "running"
	}
}

// statusFromWait converts the wait status of a reaped process.
func statusFromWait(ws syscall.WaitStatus) ExitStatus {
	if ws.Signaled() {
		return Signaled(ws.Signal())
	}
	return Exited(ws.ExitStatus())
}
