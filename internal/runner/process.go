package runner

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// ReadState qualifies the result of Read.
type ReadState int

const (
	// LineRead means a line (possibly empty) was read.
	LineRead ReadState = iota
	// Pending means the stream is closed but the child has not exited yet.
	Pending
	// EndOfStream means the stream is closed and the child has exited.
	EndOfStream
)

// DefaultPollInterval is how long Read waits before reporting Pending.
const DefaultPollInterval = 20 * time.Millisecond

// Option configures a Process.
type Option func(*Process)

// WithShell sets the shell used to interpret the command line.
func WithShell(shell string) Option {
	return func(p *Process) {
		if shell != "" {
			p.shell = shell
		}
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Process) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// Process owns exactly one child process. Reads must come from a single
// goroutine; Kill may be called from another one to interrupt a blocked Read.
type Process struct {
	cmd          Command
	shell        string
	logger       *slog.Logger
	pollInterval time.Duration

	c       *exec.Cmd
	out     *os.File
	reader  *bufio.Reader
	afterCR bool
	pid     int

	mu      sync.Mutex
	running bool
	reaped  bool
	status  ExitStatus
}

// NewProcess prepares a process for cmd. Nothing is spawned until Start.
func NewProcess(cmd Command, opts ...Option) *Process {
	p := &Process{
		cmd:          cmd,
		shell:        "/bin/sh",
		logger:       slog.New(slog.DiscardHandler),
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start spawns the shell with stdout and stderr bound to one pipe, in a new
// process group. dir may be empty to inherit the working directory.
func (p *Process) Start(dir string) error {
	if p.c != nil {
		return errors.New("process already started")
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}

	c := exec.Command(p.shell, "-c", p.cmd.Line())
	c.Env = p.cmd.Environ()
	c.Dir = dir
	c.Stdout = w
	c.Stderr = w
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := c.Start(); err != nil {
		_ = r.Close()
		_ = w.Close()
		return fmt.Errorf("starting %q: %w", p.cmd.Line(), err)
	}

	// The child holds its own copy; ours must go for EOF to reach the reader.
	_ = w.Close()

	p.c = c
	p.out = r
	p.reader = bufio.NewReader(r)
	p.pid = c.Process.Pid
	p.setRunning(true)

	p.logger.Debug("process_started", "pid", p.pid, "command", p.cmd.Line(), "dir", dir)
	return nil
}

// Read returns the next line of merged output without its terminator.
// "\n", "\r\n" and a lone "\r" all end a line. A partial line is returned
// when the stream ends without a terminator. Invalid UTF-8 is replaced.
func (p *Process) Read() (string, ReadState) {
	if p.reader == nil {
		return "", EndOfStream
	}

	s, err := p.readRaw()
	if err == nil || s != "" {
		return strings.ToValidUTF8(s, "\uFFFD"), LineRead
	}

	if p.childExited() {
		p.setRunning(false)
		return "", EndOfStream
	}
	time.Sleep(p.pollInterval)
	return "", Pending
}

// ReadLine is Read without the state: an empty result is either a blank line
// or a closed stream, and callers disambiguate with Running.
func (p *Process) ReadLine() string {
	line, _ := p.Read()
	return line
}

// Running reports the last known liveness. It is updated by Read and Kill,
// not by polling.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Process) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	p.mu.Unlock()
}

// Pid returns the child's process id.
func (p *Process) Pid() int {
	return p.pid
}

// Kill sends SIGKILL to the child's process group and marks the process as
// not running. Killing a process that no longer exists is not an error.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	if p.c == nil || p.reaped {
		return nil
	}

	err := unix.Kill(-p.pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		err = unix.Kill(p.pid, unix.SIGKILL)
	}
	if err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing pid %d: %w", p.pid, err)
	}

	p.logger.Debug("process_killed", "pid", p.pid)
	return nil
}

// ExitCode returns the terminal status. While the process is believed to be
// running it returns a StateRunning status without blocking; otherwise it
// waits for the child to be reaped. The child is reaped exactly once.
func (p *Process) ExitCode() ExitStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running || p.c == nil {
		return ExitStatus{}
	}
	if p.reaped {
		return p.status
	}

	waitErr := p.c.Wait()
	p.reaped = true
	p.reader = nil
	_ = p.out.Close()

	if ps := p.c.ProcessState; ps != nil {
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok {
			p.status = statusFromWait(ws)
		} else {
			p.status = Exited(ps.ExitCode())
		}
	} else {
		p.logger.Error("process_wait_failed", "pid", p.pid, "error", waitErr)
		p.status = Exited(1)
	}

	p.logger.Debug("process_reaped", "pid", p.pid, "status", p.status.String())
	return p.status
}

// readRaw reads up to the next line terminator. After a "\r" the following
// byte may not have arrived yet, so a "\n" is dropped on the next call
// instead of blocking for it here.
func (p *Process) readRaw() (string, error) {
	var b []byte
	for {
		c, err := p.reader.ReadByte()
		if err != nil {
			return string(b), err
		}
		if p.afterCR {
			p.afterCR = false
			if c == '\n' {
				continue
			}
		}
		switch c {
		case '\n':
			return string(b), nil
		case '\r':
			p.afterCR = true
			return string(b), nil
		}
		b = append(b, c)
	}
}
