package procs

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	testCases := []struct {
		name             string
		argv0, exe, comm string
		want             bool
	}{
		{"by argv0 basename", "/usr/local/src/qemu/build/qemu-system-xtensa", "", "", true},
		{"by exe basename", "", "/opt/qemu/qemu-system-xtensa", "", true},
		{"by truncated comm", "", "", "qemu-system-xte", true},
		{"comm of another binary", "", "", "qemu-system-x86", false},
		{"argv0 of another binary", "/usr/bin/qemu-system-riscv32", "", "", false},
		{"nothing known", "", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := Matches("qemu-system-xtensa", tc.argv0, tc.exe, tc.comm)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMatches_EmptyName(t *testing.T) {
	assert.False(t, Matches("", "/bin/sleep", "/bin/sleep", "sleep"))
}

func requireProc(t *testing.T) *Reaper {
	t.Helper()
	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skip("procfs not available")
	}
	r, err := NewReaper(ScopeGroup, nil)
	require.NoError(t, err)
	return r
}

func startSleeper(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func TestKillByName_GroupScope(t *testing.T) {
	r := requireProc(t)

	target := startSleeper(t)
	bystander := startSleeper(t)

	res, err := r.KillByName("sleep", target.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Killed)

	err = target.Wait()
	var exitErr *exec.ExitError
	require.True(t, errors.As(err, &exitErr), "want ExitError, got %v", err)
	ws := exitErr.Sys().(syscall.WaitStatus)
	assert.True(t, ws.Signaled())
	assert.Equal(t, syscall.SIGKILL, ws.Signal())

	// The sleeper in the other group survives.
	assert.NoError(t, bystander.Process.Signal(syscall.Signal(0)))
}

func TestKillByName_NoMatchIsNotAnError(t *testing.T) {
	r := requireProc(t)

	res, err := r.KillByName("no-such-binary-xyz-123", os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestKillByName_SignalFailureSkipped(t *testing.T) {
	r := requireProc(t)
	r.Signal = func(pid int) error { return syscall.EPERM }

	target := startSleeper(t)

	res, err := r.KillByName("sleep", target.Process.Pid)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 0, res.Killed)
	assert.Equal(t, 1, res.Skipped)
}
