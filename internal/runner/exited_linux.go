package runner

import "golang.org/x/sys/unix"

// childExited reports whether the child has terminated without reaping it,
// so the single wait stays in ExitCode.
func (p *Process) childExited() bool {
	var info unix.Siginfo
	err := unix.Waitid(unix.P_PID, p.pid, &info, unix.WEXITED|unix.WNOHANG|unix.WNOWAIT, nil)
	if err != nil {
		// ECHILD: nothing left to wait for.
		return true
	}
	return info.Signo != 0
}
