package unit

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// WaitExit blocks until the process pid has exited, without reaping it.
// The pid stays allocated until the caller's Wait, so a unit can record the
// exit before any later kill could reach a reused pid.
func WaitExit(pid int) error {
	var info unix.Siginfo
	for {
		err := unix.Waitid(unix.P_PID, pid, &info, unix.WEXITED|unix.WNOWAIT, nil)
		if !errors.Is(err, unix.EINTR) {
			return err
		}
	}
}

// KillGroup sends SIGKILL to the process group led by proc, falling back
// to the process alone.
func KillGroup(proc *os.Process) {
	if err := unix.Kill(-proc.Pid, unix.SIGKILL); err != nil {
		_ = proc.Kill()
	}
}
