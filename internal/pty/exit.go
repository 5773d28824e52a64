package pty

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitKind says how a shell process ended.
type ExitKind int

const (
	// Exited means the process returned an exit status.
	Exited ExitKind = iota
	// Signaled means the process was terminated by a signal.
	Signaled
	// WaitFailed means waiting on the process itself failed.
	WaitFailed
)

func (k ExitKind) String() string {
	switch k {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case WaitFailed:
		return "wait-failed"
	}
	return fmt.Sprintf("ExitKind(%d)", int(k))
}

// ExitResult describes the end of a shell process.
type ExitResult struct {
	Kind   ExitKind
	Status int
	Signal syscall.Signal
	Err    error
}

// exitResultOf classifies the error returned by exec.Cmd.Wait.
func exitResultOf(err error) ExitResult {
	if err == nil {
		return ExitResult{Kind: Exited}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitResult{Kind: Signaled, Signal: ws.Signal(), Err: err}
		}
		return ExitResult{Kind: Exited, Status: exitErr.ExitCode()}
	}
	return ExitResult{Kind: WaitFailed, Err: err}
}

// Code collapses the result to the integer reported to exit callbacks:
// the exit status for a normal exit, 1 otherwise.
func (r ExitResult) Code() int {
	if r.Kind == Exited {
		return r.Status
	}
	return 1
}
