package pty

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
)

func TestExitResultOf(t *testing.T) {
	t.Run("clean exit", func(t *testing.T) {
		r := exitResultOf(exec.Command("/bin/sh", "-c", "exit 0").Run())
		if r.Kind != Exited || r.Code() != 0 {
			t.Errorf("got %+v, code %d", r, r.Code())
		}
	})

	t.Run("nonzero exit", func(t *testing.T) {
		r := exitResultOf(exec.Command("/bin/sh", "-c", "exit 3").Run())
		if r.Kind != Exited || r.Status != 3 || r.Code() != 3 {
			t.Errorf("got %+v, code %d", r, r.Code())
		}
	})

	t.Run("killed by signal", func(t *testing.T) {
		r := exitResultOf(exec.Command("/bin/sh", "-c", "kill -9 $$").Run())
		if r.Kind != Signaled || r.Signal != syscall.SIGKILL {
			t.Errorf("got %+v", r)
		}
		if r.Code() != 1 {
			t.Errorf("expected code 1 for signaled exit, got %d", r.Code())
		}
	})

	t.Run("wait failure", func(t *testing.T) {
		r := exitResultOf(errors.New("wait: no child processes"))
		if r.Kind != WaitFailed || r.Code() != 1 {
			t.Errorf("got %+v, code %d", r, r.Code())
		}
	})
}
