package pty

import "github.com/strux-dev/devagent/internal/unit"

// release marks the session stopped, signals done, kills the shell's
// process group and closes the PTY. Only the caller that removed the
// session from the registry calls it; later calls are harmless.
func (s *session) release() {
	s.mu.Lock()
	s.stopped = true
	ptmx := s.pty
	// The kill happens under mu so it cannot race markExited: until the
	// shell is reaped its pid, which is also the group id, is not reused.
	if s.cmd != nil && s.cmd.Process != nil && !s.exited {
		unit.KillGroup(s.cmd.Process)
	}
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })

	if ptmx != nil {
		_ = ptmx.Close()
	}
}

// markExited records that the shell has exited. It is called after
// unit.WaitExit and before the shell is reaped.
func (s *session) markExited() {
	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()
}
