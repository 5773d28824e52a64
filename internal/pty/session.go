package pty

import (
	"io"
	"os"
	"os/exec"
	"sync"

	ptylib "github.com/creack/pty"
)

// session is one shell attached to a PTY.
type session struct {
	id   string
	done chan struct{}

	// mu guards the fields below and is held while a callback for this
	// session runs, so nothing is delivered once stopped is set.
	mu      sync.Mutex
	cmd     *exec.Cmd
	pty     *os.File
	stopped bool
	// exited is set once the shell has exited but before it is reaped.
	exited bool

	// readDone is closed when the read loop returns.
	readDone chan struct{}
	doneOnce sync.Once
}

func newSession(id string) *session {
	return &session{id: id, done: make(chan struct{}), readDone: make(chan struct{})}
}

// attach records the spawned process. It reports false if the session was
// stopped while the spawn was in flight.
func (s *session) attach(cmd *exec.Cmd, ptmx *os.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	s.pty = ptmx
	return !s.stopped
}

func (s *session) file() *os.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pty
}

// deliver runs fn unless the session has been stopped.
func (s *session) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	fn()
	return true
}

// Write sends data to the PTY verbatim.
func (s *session) Write(data []byte) (int, error) {
	ptmx := s.file()
	if ptmx == nil {
		return 0, io.ErrClosedPipe
	}
	return ptmx.Write(data)
}

// Resize sets the shell's window size; the kernel sends it SIGWINCH.
// Bounds are checked by Manager.Resize.
func (s *session) Resize(cols, rows int) error {
	ptmx := s.file()
	if ptmx == nil {
		return io.ErrClosedPipe
	}
	return ptylib.Setsize(ptmx, &ptylib.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}
