package logstream

import (
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/strux-dev/devagent/internal/unit"
)

// LineFunc is called for each log line, without its trailing newline.
type LineFunc func(line string)

// Kind distinguishes command-backed streams from file tails.
type Kind int

const (
	KindCommand Kind = iota
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindFile:
		return "file"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Info describes an active stream.
type Info struct {
	ID    string
	Label string
	Kind  Kind
}

// stream is one active log stream. Command streams hold cmd and pipes,
// file streams hold file; never both.
type stream struct {
	id       string
	label    string
	kind     Kind
	callback LineFunc
	done     chan struct{}

	// mu guards the fields below and is held while the callback runs.
	mu      sync.Mutex
	stopped bool
	cmd     *exec.Cmd
	pipes   []*os.File
	file    *os.File
	// exited is set once the follower has exited but before it is reaped.
	exited bool

	doneOnce sync.Once
}

func newStream(id, label string, kind Kind, callback LineFunc) *stream {
	if callback == nil {
		callback = func(string) {}
	}
	return &stream{
		id:       id,
		label:    label,
		kind:     kind,
		callback: callback,
		done:     make(chan struct{}),
	}
}

// deliver runs fn unless the stream has been stopped.
func (s *stream) deliver(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	fn()
	return true
}

func (s *stream) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// attachCommand records a spawned follower. It reports false if the stream
// was stopped while the spawn was in flight.
func (s *stream) attachCommand(cmd *exec.Cmd, pipes ...*os.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmd = cmd
	s.pipes = pipes
	return !s.stopped
}

// attachFile records the opened file, with the same contract as
// attachCommand.
func (s *stream) attachFile(f *os.File) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file = f
	return !s.stopped
}

func (s *stream) closePipes() {
	s.mu.Lock()
	pipes := s.pipes
	s.mu.Unlock()
	for _, p := range pipes {
		_ = p.Close()
	}
}

// kill terminates the follower's process group, if the follower is still
// running. Checking exited and signalling under mu keeps the kill away
// from a reaped, possibly reused, pid.
func (s *stream) kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil || s.exited {
		return
	}
	unit.KillGroup(s.cmd.Process)
}

func (s *stream) markExited() {
	s.mu.Lock()
	s.exited = true
	s.mu.Unlock()
}

// release marks the stream stopped so no further line is delivered,
// signals done, and frees the process or file. It is called by whichever
// path removed the stream from the registry.
func (s *stream) release() {
	s.mu.Lock()
	s.stopped = true
	file := s.file
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })

	s.kill()
	s.closePipes()
	if file != nil {
		_ = file.Close()
	}
}
