package pty

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"
	"unicode/utf8"

	"github.com/strux-dev/devagent/internal/unit"
)

// StreamStdout is the stream name passed to OutputFunc. A PTY merges the
// shell's stdout and stderr, so it is the only one.
const StreamStdout = "stdout"

// outputDrainGrace bounds how long an exited shell's remaining output may
// take to reach OnOutput before OnExit is delivered. Background jobs that
// keep the terminal open would otherwise hold the exit back indefinitely.
const outputDrainGrace = 200 * time.Millisecond

// OutputFunc receives a chunk of terminal output.
type OutputFunc func(sessionID, stream, data string)

// ExitFunc receives the exit code of a shell that ended on its own.
type ExitFunc func(sessionID string, code int)

// ErrorFunc receives the error that ended a session's read loop.
type ErrorFunc func(sessionID string, err error)

// Config holds the configuration for creating a Manager.
//
// Callbacks run on the session's worker goroutines while the session's
// delivery lock is held. They must not call Stop or StopAll on the same
// Manager synchronously.
type Config struct {
	OnOutput OutputFunc
	OnExit   ExitFunc
	OnError  ErrorFunc

	// PreferredShell is used when the requested shell is not executable.
	// Defaults to /bin/bash.
	PreferredShell string
	// FallbackShell is used when neither is executable. Defaults to /bin/sh.
	FallbackShell string
	// Term is the TERM value for spawned shells. Defaults to xterm-256color.
	Term string
	// Dir is the working directory of spawned shells; empty means the
	// agent's own.
	Dir string
	// Rows and Cols set the initial window size. Default 24x80.
	Rows, Cols uint16

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.OnOutput == nil {
		c.OnOutput = func(string, string, string) {}
	}
	if c.OnExit == nil {
		c.OnExit = func(string, int) {}
	}
	if c.OnError == nil {
		c.OnError = func(string, error) {}
	}
	if c.PreferredShell == "" {
		c.PreferredShell = defaultPreferredShell
	}
	if c.FallbackShell == "" {
		c.FallbackShell = defaultFallbackShell
	}
	if c.Term == "" {
		c.Term = "xterm-256color"
	}
	if c.Rows == 0 {
		c.Rows = 24
	}
	if c.Cols == 0 {
		c.Cols = 80
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns interactive shell sessions keyed by session ID.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	sessions *unit.Registry[*session]
}

// NewManager creates a Manager. Several managers may coexist; each has its
// own registry.
func NewManager(cfg Config) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:      cfg,
		log:      cfg.Logger.With("component", "exec"),
		sessions: unit.NewRegistry[*session](),
	}
}

// Start spawns a shell for sessionID. If shell is empty or not executable
// the preferred shell, then the fallback shell, is used instead.
func (m *Manager) Start(sessionID, shell string) error {
	sess := newSession(sessionID)
	if err := m.sessions.Register(sessionID, sess); err != nil {
		return fmt.Errorf("session %w", err)
	}

	shellPath := ResolveShell(shell, m.cfg.PreferredShell, m.cfg.FallbackShell)
	cmd, ptmx, err := spawnShell(shellPath, m.cfg)
	if err != nil {
		m.sessions.RemoveIf(sessionID, sess)
		return fmt.Errorf("session %q: %w: %w", sessionID, unit.ErrSpawnFailed, err)
	}

	if !sess.attach(cmd, ptmx) {
		// Stopped while spawning; the wait loop still reaps the process.
		sess.release()
	}

	go m.readLoop(sess, ptmx)
	go m.waitLoop(sess)

	m.log.Info("started exec session", "session", sessionID, "shell", shellPath, "pid", cmd.Process.Pid)
	return nil
}

// SendInput writes data to the session's terminal unchanged, so control
// sequences such as Ctrl-C reach the shell. Concurrent callers are not
// ordered against each other.
func (m *Manager) SendInput(sessionID string, data string) error {
	sess, ok := m.sessions.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, unit.ErrNotFound)
	}
	if _, err := sess.Write([]byte(data)); err != nil {
		return fmt.Errorf("session %q: writing input: %w", sessionID, err)
	}
	return nil
}

// Resize sets the terminal size of a session.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("session %q: cols and rows must be positive", sessionID)
	}
	if cols > math.MaxUint16 || rows > math.MaxUint16 {
		return fmt.Errorf("session %q: window size %dx%d out of range", sessionID, cols, rows)
	}
	sess, ok := m.sessions.Lookup(sessionID)
	if !ok {
		return fmt.Errorf("session %q: %w", sessionID, unit.ErrNotFound)
	}
	if err := sess.Resize(cols, rows); err != nil {
		return fmt.Errorf("session %q: resizing: %w", sessionID, err)
	}
	return nil
}

// Stop kills a session's shell and releases its terminal. Unknown IDs are
// ignored, so Stop is idempotent. No callback for the session runs after
// Stop returns.
func (m *Manager) Stop(sessionID string) {
	sess, ok := m.sessions.Remove(sessionID)
	if !ok {
		return
	}
	m.log.Info("stopping exec session", "session", sessionID)
	sess.release()
}

// StopAll stops every active session.
func (m *Manager) StopAll() {
	sessions := m.sessions.Drain()
	if len(sessions) > 0 {
		m.log.Info("stopping all exec sessions", "count", len(sessions))
	}
	for _, sess := range sessions {
		sess.release()
	}
}

// IDs returns the identifiers of the active sessions.
func (m *Manager) IDs() []string {
	return m.sessions.IDs()
}

// readLoop forwards terminal output until the PTY read fails, which is
// also how a terminal hangup shows up. A multi-byte character split across
// reads is held back and sent with the next chunk, so every chunk is valid
// UTF-8 as long as the shell's output is.
func (m *Manager) readLoop(sess *session, ptmx *os.File) {
	defer close(sess.readDone)

	buf := make([]byte, 4096+utf8.UTFMax)
	held := 0
	for {
		n, err := ptmx.Read(buf[held:])
		n += held
		held = 0
		if err == nil {
			held = incompleteTail(buf[:n])
		}
		if n-held > 0 {
			data := string(buf[:n-held])
			if !sess.deliver(func() { m.cfg.OnOutput(sess.id, StreamStdout, data) }) {
				return
			}
			copy(buf, buf[n-held:n])
		}
		if err != nil {
			readErr := fmt.Errorf("%w: %w", unit.ErrReadFailed, err)
			if sess.deliver(func() { m.cfg.OnError(sess.id, readErr) }) {
				m.log.Debug("exec read loop ended", "session", sess.id, "error", err)
			}
			return
		}
	}
}

// incompleteTail returns the length of a truncated UTF-8 sequence at the
// end of b, or 0. Invalid bytes count as complete and are passed through.
func incompleteTail(b []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if utf8.RuneStart(c) {
			if utf8.FullRune(b[len(b)-i:]) {
				return 0
			}
			return i
		}
	}
	return 0
}

// waitLoop reaps the shell. If the session is still registered, it reports
// the exit code and tears the session down; otherwise Stop already did.
func (m *Manager) waitLoop(sess *session) {
	sess.mu.Lock()
	cmd := sess.cmd
	sess.mu.Unlock()

	if err := unit.WaitExit(cmd.Process.Pid); err != nil {
		m.log.Debug("waiting for shell exit", "session", sess.id, "error", err)
	}
	sess.markExited()
	result := exitResultOf(cmd.Wait())

	// Let the read loop deliver what the shell wrote before it exited.
	select {
	case <-sess.readDone:
	case <-time.After(outputDrainGrace):
	}

	if !m.sessions.RemoveIf(sess.id, sess) {
		return
	}

	m.log.Info("exec session exited", "session", sess.id, "code", result.Code(), "kind", result.Kind)
	sess.deliver(func() { m.cfg.OnExit(sess.id, result.Code()) })
	sess.release()
}
