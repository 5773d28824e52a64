package logstream

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/strux-dev/devagent/internal/unit"
)

// StartCommand streams the output of a following command. Both stdout and
// stderr lines go to callback. label is informational (e.g. the service
// name).
func (l *Streamer) StartCommand(streamID, label string, argv []string, callback LineFunc) error {
	return l.startCommand(streamID, label, [][]string{argv}, callback)
}

// startCommand registers the stream, then spawns the first candidate
// command that starts.
func (l *Streamer) startCommand(streamID, label string, candidates [][]string, callback LineFunc) error {
	s := newStream(streamID, label, KindCommand, callback)
	if err := l.streams.Register(streamID, s); err != nil {
		return fmt.Errorf("stream %w", err)
	}

	lastErr := errors.New("no command configured")
	for i, argv := range candidates {
		err := l.spawnFollower(s, argv)
		if err == nil {
			l.log.Info("started command stream", "stream", streamID, "command", argv[0], "label", label)
			return nil
		}
		lastErr = err
		if i+1 < len(candidates) {
			l.log.Warn("follower not available, trying fallback", "stream", streamID, "command", argv, "error", err)
		}
	}

	l.streams.RemoveIf(streamID, s)
	return fmt.Errorf("stream %q: %w: %w", streamID, unit.ErrSpawnFailed, lastErr)
}

// spawnFollower starts argv with its stdout and stderr on pipes and starts
// the reader and waiter goroutines.
func (l *Streamer) spawnFollower(s *stream, argv []string) error {
	if len(argv) == 0 {
		return errors.New("empty command")
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	// Own process group, so Stop also reaches anything the follower forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	err = cmd.Start()
	// The child has its copies of the write ends now.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		return err
	}

	if !s.attachCommand(cmd, stdoutR, stderrR) {
		s.release()
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go l.readPipe(s, stdoutR, &readers)
	go l.readPipe(s, stderrR, &readers)
	go l.waitCommand(s, cmd, &readers)
	return nil
}

// readPipe delivers each non-empty line read from pipe.
func (l *Streamer) readPipe(s *stream, pipe *os.File, readers *sync.WaitGroup) {
	defer readers.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !s.deliver(func() { s.callback(line) }) {
			return
		}
	}

	err := scanner.Err()
	if err == nil || errors.Is(err, os.ErrClosed) {
		return
	}
	readErr := fmt.Errorf("%w: %w", unit.ErrReadFailed, err)
	if s.deliver(func() { l.cfg.OnError(s.id, readErr) }) {
		l.log.Warn("command stream read failed", "stream", s.id, "error", err)
		// The waiter cleans up once the follower is gone.
		s.kill()
	}
}

// waitCommand reaps the follower, gives the readers DrainGrace to finish,
// then closes the pipes and removes the stream if it still owns its entry.
func (l *Streamer) waitCommand(s *stream, cmd *exec.Cmd, readers *sync.WaitGroup) {
	if err := unit.WaitExit(cmd.Process.Pid); err != nil {
		l.log.Debug("waiting for follower exit", "stream", s.id, "error", err)
	}
	s.markExited()
	waitErr := cmd.Wait()

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(l.cfg.DrainGrace):
	}
	s.closePipes()

	if !l.streams.RemoveIf(s.id, s) {
		return
	}
	if waitErr != nil {
		l.log.Warn("command stream ended", "stream", s.id, "error", waitErr)
	} else {
		l.log.Info("command stream ended", "stream", s.id)
	}
	s.release()
}
