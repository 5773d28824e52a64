package logstream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/strux-dev/devagent/internal/unit"
)

var errStreamStopped = errors.New("stream stopped")

// StartFile tails path, delivering only lines appended after the file is
// opened. The file need not exist yet: the stream is registered at once
// and a background worker waits up to FileWaitTimeout for it to appear.
func (l *Streamer) StartFile(streamID, path string, callback LineFunc) error {
	s := newStream(streamID, path, KindFile, callback)
	if err := l.streams.Register(streamID, s); err != nil {
		return fmt.Errorf("stream %w", err)
	}
	l.log.Info("started file stream", "stream", streamID, "path", path)
	go l.followFile(s, path)
	return nil
}

func (l *Streamer) followFile(s *stream, path string) {
	if err := l.waitForFile(s, path); err != nil {
		if errors.Is(err, unit.ErrFileUnavailable) {
			// Not an error for the caller: the producer may never start.
			l.log.Info("log file never appeared, stream idle", "stream", s.id, "error", err)
		}
		return
	}

	f, err := os.Open(path)
	if err != nil {
		l.fail(s, err)
		return
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		l.fail(s, err)
		return
	}
	if !s.attachFile(f) {
		f.Close()
		return
	}
	l.tailFile(s, f)
}

// waitForFile polls for path until it exists, the stream is stopped, or
// FileWaitTimeout passes.
func (l *Streamer) waitForFile(s *stream, path string) error {
	deadline := time.Now().Add(l.cfg.FileWaitTimeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%s: %w after %v", path, unit.ErrFileUnavailable, l.cfg.FileWaitTimeout)
		}
		select {
		case <-s.done:
			return errStreamStopped
		case <-time.After(l.cfg.FileWaitInterval):
		}
	}
}

// tailFile delivers complete lines as they are appended. A trailing
// partial line is held until its newline arrives. If the file shrinks it
// is read again from the start.
func (l *Streamer) tailFile(s *stream, f *os.File) {
	reader := bufio.NewReader(f)
	var partial strings.Builder

	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)

		if err == nil {
			line := strings.TrimSuffix(strings.TrimSuffix(partial.String(), "\n"), "\r")
			partial.Reset()
			if line == "" {
				continue
			}
			if !s.deliver(func() { s.callback(line) }) {
				return
			}
			continue
		}

		if !errors.Is(err, io.EOF) {
			if !s.isStopped() {
				l.fail(s, err)
			}
			return
		}

		select {
		case <-s.done:
			return
		case <-time.After(l.cfg.TailPollInterval):
		}

		if truncated(f) {
			l.log.Info("log file truncated, rereading from start", "stream", s.id, "path", s.label)
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				l.fail(s, err)
				return
			}
			reader.Reset(f)
			partial.Reset()
		}
	}
}

// truncated reports whether f is now shorter than the current read offset.
// Only valid when the reader has consumed everything it buffered.
func truncated(f *os.File) bool {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Size() < offset
}

// fail reports a file stream read error and tears the stream down.
func (l *Streamer) fail(s *stream, err error) {
	if !l.streams.RemoveIf(s.id, s) {
		return
	}
	readErr := fmt.Errorf("%w: %w", unit.ErrReadFailed, err)
	l.log.Warn("file stream failed", "stream", s.id, "path", s.label, "error", err)
	s.deliver(func() { l.cfg.OnError(s.id, readErr) })
	s.release()
}
