package pty

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/strux-dev/devagent/internal/unit"
)

// recorder collects callbacks from a Manager.
type recorder struct {
	mu     sync.Mutex
	output map[string]*strings.Builder
	errs   map[string][]error
	exits  chan exitEvent
	calls  atomic.Int64
	// invalid counts output chunks that are not valid UTF-8.
	invalid atomic.Int64
}

type exitEvent struct {
	id   string
	code int
}

func newRecorder() *recorder {
	return &recorder{
		output: make(map[string]*strings.Builder),
		errs:   make(map[string][]error),
		exits:  make(chan exitEvent, 16),
	}
}

func (r *recorder) config() Config {
	return Config{
		OnOutput: func(id, stream, data string) {
			r.calls.Add(1)
			if !utf8.ValidString(data) {
				r.invalid.Add(1)
			}
			r.mu.Lock()
			defer r.mu.Unlock()
			b, ok := r.output[id]
			if !ok {
				b = &strings.Builder{}
				r.output[id] = b
			}
			b.WriteString(data)
		},
		OnExit: func(id string, code int) {
			r.calls.Add(1)
			r.exits <- exitEvent{id, code}
		},
		OnError: func(id string, err error) {
			r.calls.Add(1)
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs[id] = append(r.errs[id], err)
		},
		FallbackShell: "/bin/sh",
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (r *recorder) errorsOf(id string) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs[id]...)
}

func (r *recorder) outputOf(id string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.output[id]; ok {
		return b.String()
	}
	return ""
}

// waitFor polls cond until it holds or the timeout expires.
func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, what)
}

func newTestManager(t *testing.T) (*Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	m := NewManager(rec.config())
	t.Cleanup(m.StopAll)
	return m, rec
}

func TestManager_FallbackShellEcho(t *testing.T) {
	rec := newRecorder()
	cfg := rec.config()
	cfg.PreferredShell = "/nonexistent/bash"
	m := NewManager(cfg)
	defer m.StopAll()

	if err := m.Start("shell-1", ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.SendInput("shell-1", "echo hi\n"); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}
	waitFor(t, 5*time.Second, "output containing hi", func() bool {
		return strings.Contains(rec.outputOf("shell-1"), "hi")
	})

	// The terminal echoes the input line, so check a computed value too.
	if err := m.SendInput("shell-1", "echo $((40+2))\n"); err != nil {
		t.Fatalf("SendInput failed: %v", err)
	}
	waitFor(t, 5*time.Second, "computed output", func() bool {
		return strings.Contains(rec.outputOf("shell-1"), "42")
	})
}

func TestManager_DuplicateStart(t *testing.T) {
	m, _ := newTestManager(t)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Start("dup", "")
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, unit.ErrAlreadyExists):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || dup != 1 {
		t.Errorf("expected one success and one ErrAlreadyExists, got %v", errs)
	}
	if ids := m.IDs(); len(ids) != 1 || ids[0] != "dup" {
		t.Errorf("expected [dup], got %v", ids)
	}
}

func TestManager_UnknownSession(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.SendInput("nope", "x"); !errors.Is(err, unit.ErrNotFound) {
		t.Errorf("SendInput: expected ErrNotFound, got %v", err)
	}
	if err := m.Resize("nope", 80, 24); !errors.Is(err, unit.ErrNotFound) {
		t.Errorf("Resize: expected ErrNotFound, got %v", err)
	}
	m.Stop("nope")
}

func TestManager_SpawnFailed(t *testing.T) {
	rec := newRecorder()
	cfg := rec.config()
	cfg.PreferredShell = "/nonexistent/bash"
	cfg.FallbackShell = "/nonexistent/sh"
	m := NewManager(cfg)

	err := m.Start("broken", "")
	if !errors.Is(err, unit.ErrSpawnFailed) {
		t.Fatalf("expected ErrSpawnFailed, got %v", err)
	}
	if len(m.IDs()) != 0 {
		t.Errorf("failed start left a registry entry: %v", m.IDs())
	}
	// A failed start must not occupy the identifier.
	if err := m.Start("broken", ""); errors.Is(err, unit.ErrAlreadyExists) {
		t.Errorf("identifier still occupied after failed spawn: %v", err)
	}
}

func TestManager_StopAndReuse(t *testing.T) {
	m, _ := newTestManager(t)

	if err := m.Start("s", ""); err != nil {
		t.Fatal(err)
	}
	m.Stop("s")
	m.Stop("s")
	if len(m.IDs()) != 0 {
		t.Fatalf("expected no sessions after Stop, got %v", m.IDs())
	}
	if err := m.Start("s", ""); err != nil {
		t.Fatalf("restart with the same id failed: %v", err)
	}
}

func TestManager_NoCallbackAfterStop(t *testing.T) {
	m, rec := newTestManager(t)

	if err := m.Start("busy", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SendInput("busy", "while true; do echo tick; sleep 0.01; done\n"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "ticks", func() bool {
		return strings.Count(rec.outputOf("busy"), "tick") > 3
	})

	m.Stop("busy")
	after := rec.calls.Load()
	time.Sleep(300 * time.Millisecond)
	if got := rec.calls.Load(); got != after {
		t.Errorf("%d callbacks fired after Stop returned", got-after)
	}
	select {
	case ev := <-rec.exits:
		t.Errorf("unexpected exit callback after Stop: %+v", ev)
	default:
	}
}

func TestManager_NaturalExit(t *testing.T) {
	m, rec := newTestManager(t)

	if err := m.Start("exiter", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SendInput("exiter", "exit 7\n"); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-rec.exits:
		if ev.id != "exiter" || ev.code != 7 {
			t.Errorf("expected exit 7 for exiter, got %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
	waitFor(t, 2*time.Second, "session removal", func() bool {
		return len(m.IDs()) == 0
	})

	// The hangup that ends the read loop is reported before the exit.
	errs := rec.errorsOf("exiter")
	if len(errs) != 1 || !errors.Is(errs[0], unit.ErrReadFailed) {
		t.Errorf("expected one ErrReadFailed on hangup, got %v", errs)
	}
	if err := m.SendInput("exiter", "x"); !errors.Is(err, unit.ErrNotFound) {
		t.Errorf("expected ErrNotFound after exit, got %v", err)
	}
}

func TestManager_SignaledExit(t *testing.T) {
	m, rec := newTestManager(t)

	if err := m.Start("victim", ""); err != nil {
		t.Fatal(err)
	}
	if err := m.SendInput("victim", "kill -9 $$\n"); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-rec.exits:
		if ev.code != 1 {
			t.Errorf("expected exit code 1 for a killed shell, got %d", ev.code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit callback")
	}
}

func TestManager_Resize(t *testing.T) {
	m, rec := newTestManager(t)

	if err := m.Start("sized", ""); err != nil {
		t.Fatal(err)
	}
	for _, size := range [][2]int{{0, 24}, {80, -1}, {65616, 24}, {80, 70000}} {
		if err := m.Resize("sized", size[0], size[1]); err == nil {
			t.Errorf("expected error for %dx%d", size[0], size[1])
		}
	}
	if err := m.Resize("sized", 100, 40); err != nil {
		t.Fatalf("Resize failed: %v", err)
	}
	if err := m.SendInput("sized", "stty size\n"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 5*time.Second, "stty size output", func() bool {
		return strings.Contains(rec.outputOf("sized"), "40 100")
	})
}

func TestManager_StopAll(t *testing.T) {
	m, _ := newTestManager(t)

	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		if err := m.Start(id, ""); err != nil {
			t.Fatalf("Start %s: %v", id, err)
		}
	}
	m.StopAll()
	if len(m.IDs()) != 0 {
		t.Fatalf("expected empty registry after StopAll, got %v", m.IDs())
	}
	for _, id := range ids {
		if err := m.Start(id, ""); err != nil {
			t.Errorf("restart %s after StopAll: %v", id, err)
		}
	}
}

func TestManager_MultiByteOutputIntact(t *testing.T) {
	m, rec := newTestManager(t)

	if err := m.Start("utf8", ""); err != nil {
		t.Fatal(err)
	}
	// Far more than one read buffer, so characters straddle chunk edges.
	const n = 50000
	if err := m.SendInput("utf8", "head -c 50000 /dev/zero | tr '\\0' x | sed 's/x/é/g'; echo; echo DONE\n"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, 10*time.Second, "all output", func() bool {
		return strings.Count(rec.outputOf("utf8"), "é") >= n
	})

	if got := rec.invalid.Load(); got != 0 {
		t.Errorf("%d output chunks were not valid UTF-8", got)
	}
	if strings.ContainsRune(rec.outputOf("utf8"), utf8.RuneError) {
		t.Error("output contains U+FFFD")
	}
}

func TestIncompleteTail(t *testing.T) {
	e := "é"   // 2 bytes
	euro := "€" // 3 bytes
	face := "😀" // 4 bytes
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"empty", "", 0},
		{"ascii", "abc", 0},
		{"complete two-byte", "a" + e, 0},
		{"split two-byte", "a" + e[:1], 1},
		{"split three-byte after one", "a" + euro[:1], 1},
		{"split three-byte after two", "a" + euro[:2], 2},
		{"split four-byte after three", face[:3], 3},
		{"complete four-byte", "a" + face, 0},
		{"stray continuation byte", "a\x80", 0},
		{"invalid start byte", "a\xff", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := incompleteTail([]byte(tt.in)); got != tt.want {
				t.Errorf("incompleteTail(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
