package logstream

import (
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/strux-dev/devagent/internal/unit"
)

// Default follower commands and tailed files.
var (
	DefaultJournalCommand = []string{"journalctl", "-f", "--no-pager", "-o", "short-precise"}
	DefaultEarlyCommands  = [][]string{
		{"journalctl", "-b", "-f", "--no-pager", "-o", "short-precise"},
		{"dmesg", "-w"},
	}
)

const (
	DefaultAppLogPath  = "/tmp/strux-backend.log"
	DefaultCageLogPath = "/tmp/strux-cage.log"

	DefaultFileWaitTimeout  = 60 * time.Second
	DefaultFileWaitInterval = 500 * time.Millisecond
	DefaultTailPollInterval = 100 * time.Millisecond
	DefaultDrainGrace       = 100 * time.Millisecond

	maxLineSize = 1024 * 1024
)

// Config holds the configuration for creating a Streamer. Zero values take
// the defaults above.
type Config struct {
	// JournalCommand follows the whole journal. Service streams append
	// "-u <service>" to it.
	JournalCommand []string
	// EarlyCommands are tried in order for early-boot streams; the first
	// that spawns wins.
	EarlyCommands [][]string

	AppLogPath  string
	CageLogPath string

	// FileWaitTimeout bounds how long a file tail waits for its file to
	// appear before going idle.
	FileWaitTimeout time.Duration
	// FileWaitInterval is the existence poll period.
	FileWaitInterval time.Duration
	// TailPollInterval is the sleep after reaching end of file.
	TailPollInterval time.Duration
	// DrainGrace is how long a finished follower's readers may keep
	// draining before the stream is cleaned up.
	DrainGrace time.Duration

	// OnError receives read failures. It runs with the stream's delivery
	// lock held and must not call Stop or StopAll synchronously.
	OnError func(streamID string, err error)

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if len(c.JournalCommand) == 0 {
		c.JournalCommand = DefaultJournalCommand
	}
	if len(c.EarlyCommands) == 0 {
		c.EarlyCommands = DefaultEarlyCommands
	}
	if c.AppLogPath == "" {
		c.AppLogPath = DefaultAppLogPath
	}
	if c.CageLogPath == "" {
		c.CageLogPath = DefaultCageLogPath
	}
	if c.FileWaitTimeout <= 0 {
		c.FileWaitTimeout = DefaultFileWaitTimeout
	}
	if c.FileWaitInterval <= 0 {
		c.FileWaitInterval = DefaultFileWaitInterval
	}
	if c.TailPollInterval <= 0 {
		c.TailPollInterval = DefaultTailPollInterval
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = DefaultDrainGrace
	}
	if c.OnError == nil {
		c.OnError = func(string, error) {}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Streamer manages log streams.
type Streamer struct {
	cfg     Config
	log     *slog.Logger
	streams *unit.Registry[*stream]
}

// New creates a Streamer with its own registry.
func New(cfg Config) *Streamer {
	cfg.setDefaults()
	return &Streamer{
		cfg:     cfg,
		log:     cfg.Logger.With("component", "logs"),
		streams: unit.NewRegistry[*stream](),
	}
}

// StartJournal streams the whole system journal.
func (l *Streamer) StartJournal(streamID string, callback LineFunc) error {
	return l.StartCommand(streamID, "", l.cfg.JournalCommand, callback)
}

// StartService streams the journal of one systemd unit.
func (l *Streamer) StartService(streamID, serviceName string, callback LineFunc) error {
	if serviceName == "" {
		return fmt.Errorf("stream %q: service name is required", streamID)
	}
	argv := append(slices.Clone(l.cfg.JournalCommand), "-u", serviceName)
	return l.StartCommand(streamID, serviceName, argv, callback)
}

// StartEarly streams best-effort early boot logs, preferring the boot
// journal and falling back to the kernel ring buffer.
func (l *Streamer) StartEarly(streamID string, callback LineFunc) error {
	return l.startCommand(streamID, "", l.cfg.EarlyCommands, callback)
}

// StartAppLog tails the application log file.
func (l *Streamer) StartAppLog(streamID string, callback LineFunc) error {
	return l.StartFile(streamID, l.cfg.AppLogPath, callback)
}

// StartCageLog tails the compositor log file.
func (l *Streamer) StartCageLog(streamID string, callback LineFunc) error {
	return l.StartFile(streamID, l.cfg.CageLogPath, callback)
}

// Stop stops a stream. Unknown IDs are ignored. No line or error for the
// stream is delivered after Stop returns.
func (l *Streamer) Stop(streamID string) {
	s, ok := l.streams.Remove(streamID)
	if !ok {
		l.log.Debug("stream not found", "stream", streamID)
		return
	}
	l.log.Info("stopping stream", "stream", streamID, "kind", s.kind)
	s.release()
}

// StopAll stops every active stream.
func (l *Streamer) StopAll() {
	streams := l.streams.Drain()
	if len(streams) > 0 {
		l.log.Info("stopping all streams", "count", len(streams))
	}
	for _, s := range streams {
		s.release()
	}
}

// ActiveIDs returns the identifiers of the active streams.
func (l *Streamer) ActiveIDs() []string {
	return l.streams.IDs()
}

// Streams describes the active streams, sorted by ID.
func (l *Streamer) Streams() []Info {
	ids := l.streams.IDs()
	infos := make([]Info, 0, len(ids))
	for _, id := range ids {
		if s, ok := l.streams.Lookup(id); ok {
			infos = append(infos, Info{ID: s.id, Label: s.label, Kind: s.kind})
		}
	}
	return infos
}
