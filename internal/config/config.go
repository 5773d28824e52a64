// Package config loads the agent's YAML configuration.
//
// The file is named by the --config flag or the DEVAGENT_CONFIG
// environment variable. A missing file is not an error: the agent runs
// with Default(). Values present in the file override the defaults field
// by field; unknown keys are rejected.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/strux-dev/devagent/internal/logstream"
)

// EnvVar names the environment variable that may hold the config path.
const EnvVar = "DEVAGENT_CONFIG"

// Config is the agent configuration.
type Config struct {
	// SocketPath is the Unix socket the control process connects to.
	SocketPath string `yaml:"socket_path"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	Exec ExecConfig `yaml:"exec"`
	Logs LogsConfig `yaml:"logs"`
}

// ExecConfig configures interactive shell sessions.
type ExecConfig struct {
	PreferredShell string `yaml:"preferred_shell"`
	FallbackShell  string `yaml:"fallback_shell"`
	Term           string `yaml:"term"`
	Dir            string `yaml:"dir"`
	Rows           uint16 `yaml:"rows"`
	Cols           uint16 `yaml:"cols"`
}

// LogsConfig configures log streams.
type LogsConfig struct {
	JournalCommand []string   `yaml:"journal_command"`
	EarlyCommands  [][]string `yaml:"early_commands"`

	AppLog  string `yaml:"app_log"`
	CageLog string `yaml:"cage_log"`

	FileWaitTimeout  time.Duration `yaml:"file_wait_timeout"`
	FileWaitInterval time.Duration `yaml:"file_wait_interval"`
	TailPollInterval time.Duration `yaml:"tail_poll_interval"`
	DrainGrace       time.Duration `yaml:"drain_grace"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SocketPath: "/run/strux/devagent.sock",
		LogLevel:   "info",
		Exec: ExecConfig{
			PreferredShell: "/bin/bash",
			FallbackShell:  "/bin/sh",
			Term:           "xterm-256color",
			Rows:           24,
			Cols:           80,
		},
		Logs: LogsConfig{
			JournalCommand:   slices.Clone(logstream.DefaultJournalCommand),
			EarlyCommands:    slices.Clone(logstream.DefaultEarlyCommands),
			AppLog:           logstream.DefaultAppLogPath,
			CageLog:          logstream.DefaultCageLogPath,
			FileWaitTimeout:  logstream.DefaultFileWaitTimeout,
			FileWaitInterval: logstream.DefaultFileWaitInterval,
			TailPollInterval: logstream.DefaultTailPollInterval,
			DrainGrace:       logstream.DefaultDrainGrace,
		},
	}
}

// Load reads the config file at path over the defaults. An empty path
// falls back to $DEVAGENT_CONFIG; if that is empty too, or the file does
// not exist, the defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvVar)
	}
	if path == "" {
		return cfg, nil
	}

	path, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.SocketPath, err = ExpandPath(cfg.SocketPath); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the agent cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if c.Exec.FallbackShell == "" {
		errs = append(errs, errors.New("exec.fallback_shell is required"))
	}
	if len(c.Logs.JournalCommand) == 0 {
		errs = append(errs, errors.New("logs.journal_command is required"))
	}
	if len(c.Logs.EarlyCommands) == 0 {
		errs = append(errs, errors.New("logs.early_commands is required"))
	}
	for i, argv := range c.Logs.EarlyCommands {
		if len(argv) == 0 {
			errs = append(errs, fmt.Errorf("logs.early_commands[%d] is empty", i))
		}
	}
	durations := map[string]time.Duration{
		"logs.file_wait_timeout":  c.Logs.FileWaitTimeout,
		"logs.file_wait_interval": c.Logs.FileWaitInterval,
		"logs.tail_poll_interval": c.Logs.TailPollInterval,
		"logs.drain_grace":        c.Logs.DrainGrace,
	}
	for name, d := range durations {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if path == "~" {
		return homeDir, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
