// Command devagent is the on-device development agent. It serves PTY
// shells and log streams to the host over a Unix socket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/pflag"

	"github.com/strux-dev/devagent/internal/api"
	"github.com/strux-dev/devagent/internal/config"
	"github.com/strux-dev/devagent/internal/logstream"
	"github.com/strux-dev/devagent/internal/pty"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		socketPath string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("devagent", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.EnvVar+")")
	flagSet.StringVar(&socketPath, "socket", "", "Unix socket path (overrides socket_path)")
	flagSet.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides log_level)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		if cfg.SocketPath, err = config.ExpandPath(socketPath); err != nil {
			return err
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	server := api.NewServer(api.Options{
		SocketPath: cfg.SocketPath,
		Exec: pty.Config{
			PreferredShell: cfg.Exec.PreferredShell,
			FallbackShell:  cfg.Exec.FallbackShell,
			Term:           cfg.Exec.Term,
			Dir:            cfg.Exec.Dir,
			Rows:           cfg.Exec.Rows,
			Cols:           cfg.Exec.Cols,
		},
		Logs: logstream.Config{
			JournalCommand:   cfg.Logs.JournalCommand,
			EarlyCommands:    cfg.Logs.EarlyCommands,
			AppLogPath:       cfg.Logs.AppLog,
			CageLogPath:      cfg.Logs.CageLog,
			FileWaitTimeout:  cfg.Logs.FileWaitTimeout,
			FileWaitInterval: cfg.Logs.FileWaitInterval,
			TailPollInterval: cfg.Logs.TailPollInterval,
			DrainGrace:       cfg.Logs.DrainGrace,
		},
		Logger: logger,
	})
	if err := server.Listen(); err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.SocketPath, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn("sd_notify failed", "error", err)
	}
	logger.Info("devagent started", "socket", cfg.SocketPath, "level", level.String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			server.Stop()
			return fmt.Errorf("serving: %w", err)
		}
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	server.Stop()
	os.Remove(cfg.SocketPath)
	logger.Info("shutdown complete")
	return nil
}
