// Command devagentctl talks to a running devagent over its Unix socket.
//
// Usage:
//
//	devagentctl [--socket PATH] shell [SHELL]
//	devagentctl [--socket PATH] logs journal|early|app|cage
//	devagentctl [--socket PATH] logs service NAME
//	devagentctl [--socket PATH] list
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/strux-dev/devagent/internal/api"
	"github.com/strux-dev/devagent/internal/config"
)

func main() {
	if err := run(); err != nil {
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var socketPath string
	flagSet := pflag.NewFlagSet("devagentctl", pflag.ContinueOnError)
	flagSet.StringVar(&socketPath, "socket", config.Default().SocketPath, "agent socket path")
	flagSet.SetInterspersed(false)
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	args := flagSet.Args()
	if len(args) == 0 {
		return errors.New("usage: devagentctl [--socket PATH] shell|logs|list")
	}

	socketPath, err := config.ExpandPath(socketPath)
	if err != nil {
		return err
	}
	c, err := dial(socketPath)
	if err != nil {
		return err
	}
	defer c.Close()

	switch args[0] {
	case "shell":
		shell := ""
		if len(args) > 1 {
			shell = args[1]
		}
		return cmdShell(c, shell)
	case "logs":
		if len(args) < 2 {
			return errors.New("usage: devagentctl logs journal|service NAME|early|app|cage")
		}
		req := api.LogsStartRequest{Kind: args[1]}
		if req.Kind == api.LogKindService {
			if len(args) < 3 {
				return errors.New("usage: devagentctl logs service NAME")
			}
			req.Service = args[2]
		}
		return cmdLogs(c, req)
	case "list":
		return cmdList(c)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func cmdShell(c *conn, shell string) error {
	var started api.StartResponse
	if err := c.call(api.ActionExecStart, api.ExecStartRequest{Shell: shell}, &started); err != nil {
		return err
	}
	id := started.ID

	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		if cols, rows, err := term.GetSize(stdinFd); err == nil {
			_ = c.call(api.ActionExecResize, api.ResizeRequest{ID: id, Cols: cols, Rows: rows}, nil)
		}
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			return fmt.Errorf("setting raw mode: %w", err)
		}
		defer term.Restore(stdinFd, oldState)
	}

	// Forward stdin. In raw mode Ctrl+C reaches the remote shell as input.
	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			if err := c.call(api.ActionExecInput, api.ExecInputRequest{ID: id, Data: string(buf[:n])}, nil); err != nil {
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return errors.New("connection closed")
			}
			if ev.ID != id {
				continue
			}
			switch ev.Event {
			case api.EventOutput:
				os.Stdout.WriteString(ev.Text())
			case api.EventExit:
				if ev.Code != nil && *ev.Code != 0 {
					return exitCode(*ev.Code)
				}
				return nil
			}
		case sig := <-sigCh:
			if sig != syscall.SIGWINCH {
				return c.call(api.ActionExecStop, api.StopRequest{ID: id}, nil)
			}
			if cols, rows, err := term.GetSize(stdinFd); err == nil {
				_ = c.call(api.ActionExecResize, api.ResizeRequest{ID: id, Cols: cols, Rows: rows}, nil)
			}
		}
	}
}

// exitCode carries the remote shell's status out of run.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("shell exited with status %d", int(e)) }

func (e exitCode) ExitCode() int { return int(e) }

func cmdLogs(c *conn, req api.LogsStartRequest) error {
	var started api.StartResponse
	if err := c.call(api.ActionLogsStart, req, &started); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				return errors.New("connection closed")
			}
			switch ev.Event {
			case api.EventLog:
				fmt.Println(ev.Text())
			case api.EventError:
				fmt.Fprintf(os.Stderr, "stream error: %s\n", ev.Text())
			}
		case <-sigCh:
			return c.call(api.ActionLogsStop, api.StopRequest{ID: started.ID}, nil)
		}
	}
}

func cmdList(c *conn) error {
	var list api.ListResponse
	if err := c.call(api.ActionList, nil, &list); err != nil {
		return err
	}
	fmt.Printf("sessions: %d\n", len(list.Sessions))
	for _, id := range list.Sessions {
		fmt.Printf("  %s\n", id)
	}
	fmt.Printf("streams: %d\n", len(list.Streams))
	for _, s := range list.Streams {
		fmt.Printf("  %s\t%s\t%s\n", s.ID, s.Kind, s.Label)
	}
	return nil
}
