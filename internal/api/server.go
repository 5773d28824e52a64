package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/strux-dev/devagent/internal/logstream"
	"github.com/strux-dev/devagent/internal/pty"
	"github.com/strux-dev/devagent/internal/unit"
)

// Options configures a Server. The callback fields of Exec and Logs are
// ignored; each connection installs its own.
type Options struct {
	SocketPath string
	Exec       pty.Config
	Logs       logstream.Config
	Logger     *slog.Logger
}

// Server handles UNIX socket connections from the control process. Each
// connection owns its own exec manager and log streamer.
type Server struct {
	opts     Options
	log      *slog.Logger
	listener net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}
	closing bool
	wg      sync.WaitGroup
}

// NewServer returns a Server for opts. Call Listen and Serve, or Start.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		log:     opts.Logger.With("component", "api"),
		clients: make(map[*client]struct{}),
	}
}

// Listen binds the socket, replacing a stale one. The socket is only
// accessible to the agent's user.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.opts.SocketPath), 0o755); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.opts.SocketPath)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.opts.SocketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}

	s.listener = listener
	s.log.Info("server listening", "socket", s.opts.SocketPath)
	return nil
}

// Serve accepts connections until Stop is called.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return err
		}
		s.accept(conn)
	}
}

// Start listens and serves.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

func (s *Server) accept(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		conn.Close()
		return
	}

	c := newClient(conn, s.opts, s.log)
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.serve()
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()
}

// Stop closes the listener and every connection, and waits until each
// connection has stopped its sessions and streams.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	for _, c := range clients {
		c.close()
	}
	s.wg.Wait()
	s.log.Info("server stopped")
}

// errorCode maps the unit errors to stable response codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, unit.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, unit.ErrNotFound):
		return "not_found"
	case errors.Is(err, unit.ErrSpawnFailed):
		return "spawn_failed"
	}
	return ""
}
