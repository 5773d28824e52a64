package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strux-dev/devagent/internal/logstream"
	"github.com/strux-dev/devagent/internal/pty"
)

// writeTimeout bounds a single frame write, so a client that stops reading
// cannot wedge the session workers delivering to it.
const writeTimeout = 10 * time.Second

// client is one control connection and everything it started.
type client struct {
	id   string
	conn net.Conn
	log  *slog.Logger

	encMu sync.Mutex
	enc   *json.Encoder

	exec *pty.Manager
	logs *logstream.Streamer

	closeOnce sync.Once
}

func newClient(conn net.Conn, opts Options, logger *slog.Logger) *client {
	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		enc:  json.NewEncoder(conn),
	}
	c.log = logger.With("client", c.id)

	execCfg := opts.Exec
	execCfg.Logger = c.log
	execCfg.OnOutput = func(id, stream, data string) {
		c.send(Event{Type: TypeEvent, Event: EventOutput, ID: id, Stream: stream, Data: data})
	}
	execCfg.OnExit = func(id string, code int) {
		c.send(Event{Type: TypeEvent, Event: EventExit, ID: id, Code: &code})
	}
	execCfg.OnError = func(id string, err error) {
		c.send(Event{Type: TypeEvent, Event: EventError, ID: id, Data: err.Error()})
	}
	c.exec = pty.NewManager(execCfg)

	logsCfg := opts.Logs
	logsCfg.Logger = c.log
	logsCfg.OnError = func(id string, err error) {
		c.send(Event{Type: TypeEvent, Event: EventError, ID: id, Data: err.Error()})
	}
	c.logs = logstream.New(logsCfg)

	return c
}

// send writes one frame. A failed write closes the connection, which ends
// the request loop and stops everything this client started.
func (c *client) send(v any) {
	c.encMu.Lock()
	defer c.encMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.enc.Encode(v); err != nil {
		c.log.Debug("write failed, closing connection", "error", err)
		c.close()
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { c.conn.Close() })
}

// serve handles requests until the connection ends, then stops every
// session and stream the client started.
func (c *client) serve() {
	c.log.Info("client connected")
	defer func() {
		c.exec.StopAll()
		c.logs.StopAll()
		c.close()
		c.log.Info("client disconnected")
	}()

	decoder := json.NewDecoder(c.conn)
	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			// A mistyped field still consumes the whole value, so the
			// stream is intact and the connection can go on.
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &typeErr) {
				c.send(Response{Type: TypeResponse, Ok: false, Err: "invalid request: " + err.Error()})
				continue
			}
			var syntaxErr *json.SyntaxError
			if errors.As(err, &syntaxErr) {
				c.send(Response{Type: TypeResponse, Ok: false, Err: "invalid request: " + err.Error()})
			}
			c.log.Debug("reading request failed", "error", err)
			return
		}

		resp := c.dispatch(req)
		resp.Type = TypeResponse
		resp.Seq = req.Seq
		c.send(resp)
	}
}

func (c *client) dispatch(req Request) Response {
	switch req.Action {
	case ActionExecStart:
		return c.handleExecStart(req.Data)
	case ActionExecInput:
		return c.handleExecInput(req.Data)
	case ActionExecResize:
		return c.handleExecResize(req.Data)
	case ActionExecStop:
		return c.handleStop(req.Data, c.exec.Stop)
	case ActionLogsStart:
		return c.handleLogsStart(req.Data)
	case ActionLogsStop:
		return c.handleStop(req.Data, c.logs.Stop)
	case ActionList:
		return c.handleList()
	default:
		return failure(fmt.Errorf("unknown action: %s", req.Action))
	}
}

func failure(err error) Response {
	return Response{Ok: false, Err: err.Error(), ErrCode: errorCode(err)}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid request data: %w", err)
	}
	return nil
}

func (c *client) handleExecStart(data json.RawMessage) Response {
	var req ExecStartRequest
	if err := decode(data, &req); err != nil {
		return failure(err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := c.exec.Start(req.ID, req.Shell); err != nil {
		return failure(err)
	}
	return Response{Ok: true, Data: StartResponse{ID: req.ID}}
}

func (c *client) handleExecInput(data json.RawMessage) Response {
	var req ExecInputRequest
	if err := decode(data, &req); err != nil {
		return failure(err)
	}
	if req.ID == "" {
		return failure(errors.New("session ID is required"))
	}
	if err := c.exec.SendInput(req.ID, req.Data); err != nil {
		return failure(err)
	}
	return Response{Ok: true}
}

func (c *client) handleExecResize(data json.RawMessage) Response {
	var req ResizeRequest
	if err := decode(data, &req); err != nil {
		return failure(err)
	}
	if req.ID == "" {
		return failure(errors.New("session ID is required"))
	}
	if err := c.exec.Resize(req.ID, req.Cols, req.Rows); err != nil {
		return failure(err)
	}
	return Response{Ok: true}
}

func (c *client) handleStop(data json.RawMessage, stop func(string)) Response {
	var req StopRequest
	if err := decode(data, &req); err != nil {
		return failure(err)
	}
	if req.ID == "" {
		return failure(errors.New("ID is required"))
	}
	stop(req.ID)
	return Response{Ok: true}
}

func (c *client) handleLogsStart(data json.RawMessage) Response {
	var req LogsStartRequest
	if err := decode(data, &req); err != nil {
		return failure(err)
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	id := req.ID
	callback := func(line string) {
		c.send(Event{Type: TypeEvent, Event: EventLog, ID: id, Data: line})
	}

	var err error
	switch req.Kind {
	case LogKindJournal:
		err = c.logs.StartJournal(id, callback)
	case LogKindService:
		err = c.logs.StartService(id, req.Service, callback)
	case LogKindEarly:
		err = c.logs.StartEarly(id, callback)
	case LogKindApp:
		err = c.logs.StartAppLog(id, callback)
	case LogKindCage:
		err = c.logs.StartCageLog(id, callback)
	default:
		err = fmt.Errorf("unknown log kind: %q", req.Kind)
	}
	if err != nil {
		return failure(err)
	}
	return Response{Ok: true, Data: StartResponse{ID: id}}
}

func (c *client) handleList() Response {
	streams := c.logs.Streams()
	infos := make([]StreamInfo, 0, len(streams))
	for _, s := range streams {
		infos = append(infos, StreamInfo{ID: s.ID, Kind: s.Kind.String(), Label: s.Label})
	}
	return Response{Ok: true, Data: ListResponse{
		Sessions: c.exec.IDs(),
		Streams:  infos,
	}}
}
