package api

import "encoding/json"

// Actions accepted in Request.Action.
const (
	ActionExecStart  = "exec.start"
	ActionExecInput  = "exec.input"
	ActionExecResize = "exec.resize"
	ActionExecStop   = "exec.stop"
	ActionLogsStart  = "logs.start"
	ActionLogsStop   = "logs.stop"
	ActionList       = "list"
)

// Log stream kinds accepted in LogsStartRequest.Kind.
const (
	LogKindJournal = "journal"
	LogKindService = "service"
	LogKindEarly   = "early"
	LogKindApp     = "app"
	LogKindCage    = "cage"
)

// Event names carried in Event.Event.
const (
	EventOutput = "output"
	EventExit   = "exit"
	EventError  = "error"
	EventLog    = "log"
)

// Frame types.
const (
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Request is one line sent by the control process. Seq is echoed in the
// matching Response.
type Request struct {
	Seq    int64           `json:"seq"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Response answers the Request with the same Seq. Err and ErrCode are
// set when Ok is false.
type Response struct {
	Type    string      `json:"type"`
	Seq     int64       `json:"seq"`
	Ok      bool        `json:"ok"`
	Err     string      `json:"err,omitempty"`
	ErrCode string      `json:"err_code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Event is pushed to the client whenever a session or stream produces
// output, exits or fails.
type Event struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	ID     string `json:"id"`
	Stream string `json:"stream,omitempty"`
	Data   string `json:"data,omitempty"`
	Code   *int   `json:"code,omitempty"`
}

// Frame is the union of Response and Event, for clients decoding the
// server's output stream. Data holds the response payload or, for events,
// a JSON string.
type Frame struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq"`
	Ok      bool            `json:"ok"`
	Err     string          `json:"err"`
	ErrCode string          `json:"err_code"`
	Event   string          `json:"event"`
	ID      string          `json:"id"`
	Stream  string          `json:"stream"`
	Data    json.RawMessage `json:"data"`
	Code    *int            `json:"code"`
}

// Text returns Data as a string for event frames.
func (f *Frame) Text() string {
	var s string
	if err := json.Unmarshal(f.Data, &s); err != nil {
		return ""
	}
	return s
}

// ExecStartRequest is the data for exec.start. An empty ID is assigned by
// the server.
type ExecStartRequest struct {
	ID    string `json:"id"`
	Shell string `json:"shell"`
}

// StartResponse is returned from exec.start and logs.start.
type StartResponse struct {
	ID string `json:"id"`
}

// ExecInputRequest is the data for exec.input.
type ExecInputRequest struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

// ResizeRequest is the data for exec.resize.
type ResizeRequest struct {
	ID   string `json:"id"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// StopRequest is the data for exec.stop and logs.stop.
type StopRequest struct {
	ID string `json:"id"`
}

// LogsStartRequest is the data for logs.start. Service is required for
// the service kind.
type LogsStartRequest struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Service string `json:"service,omitempty"`
}

// ListResponse reports what the connection currently has running.
type ListResponse struct {
	Sessions []string     `json:"sessions"`
	Streams  []StreamInfo `json:"streams"`
}

// StreamInfo describes one log stream: Kind is "command" or "file" and
// Label is the service name or the tailed path.
type StreamInfo struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Label string `json:"label,omitempty"`
}
