package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/strux-dev/devagent/internal/api"
)

// conn is a control connection. Responses are matched to calls by
// sequence number; events go to the events channel.
//
// Events are queued without bound between the reader and the channel, so
// a response is never stuck behind events nobody is draining yet. The
// goroutine that consumes events may itself be waiting in call.
type conn struct {
	nc net.Conn

	wmu sync.Mutex
	enc *json.Encoder

	// mu guards seq, pending and closed. It is never held while
	// writing, so the reader can always route a response.
	mu      sync.Mutex
	seq     int64
	pending map[int64]chan api.Frame
	closed  bool

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []api.Frame
	eof    bool
	events chan api.Frame
}

func dial(socketPath string) (*conn, error) {
	nc, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", socketPath, err)
	}
	return newConn(nc), nil
}

func newConn(nc net.Conn) *conn {
	c := &conn{
		nc:      nc,
		enc:     json.NewEncoder(nc),
		pending: make(map[int64]chan api.Frame),
		events:  make(chan api.Frame),
	}
	c.qcond = sync.NewCond(&c.qmu)
	go c.readLoop()
	go c.pumpEvents()
	return c
}

func (c *conn) Close() error {
	return c.nc.Close()
}

func (c *conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		for seq, ch := range c.pending {
			close(ch)
			delete(c.pending, seq)
		}
		c.mu.Unlock()

		c.qmu.Lock()
		c.eof = true
		c.qcond.Signal()
		c.qmu.Unlock()
	}()

	scanner := bufio.NewScanner(c.nc)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var f api.Frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			continue
		}
		if f.Type == api.TypeEvent {
			c.qmu.Lock()
			c.queue = append(c.queue, f)
			c.qcond.Signal()
			c.qmu.Unlock()
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[f.Seq]
		delete(c.pending, f.Seq)
		c.mu.Unlock()
		if ok {
			ch <- f
		}
	}
}

// pumpEvents moves queued events to the events channel, closing it once
// the connection has ended and the queue is empty.
func (c *conn) pumpEvents() {
	defer close(c.events)
	for {
		c.qmu.Lock()
		for len(c.queue) == 0 && !c.eof {
			c.qcond.Wait()
		}
		batch := c.queue
		c.queue = nil
		eof := c.eof
		c.qmu.Unlock()

		if len(batch) == 0 && eof {
			return
		}
		for _, f := range batch {
			c.events <- f
		}
	}
}

// call sends a request and waits for its response, decoding the payload
// into out when out is non-nil.
func (c *conn) call(action string, data, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	ch := make(chan api.Frame, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("connection closed")
	}
	c.seq++
	seq := c.seq
	c.pending[seq] = ch
	c.mu.Unlock()

	c.wmu.Lock()
	err = c.enc.Encode(api.Request{Seq: seq, Action: action, Data: raw})
	c.wmu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
		return fmt.Errorf("sending %s: %w", action, err)
	}

	resp, ok := <-ch
	if !ok {
		return errors.New("connection closed")
	}
	if !resp.Ok {
		return fmt.Errorf("%s: %s", action, resp.Err)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("decoding %s response: %w", action, err)
		}
	}
	return nil
}
