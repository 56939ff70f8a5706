// Package testclient is a minimal reference client for the C2 wire
// protocol, used by integration tests and as a usage example for anything
// driving mcloudd over a real socket instead of in-process.
package testclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventHandler receives unsolicited task.* events pushed by the server.
type EventHandler func(name string, data any)

// Client is a single, non-reconnecting connection to an mcloudd instance.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pending sync.Map // id int64 -> chan frame
	idSeq   atomic.Int64

	onEvent EventHandler
}

// frame is the superset of every envelope shape the server can send.
type frame struct {
	Type     string `json:"type"`
	ID       int64  `json:"id,omitempty"`
	Success  bool   `json:"success,omitempty"`
	Response any    `json:"response,omitempty"`
	Name     string `json:"name,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Dial connects to url and starts the background read loop. onEvent may be
// nil if the caller doesn't care about pushed events.
func Dial(ctx context.Context, url string, onEvent EventHandler) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	c := &Client{conn: conn, onEvent: onEvent}
	go c.readLoop()
	return c, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer func() {
		c.pending.Range(func(key, value any) bool {
			value.(chan frame) <- frame{Type: "response", Success: false, Response: "connection lost"}
			c.pending.Delete(key)
			return true
		})
	}()

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case "response":
			if ch, ok := c.pending.LoadAndDelete(f.ID); ok {
				ch.(chan frame) <- f
			}
		case "event":
			if c.onEvent != nil {
				c.onEvent(f.Name, f.Data)
			}
		}
	}
}

func (c *Client) send(req map[string]any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// request sends a framed request and blocks until the matching response
// arrives, ctx is cancelled, or a fixed timeout elapses.
func (c *Client) request(ctx context.Context, task string, args []any, kwargs map[string]any) (frame, error) {
	id := c.idSeq.Add(1)
	ch := make(chan frame, 1)
	c.pending.Store(id, ch)

	err := c.send(map[string]any{
		"type":   "request",
		"id":     id,
		"task":   task,
		"args":   args,
		"kwargs": kwargs,
	})
	if err != nil {
		c.pending.Delete(id)
		return frame{}, err
	}

	select {
	case f := <-ch:
		return f, nil
	case <-ctx.Done():
		c.pending.Delete(id)
		return frame{}, ctx.Err()
	case <-time.After(10 * time.Second):
		c.pending.Delete(id)
		return frame{}, fmt.Errorf("testclient: timeout waiting for response to %q", task)
	}
}

// Ping round-trips the ping task, returning the literal "pong" on success.
func (c *Client) Ping(ctx context.Context) (string, error) {
	f, err := c.request(ctx, "ping", []any{}, map[string]any{})
	if err != nil {
		return "", err
	}
	if !f.Success {
		return "", fmt.Errorf("ping: %v", f.Response)
	}
	s, _ := f.Response.(string)
	return s, nil
}

// StartTask issues task_start for the named task, returning the allocated
// ticket id. Progress/success/failure for that id arrive later as events
// through onEvent.
func (c *Client) StartTask(ctx context.Context, name string, args []any, kwargs map[string]any) (int64, error) {
	startArgs := append([]any{name}, args...)
	f, err := c.request(ctx, "task_start", startArgs, kwargs)
	if err != nil {
		return 0, err
	}
	if !f.Success {
		return 0, fmt.Errorf("task_start: %v", f.Response)
	}
	switch v := f.Response.(type) {
	case float64:
		return int64(v), nil
	case json.Number:
		return v.Int64()
	default:
		return 0, fmt.Errorf("task_start: unexpected response type %T", f.Response)
	}
}
