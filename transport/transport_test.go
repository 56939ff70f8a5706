package transport_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/modera/mfcloud/ticket"
	"github.com/modera/mfcloud/transport"
)

type fakeStarter struct {
	startCalls []startCall
	nextID     int64
}

type startCall struct {
	name   string
	args   []any
	kwargs map[string]any
}

func (f *fakeStarter) StartTask(_ context.Context, client ticket.Client, name string, args []any, kwargs map[string]any) int64 {
	f.nextID++
	f.startCalls = append(f.startCalls, startCall{name: name, args: args, kwargs: kwargs})
	if name == "echo-progress" {
		client.SendEvent("task.progress.0", "hi")
	}
	return f.nextID
}

func (f *fakeStarter) OnClientDisconnect(client ticket.Client) {}

func newTestServer(t *testing.T, starter transport.TaskStarter) (*httptest.Server, func()) {
	t.Helper()
	srv := transport.New(transport.Config{Starter: starter})
	ts := httptest.NewServer(srv.Handler())
	return ts, ts.Close
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):]+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func TestServer_PingRoundTrip(t *testing.T) {
	ts, closeFn := newTestServer(t, &fakeStarter{})
	defer closeFn()
	conn := dial(t, ts)

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "request", "id": 1, "task": "ping", "args": []any{}, "kwargs": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp struct {
		Type     string `json:"type"`
		ID       int64  `json:"id"`
		Success  bool   `json:"success"`
		Response string `json:"response"`
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != 1 || !resp.Success || resp.Response != "pong" {
		t.Errorf("got %+v", resp)
	}
}

func TestServer_UnknownCommand(t *testing.T) {
	ts, closeFn := newTestServer(t, &fakeStarter{})
	defer closeFn()
	conn := dial(t, ts)

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, map[string]any{"type": "request", "id": 2, "task": "frobnicate", "args": []any{}, "kwargs": map[string]any{}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp struct {
		ID       int64  `json:"id"`
		Success  bool   `json:"success"`
		Response string `json:"response"`
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != 2 || resp.Success || resp.Response != "Unknown command" {
		t.Errorf("got %+v", resp)
	}
}

func TestServer_TaskStartDelegatesAndReturnsTicketID(t *testing.T) {
	starter := &fakeStarter{}
	ts, closeFn := newTestServer(t, starter)
	defer closeFn()
	conn := dial(t, ts)

	ctx := context.Background()
	req := map[string]any{
		"type": "request",
		"id":   3,
		"task": "task_start",
		"args": []any{"start", "demo"},
		"kwargs": map[string]any{
			"force": true,
		},
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("write: %v", err)
	}
	var resp struct {
		ID       int64 `json:"id"`
		Success  bool  `json:"success"`
		Response int64 `json:"response"`
	}
	if err := wsjson.Read(ctx, conn, &resp); err != nil {
		t.Fatalf("read: %v", err)
	}
	if resp.ID != 3 || !resp.Success || resp.Response != 1 {
		t.Errorf("got %+v", resp)
	}
	if len(starter.startCalls) != 1 {
		t.Fatalf("startCalls: got %d, want 1", len(starter.startCalls))
	}
	call := starter.startCalls[0]
	if call.name != "start" {
		t.Errorf("task name: got %q", call.name)
	}
	if len(call.args) != 1 || call.args[0] != "demo" {
		t.Errorf("args: got %v", call.args)
	}
	if force, _ := call.kwargs["force"].(bool); !force {
		t.Errorf("kwargs: got %v", call.kwargs)
	}
}

func TestServer_TaskStartEventReachesClient(t *testing.T) {
	starter := &fakeStarter{}
	ts, closeFn := newTestServer(t, starter)
	defer closeFn()
	conn := dial(t, ts)

	ctx := context.Background()
	req := map[string]any{
		"type":   "request",
		"id":     4,
		"task":   "task_start",
		"args":   []any{"echo-progress"},
		"kwargs": map[string]any{},
	}
	if err := wsjson.Write(ctx, conn, req); err != nil {
		t.Fatalf("write: %v", err)
	}

	// The fake starter pushes its event synchronously before StartTask
	// returns the ticket id, so the event frame precedes the response
	// frame on the wire; read both and match by envelope type rather
	// than by position.
	var gotResponse, gotEvent bool
	for i := 0; i < 2; i++ {
		var frame struct {
			Type     string `json:"type"`
			Name     string `json:"name"`
			Data     string `json:"data"`
			ID       int64  `json:"id"`
			Success  bool   `json:"success"`
			Response int64  `json:"response"`
		}
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		switch frame.Type {
		case "response":
			gotResponse = true
			if frame.ID != 4 || !frame.Success {
				t.Errorf("response: got %+v", frame)
			}
		case "event":
			gotEvent = true
			if frame.Name != "task.progress.0" || frame.Data != "hi" {
				t.Errorf("event: got %+v", frame)
			}
		default:
			t.Errorf("unexpected frame type %q", frame.Type)
		}
	}
	if !gotResponse || !gotEvent {
		t.Errorf("gotResponse=%v gotEvent=%v", gotResponse, gotEvent)
	}
}
