// Package transport implements the message transport (C2): a JSON frame
// protocol carried over a persistent WebSocket connection. Each connection
// may have any number of tickets outstanding; requests, responses and
// events share one connection in both directions.
package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/modera/mfcloud/internal/mlog"
	"github.com/modera/mfcloud/ticket"
)

// TaskStarter is the narrow surface the transport needs from the ticket
// registry. Keeping it an interface here (rather than depending on
// *ticket.Registry directly) lets ticket stay free of any transport import.
type TaskStarter interface {
	StartTask(ctx context.Context, client ticket.Client, name string, args []any, kwargs map[string]any) int64
	OnClientDisconnect(client ticket.Client)
}

// Config configures a Server.
type Config struct {
	Starter TaskStarter

	// AllowOrigins restricts which Origin headers are accepted for the
	// WebSocket upgrade. Empty means same-origin only.
	AllowOrigins []string
}

// Server serves the websocket transport at /ws.
type Server struct {
	cfg Config

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

// New creates a Server.
func New(cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		clients: make(map[*Client]struct{}),
	}
}

// Handler returns the http.Handler to mount at the transport's path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Client is one connected peer. It implements ticket.Client.
type Client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

// ID returns the connection's opaque identity, used only for logging and
// for comparing ticket ownership.
func (c *Client) ID() string { return c.id }

// SendEvent pushes an unsolicited event envelope to the client. Write
// errors are logged and otherwise ignored — the read loop will notice the
// broken connection on its next read and tear the client down.
func (c *Client) SendEvent(name string, data any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := wsjson.Write(context.Background(), c.conn, Event{Type: envelopeEvent, Name: name, Data: data}); err != nil {
		mlog.WithComponent("transport").Warn().Err(err).Str("client", c.id).Str("event", name).Msg("send event failed")
	}
}

func (c *Client) writeResponse(ctx context.Context, resp Response) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return wsjson.Write(ctx, c.conn, resp)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowOrigins})
	if err != nil {
		return
	}

	c := &Client{id: uuid.NewString(), conn: conn}
	s.addClient(c)
	log := mlog.WithComponent("transport")
	log.Info().Str("client", c.id).Msg("client connected")

	defer func() {
		s.removeClient(c)
		s.cfg.Starter.OnClientDisconnect(c)
		log.Info().Str("client", c.id).Msg("client disconnected")
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	for {
		var req Request
		if err := wsjson.Read(r.Context(), conn, &req); err != nil {
			return
		}

		resp := s.dispatch(r.Context(), c, req)
		if err := c.writeResponse(r.Context(), resp); err != nil {
			log.Warn().Err(err).Str("client", c.id).Msg("write response failed")
			return
		}
	}
}

// dispatch implements on_message: ping → pong, task_start → C3, anything
// else → failure response carrying "Unknown command". Malformed frames
// never reach here — wsjson.Read fails the connection on those instead,
// matching the "logged, connection kept" TransportError policy at the
// read-loop level above this function.
func (s *Server) dispatch(ctx context.Context, c *Client, req Request) Response {
	switch req.Task {
	case taskPing:
		return Response{Type: envelopeResponse, ID: req.ID, Success: true, Response: "pong"}
	case taskStart:
		return s.dispatchStart(ctx, c, req)
	default:
		return Response{Type: envelopeResponse, ID: req.ID, Success: false, Response: unknownCommand}
	}
}

func (s *Server) dispatchStart(ctx context.Context, c *Client, req Request) Response {
	if len(req.Args) == 0 {
		return Response{Type: envelopeResponse, ID: req.ID, Success: false, Response: unknownCommand}
	}
	taskName, ok := req.Args[0].(string)
	if !ok {
		return Response{Type: envelopeResponse, ID: req.ID, Success: false, Response: unknownCommand}
	}

	args := req.Args[1:]
	kwargs := req.Kwargs
	if kwargs == nil {
		kwargs = make(map[string]any)
	}

	ticketID := s.cfg.Starter.StartTask(ctx, c, taskName, args, kwargs)
	return Response{Type: envelopeResponse, ID: req.ID, Success: true, Response: ticketID}
}

func (s *Server) addClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}
