// Package ticket implements the ticket registry (C3): it allocates
// monotonic ticket ids, binds each to the client that requested it, and
// multiplexes progress/success/failure events back to that client by
// forwarding matching events off the shared event bus.
package ticket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/modera/mfcloud/bus"
	"github.com/modera/mfcloud/internal/mlog"
)

// Client is the subset of a transport connection the registry needs: an
// identity for logging, and a way to push an event envelope to the caller.
type Client interface {
	ID() string
	SendEvent(name string, data any)
}

// State is a ticket's lifecycle state.
type State string

const (
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// Handler implements one task verb. It receives the ticket id so it can
// report progress via Registry.Progress, and returns the JSON-serialisable
// result on success.
type Handler func(ctx context.Context, ticketID int64, args []any, kwargs map[string]any) (any, error)

// CounterStore allocates the persistent, monotonic ticket-id counter. It is
// satisfied by kv.Store.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
}

const counterKey = "mfcloud-ticket-id"

type ticketEntry struct {
	client      Client
	cancel      context.CancelFunc
	unsubscribe func()
}

// Registry is the ticket registry (C3).
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	tickets  map[int64]*ticketEntry

	bus     *bus.Bus
	counter CounterStore

	fallback    atomic.Int64
	useFallback atomic.Bool
}

// NewRegistry creates a Registry. counter may be nil, in which case the
// registry always uses an in-memory counter (useful for tests).
func NewRegistry(b *bus.Bus, counter CounterStore) *Registry {
	r := &Registry{
		handlers: make(map[string]Handler),
		tickets:  make(map[int64]*ticketEntry),
		bus:      b,
		counter:  counter,
	}
	if counter == nil {
		r.useFallback.Store(true)
	}
	return r
}

// Register adds a named handler. Call during startup, before serving any
// connections — the handler table is not safe to mutate concurrently with
// StartTask.
func (r *Registry) Register(name string, h Handler) {
	r.handlers[name] = h
}

func progressChannel(id int64) string { return fmt.Sprintf("task.progress.%d", id) }
func successChannel(id int64) string  { return fmt.Sprintf("task.success.%d", id) }
func failureChannel(id int64) string  { return fmt.Sprintf("task.failure.%d", id) }

func (r *Registry) nextID(ctx context.Context) int64 {
	if !r.useFallback.Load() {
		id, err := r.counter.Incr(ctx, counterKey)
		if err == nil {
			return id
		}
		mlog.Logger.Warn().Err(err).Msg("ticket: persistent counter unavailable, falling back to in-memory ids")
		r.useFallback.Store(true)
	}
	return r.fallback.Add(1)
}

// StartTask allocates a ticket id, binds it to client, and — if name names
// a registered handler — schedules that handler on its own goroutine. The
// id is always returned to the caller before the handler begins running.
//
// If name is not registered, a task.failure.<id> event carrying
// "No such task: <name>" is delivered immediately and the id is returned
// without being bound to client.
func (r *Registry) StartTask(ctx context.Context, client Client, name string, args []any, kwargs map[string]any) int64 {
	id := r.nextID(ctx)

	handler, ok := r.handlers[name]
	if !ok {
		client.SendEvent(failureChannel(id), fmt.Sprintf("No such task: %s", name))
		return id
	}

	handlerCtx, cancel := context.WithCancel(context.Background())

	unsubProgress := r.bus.On(progressChannel(id), func(channel string, data any) {
		client.SendEvent(channel, data)
	})
	unsubSuccess := r.bus.On(successChannel(id), func(channel string, data any) {
		client.SendEvent(channel, data)
	})
	unsubFailure := r.bus.On(failureChannel(id), func(channel string, data any) {
		client.SendEvent(channel, data)
	})
	unsubscribe := func() {
		unsubProgress()
		unsubSuccess()
		unsubFailure()
	}

	r.mu.Lock()
	r.tickets[id] = &ticketEntry{client: client, cancel: cancel, unsubscribe: unsubscribe}
	r.mu.Unlock()

	go r.runHandler(handlerCtx, id, name, handler, args, kwargs)

	return id
}

func (r *Registry) runHandler(ctx context.Context, id int64, name string, handler Handler, args []any, kwargs map[string]any) {
	result, err := r.invoke(ctx, id, handler, args, kwargs)

	r.mu.Lock()
	entry, ok := r.tickets[id]
	if ok {
		delete(r.tickets, id)
	}
	r.mu.Unlock()
	if !ok {
		// Ticket was already cancelled by a client disconnect.
		return
	}

	if err != nil {
		r.bus.Fire(failureChannel(id), err.Error())
	} else {
		r.bus.Fire(successChannel(id), result)
	}
	entry.unsubscribe()
}

// invoke runs handler, converting a panic into an error so it never
// escapes across the ticket boundary.
func (r *Registry) invoke(ctx context.Context, id int64, handler Handler, args []any, kwargs map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panicked: %v", rec)
			mlog.WithTicket(mlog.Logger, id).Error().Interface("recover", rec).Msg("task handler panicked")
		}
	}()
	return handler(ctx, id, args, kwargs)
}

// Progress delivers a task.progress.<id> event if the ticket is still
// registered; otherwise it is silently dropped, per the ticket lifecycle.
func (r *Registry) Progress(id int64, message any) {
	r.mu.Lock()
	_, ok := r.tickets[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	r.bus.Fire(progressChannel(id), message)
}

// OnClientDisconnect cancels every ticket bound to client: future events for
// those ids are dropped (they are removed from the registry before any
// internal task.failure fan-out so the disconnected client never receives
// it), and any cancel hooks the handler installed via bus.Once on
// task.failure.<id> still fire so log followers and similar cleanups run.
func (r *Registry) OnClientDisconnect(client Client) {
	r.mu.Lock()
	var toCancel []*ticketEntry
	for id, entry := range r.tickets {
		if entry.client == client {
			toCancel = append(toCancel, entry)
			delete(r.tickets, id)
		}
	}
	r.mu.Unlock()

	for _, entry := range toCancel {
		entry.unsubscribe()
		entry.cancel()
	}
}
