// Package bus implements the in-process, wildcard-subscription event bus
// used to fan events out to subscribers and to let task handlers suspend
// until a matching event is observed.
//
// Delivery is in-process only, best effort, and not persisted across
// restarts. Events fired on the same channel are delivered to subscribers
// in fire order.
package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/modera/mfcloud/internal/mlog"
)

// ErrTimeout is returned by WaitFor when a positive timeout elapses before
// a matching event is observed.
var ErrTimeout = errors.New("bus: timeout waiting for event")

// Handler receives the channel an event was fired on and its payload.
type Handler func(channel string, payload any)

// Bus is a named pub/sub bus with trailing-wildcard subscriptions.
type Bus struct {
	mu     sync.Mutex
	subs   map[int64]*subscription
	nextID int64
}

type subscription struct {
	pattern string
	once    bool
	handler Handler
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[int64]*subscription)}
}

// On subscribes handler to every channel matching pattern. pattern may end
// with "*" to match any channel sharing that prefix (e.g. "api.web.*"
// matches "api.web.ready"). The returned func cancels the subscription.
func (b *Bus) On(pattern string, handler Handler) (cancel func()) {
	return b.subscribe(pattern, false, handler)
}

// Once subscribes handler to the first channel matching pattern, then
// automatically unsubscribes.
func (b *Bus) Once(pattern string, handler Handler) (cancel func()) {
	return b.subscribe(pattern, true, handler)
}

func (b *Bus) subscribe(pattern string, once bool, handler Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscription{pattern: pattern, once: once, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Fire synchronously delivers payload to every subscriber whose pattern
// matches channel. A subscriber that panics does not abort delivery to the
// remaining subscribers — the panic is recovered and logged.
func (b *Bus) Fire(channel string, payload any) {
	b.mu.Lock()
	matched := make([]*subscription, 0, len(b.subs))
	var onceIDs []int64
	for id, sub := range b.subs {
		if matches(sub.pattern, channel) {
			matched = append(matched, sub)
			if sub.once {
				onceIDs = append(onceIDs, id)
			}
		}
	}
	for _, id := range onceIDs {
		delete(b.subs, id)
	}
	b.mu.Unlock()

	for _, sub := range matched {
		b.invoke(sub, channel, payload)
	}
}

func (b *Bus) invoke(sub *subscription, channel string, payload any) {
	defer func() {
		if r := recover(); r != nil {
			mlog.Logger.Error().
				Str("channel", channel).
				Interface("recover", r).
				Msg("bus: subscriber panicked")
		}
	}()
	sub.handler(channel, payload)
}

// WaitFor suspends until the first event matching pattern is fired, or
// until timeout elapses. timeout == 0 means wait indefinitely (subject to
// ctx cancellation). Returns ErrTimeout if the timeout elapses first.
func (b *Bus) WaitFor(ctx context.Context, pattern string, timeout time.Duration) (any, error) {
	result := make(chan any, 1)
	cancel := b.Once(pattern, func(_ string, payload any) {
		select {
		case result <- payload:
		default:
		}
	})
	defer cancel()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case payload := <-result:
		return payload, nil
	case <-timeoutCh:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// matches reports whether channel satisfies pattern. A pattern ending in
// "*" matches any channel sharing that prefix; otherwise the match is exact.
func matches(pattern, channel string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(channel, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == channel
}
