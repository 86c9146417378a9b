package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lucaspeixotoadv/crm-webhook-core/src/logging"
	"github.com/lucaspeixotoadv/crm-webhook-core/src/models"
)

// Handler consumes one canonical event. Handlers must be idempotent: a
// retried event may re-invoke handlers that already partially succeeded, and
// a crashed worker's lock expiry can hand the same event to another worker.
type Handler func(ctx context.Context, event *models.CanonicalEvent) error

// Subscription identifies one registered handler so it can be removed later.
type Subscription struct {
	kind models.EventKind
	id   int
}

// Registry fans one event out to all handlers registered for its kind.
// It is constructed explicitly by the application's startup routine; there is
// no package-level instance.
type Registry struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[models.EventKind]map[int]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[models.EventKind]map[int]Handler),
	}
}

// Subscribe registers a handler for an event kind.
func (r *Registry) Subscribe(kind models.EventKind, h Handler) Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	if r.handlers[kind] == nil {
		r.handlers[kind] = make(map[int]Handler)
	}
	r.handlers[kind][r.nextID] = h
	return Subscription{kind: kind, id: r.nextID}
}

// Unsubscribe removes a previously registered handler.
func (r *Registry) Unsubscribe(sub Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if hs, ok := r.handlers[sub.kind]; ok {
		delete(hs, sub.id)
	}
}

// HandlerCount returns the number of handlers registered for a kind.
func (r *Registry) HandlerCount(kind models.EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[kind])
}

// Dispatch invokes every handler registered for the event's kind
// concurrently. One handler's failure or panic never prevents the others from
// running to completion, but any failure makes the whole attempt fail so the
// scheduler retries it. An event with no registered handlers completes with a
// warning; there is nothing further to do for it.
func (r *Registry) Dispatch(ctx context.Context, event *models.CanonicalEvent) error {
	r.mu.RLock()
	handlers := make([]Handler, 0, len(r.handlers[event.Kind]))
	for _, h := range r.handlers[event.Kind] {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	if len(handlers) == 0 {
		logger := logging.NewLogger("dispatch")
		logger.Warn().
			Str("event_id", event.ID).
			Str("kind", string(event.Kind)).
			Msg("no handlers registered for event kind")
		return nil
	}

	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h Handler) {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("handler panic: %v", rec)
				}
			}()
			errs[i] = h(ctx, event)
		}(i, h)
	}
	wg.Wait()

	return errors.Join(errs...)
}
