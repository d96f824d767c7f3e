package eventbus

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Bus dispatches Source lifecycle events to registered handlers,
// serially and in priority order. There is no distributed delivery
// here — every handler runs in-process, synchronously, on the
// goroutine that called Dispatch.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{}
}

// Register adds a handler to the bus. Handlers are sorted by priority on
// each Dispatch call, so registration order does not matter.
func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Unregister removes a handler by ID. Returns true if a handler was removed.
func (b *Bus) Unregister(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handlers {
		if h.ID() == id {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// Dispatch sends an event to all registered handlers that handle its
// type, sequentially in priority order (lowest first). Handler errors
// are logged but do not stop the chain — a broken handler should not
// take down the Source it's observing.
//
// For a beforeX event type the returned Hints carries every handler's
// aggregated advice; Block is sticky (once set by any handler, later
// handlers cannot clear it) and Reason holds whichever handler set it
// first. For every other event type hints is returned for API
// uniformity but handlers are not expected to mutate it meaningfully.
func (b *Bus) Dispatch(ctx context.Context, event *Event) (*Hints, error) {
	if event == nil {
		return nil, fmt.Errorf("eventbus: nil event")
	}

	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	hints := &Hints{}
	var blocked bool
	var reason string
	for _, h := range matching {
		if err := ctx.Err(); err != nil {
			return hints, fmt.Errorf("eventbus: context canceled: %w", err)
		}

		var arg *Hints
		if event.Type.isBefore() {
			arg = hints
		}
		if err := h.Handle(ctx, event, arg); err != nil {
			log.Printf("eventbus: handler %q error for %s: %v", h.ID(), event.Type, err)
		}
		if arg != nil {
			if blocked {
				hints.Block, hints.Reason = true, reason
			} else if hints.Block {
				blocked, reason = true, hints.Reason
			}
		}
	}

	return hints, nil
}

// Handlers returns all registered handlers (for introspection/status reporting).
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers returns handlers that handle the given event type, sorted
// by priority (lowest first). Must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		for _, t := range h.Handles() {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
