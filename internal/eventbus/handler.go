package eventbus

import "context"

// Handler processes events on the bus. Handlers are called in priority
// order (lower priority value = called earlier) for matching event
// types.
type Handler interface {
	// ID returns a unique identifier for this handler.
	ID() string

	// Handles returns the event types this handler processes.
	Handles() []EventType

	// Priority determines call order. Lower values are called first.
	Priority() int

	// Handle processes a single event. hints is non-nil only for
	// beforeX dispatch — a handler that wants to block the upcoming
	// operation sets hints.Block and hints.Reason. For X/XFail
	// dispatch hints is nil; the outcome is already on event.Result or
	// event.Err. Returning an error logs a warning but does not stop
	// the handler chain.
	Handle(ctx context.Context, event *Event, hints *Hints) error
}

// FuncHandler adapts a plain function into a Handler, for the common
// case of a single-purpose listener that doesn't need its own type —
// sparing callers from hand-rolling a struct per listener.
type FuncHandler struct {
	IDValue       string
	HandlesValue  []EventType
	PriorityValue int
	Fn            func(ctx context.Context, event *Event, hints *Hints) error
}

func (f *FuncHandler) ID() string           { return f.IDValue }
func (f *FuncHandler) Handles() []EventType { return f.HandlesValue }
func (f *FuncHandler) Priority() int        { return f.PriorityValue }

func (f *FuncHandler) Handle(ctx context.Context, event *Event, hints *Hints) error {
	return f.Fn(ctx, event, hints)
}
