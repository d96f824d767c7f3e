package source

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sourcekit/core/internal/builder"
	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/queue"
)

// pipelineKind names the three events and queue-task-type one of the
// five operations dispatches through.
type pipelineKind struct {
	label              string
	before, ok, failed eventbus.EventType
}

var (
	queryKind  = pipelineKind{label: "query", before: eventbus.EventBeforeQuery, ok: eventbus.EventQuery, failed: eventbus.EventQueryFail}
	updateKind = pipelineKind{label: "update", before: eventbus.EventBeforeUpdate, ok: eventbus.EventUpdate, failed: eventbus.EventUpdateFail}
	syncKind   = pipelineKind{label: "sync", before: eventbus.EventBeforeSync, ok: eventbus.EventSync, failed: eventbus.EventSyncFail}
	pushKind   = pipelineKind{label: "push", before: eventbus.EventBeforePush, ok: eventbus.EventPush, failed: eventbus.EventPushFail}
	pullKind   = pipelineKind{label: "pull", before: eventbus.EventBeforePull, ok: eventbus.EventPull, failed: eventbus.EventPullFail}
)

// queuedWork is the process-local bookkeeping for one in-flight
// pipeline call: the handler to run, whatever hints beforeX left, and
// the channel the blocked caller in runQueue is waiting on. Only the
// Request itself rides the queue as Task.Data (queue.Queue persists
// Task.Data as JSON, and a func or channel can't survive that round
// trip) — a live call is tracked here, keyed by the request's id, for
// performQueuedWork to pick back up; a task recovered after a restart
// has no entry here, so it runs with its handler looked up by queue
// task type and no done channel to signal.
type queuedWork struct {
	handler Handler
	hints   *eventbus.Hints
	done    chan pipelineOutcome
}

type pipelineOutcome struct {
	resp Response
	err  error
}

// Query evaluates termsOrFn (any shape BuildQuery accepts) against the
// source's Query handler.
func (s *Source) Query(ctx context.Context, termsOrFn any, opts ...builder.QueryOption) (Result, error) {
	q, err := s.queryBuilder(termsOrFn, opts...)
	if err != nil {
		return Result{}, err
	}
	return s.runQueue(ctx, queryKind, s.requestQueue, Request{ID: q.ID, Query: &q, Options: q.Options}, s.handlers.Query)
}

// Update normalizes opsOrFn into a Transform and runs it through the
// Update handler.
func (s *Source) Update(ctx context.Context, opsOrFn any, opts ...builder.TransformOption) (Result, error) {
	if s.handlers.Update == nil {
		return Result{}, &errs.OperationNotAllowed{Reason: "source has no update handler"}
	}
	t, err := s.transformBuilder(opsOrFn, opts...)
	if err != nil {
		return Result{}, err
	}
	return s.runQueue(ctx, updateKind, s.requestQueue, Request{ID: t.ID, Transform: &t, Options: t.Options}, s.handlers.Update)
}

// Sync applies an inbound transform from a peer source, through the
// sync queue rather than the request queue: the sync queue serializes
// inbound transform application from peer sources.
func (s *Source) Sync(ctx context.Context, opsOrFn any, opts ...builder.TransformOption) (Result, error) {
	if s.handlers.Sync == nil {
		return Result{}, &errs.OperationNotAllowed{Reason: "source has no sync handler"}
	}
	t, err := s.transformBuilder(opsOrFn, opts...)
	if err != nil {
		return Result{}, err
	}
	return s.runQueue(ctx, syncKind, s.syncQueue, Request{ID: t.ID, Transform: &t, Options: t.Options}, s.handlers.Sync)
}

// Push sends a local transform to the remote/peer this source adapts.
func (s *Source) Push(ctx context.Context, opsOrFn any, opts ...builder.TransformOption) (Result, error) {
	if s.handlers.Push == nil {
		return Result{}, &errs.OperationNotAllowed{Reason: "source has no push handler"}
	}
	t, err := s.transformBuilder(opsOrFn, opts...)
	if err != nil {
		return Result{}, err
	}
	return s.runQueue(ctx, pushKind, s.requestQueue, Request{ID: t.ID, Transform: &t, Options: t.Options}, s.handlers.Push)
}

// Pull fetches remote state (optionally scoped by termsOrFn, any shape
// BuildQuery accepts) and applies whatever transforms it resolves.
func (s *Source) Pull(ctx context.Context, termsOrFn any, opts ...builder.QueryOption) (Result, error) {
	q, err := s.queryBuilder(termsOrFn, opts...)
	if err != nil {
		return Result{}, err
	}
	return s.runQueue(ctx, pullKind, s.requestQueue, Request{ID: q.ID, Query: &q, Options: q.Options}, s.handlers.Pull)
}

// runQueue carries out the standard pipeline for one operation: emit
// beforeX, honor a blocking hint, enqueue the work, block for its
// outcome, then emit transform/X or XFail.
func (s *Source) runQueue(ctx context.Context, kind pipelineKind, q *queue.Queue, req Request, handler Handler) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "source."+kind.label, trace.WithAttributes(
		attribute.String("sourcekit.source.name", s.name),
		attribute.String("sourcekit.request.id", req.ID),
	))
	defer func() { span.End() }()

	seq := s.nextSequence()
	beforeEvent := &eventbus.Event{Type: kind.before, Source: s.name, Sequence: seq, Options: req.Options}
	if req.Query != nil {
		beforeEvent.Query = *req.Query
	}
	if req.Transform != nil {
		beforeEvent.Operations = req.Transform.Operations
	}

	hints, err := s.events.Dispatch(ctx, beforeEvent)
	if err != nil {
		endSpan(span, err)
		return Result{}, err
	}
	if hints.Block {
		blocked := &errs.OperationNotAllowed{Reason: hints.Reason}
		s.emitOutcome(ctx, kind, seq, req, Response{}, blocked)
		endSpan(span, blocked)
		return Result{}, blocked
	}

	work := &queuedWork{handler: handler, hints: hints, done: make(chan pipelineOutcome, 1)}
	s.trackPending(req.ID, work)
	if err := q.Push(ctx, queue.Task{Type: kind.label, Data: req}); err != nil {
		s.forgetPending(req.ID)
		s.emitOutcome(ctx, kind, seq, req, Response{}, err)
		endSpan(span, err)
		return Result{}, err
	}

	select {
	case outcome := <-work.done:
		s.emitOutcome(ctx, kind, seq, req, outcome.resp, outcome.err)
		endSpan(span, outcome.err)
		if outcome.err != nil {
			return Result{}, outcome.err
		}
		result := shape(outcome.resp)
		if !fullResponse(req.Options) {
			result.Details = nil
			result.Transforms = nil
		} else if !includeDetails(req.Options) {
			result.Details = nil
		}
		return result, nil
	case <-ctx.Done():
		endSpan(span, ctx.Err())
		return Result{}, ctx.Err()
	}
}

// performRequestTask is the request queue's sole performer: it just
// runs whichever operation was queued, recovering the live call's
// handler from the pending map (or, after a restart, by task type).
func (s *Source) performRequestTask(ctx context.Context, task queue.Task) error {
	return s.performQueuedWork(ctx, task)
}

func (s *Source) performSyncTask(ctx context.Context, task queue.Task) error {
	return s.performQueuedWork(ctx, task)
}

func (s *Source) performQueuedWork(ctx context.Context, task queue.Task) error {
	req, err := decodeQueuedRequest(task.Data)
	if err != nil {
		return err
	}
	w, live := s.takePending(req.ID)
	if !live {
		handler, ok := s.handlerForLabel(task.Type)
		if !ok {
			return fmt.Errorf("source: no handler for rehydrated %q task", task.Type)
		}
		w = &queuedWork{handler: handler}
	}

	resp, err := s.invoke(ctx, w, req)
	if w.done != nil {
		w.done <- pipelineOutcome{resp: resp, err: err}
	}
	return err
}

// decodeQueuedRequest recovers the Request a queue task carries. A
// live push hands this the concrete Request value straight through;
// a task recovered from the bucket after a restart has already been
// round-tripped through JSON by queue.Queue's hydrate step and comes
// back as a generic map, so it's re-marshaled and decoded into a
// Request the same way.
func decodeQueuedRequest(data any) (Request, error) {
	if req, ok := data.(Request); ok {
		return req, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Request{}, fmt.Errorf("source: re-marshal queued task %T: %w", data, err)
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("source: malformed queued task %T: %w", data, err)
	}
	return req, nil
}

// handlerForLabel maps a queue task's Type (one of the five
// pipelineKind labels) back to the concrete handler a rehydrated task
// needs, since the live handler reference doesn't survive persistence.
func (s *Source) handlerForLabel(label string) (Handler, bool) {
	switch label {
	case queryKind.label:
		return s.handlers.Query, s.handlers.Query != nil
	case updateKind.label:
		return s.handlers.Update, s.handlers.Update != nil
	case syncKind.label:
		return s.handlers.Sync, s.handlers.Sync != nil
	case pushKind.label:
		return s.handlers.Push, s.handlers.Push != nil
	case pullKind.label:
		return s.handlers.Pull, s.handlers.Pull != nil
	default:
		return nil, false
	}
}

// trackPending, takePending and forgetPending correlate a live
// runQueue call with the task that rides the queue for it, keyed by
// the request id. The queue itself only ever sees the Request value.
func (s *Source) trackPending(id string, w *queuedWork) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if s.pending == nil {
		s.pending = map[string]*queuedWork{}
	}
	s.pending[id] = w
}

func (s *Source) takePending(id string) (*queuedWork, bool) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	w, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return w, ok
}

func (s *Source) forgetPending(id string) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	delete(s.pending, id)
}

// invoke runs the concrete handler then, on success, appends every
// applied transform to the log and emits `transform` for each —
// strictly before the pipeline caller's result is delivered. A failed
// handler call is never retried here: it rejects the outer call and
// the caller observes it as XFail, same as any other pipeline kind.
func (s *Source) invoke(ctx context.Context, w *queuedWork, req Request) (Response, error) {
	resp, err := w.handler(ctx, req, w.hints)
	if err != nil {
		return Response{}, err
	}

	for _, t := range resp.Transforms {
		if err := s.log.Append(ctx, t.ID); err != nil {
			return Response{}, err
		}
		tCopy := t
		s.events.Dispatch(ctx, &eventbus.Event{
			Type:      eventbus.EventTransform,
			Source:    s.name,
			Sequence:  s.nextSequence(),
			Transform: tCopy,
		})
	}
	return resp, nil
}

// emitOutcome emits transform (already done by invoke for success
// paths) and the final X/XFail event.
func (s *Source) emitOutcome(ctx context.Context, kind pipelineKind, seq int64, req Request, resp Response, err error) {
	event := &eventbus.Event{Type: kind.ok, Source: s.name, Sequence: seq, Options: req.Options}
	if req.Query != nil {
		event.Query = *req.Query
	}
	if req.Transform != nil {
		event.Operations = req.Transform.Operations
	}
	if err != nil {
		event.Type = kind.failed
		event.Err = err
	} else {
		event.Result = resp.Data
	}
	s.events.Dispatch(ctx, event)
}
