// Package queue implements a named persistent FIFO task queue:
// push/skip/shift/retry/clear, serialized to a Bucket on every
// mutation and hydrated from it on startup. A queue is an ordered
// "dirty set" that also knows how to drain itself through a performer
// function.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/sourcekit/core/internal/bucket"
	"github.com/sourcekit/core/internal/errs"
)

// Task is one unit of queued work.
type Task struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Performer executes a single task. An error parks the queue
// (head-of-line blocking) until the caller calls Skip, Retry, or
// Clear.
type Performer func(ctx context.Context, task Task) error

// ErrorHandler is notified when a performer rejects the head task.
type ErrorHandler func(task Task, err error)

// Settings configures a Queue.
type Settings struct {
	// Name identifies the queue's key in Bucket.
	Name string
	// Bucket persists the queue across restarts. Required.
	Bucket bucket.Bucket
	// AutoProcess starts draining the queue as tasks are pushed and as
	// soon as hydration completes. Defaults to true.
	AutoProcess *bool
	// AutoActivate gates whether hydration resumes processing at
	// startup; mirrors the Source-level autoActivate setting. Defaults
	// to true.
	AutoActivate *bool
	OnError      ErrorHandler
}

// Queue is a named persistent FIFO. A single background worker
// goroutine drains it one task at a time; Push, Skip, Shift, Retry
// and Clear only ever touch in-memory state and the bucket, then
// signal the worker — none of them block on a performer call.
type Queue struct {
	mu      sync.Mutex
	name    string
	bkt     bucket.Bucket
	tasks   []Task
	perform Performer
	onError ErrorHandler

	autoProcess bool
	parked      bool

	wake chan struct{}
	done chan struct{}

	reified     chan struct{}
	reifiedOnce sync.Once
}

// New constructs a Queue, starts its worker goroutine, and begins
// hydrating it from settings.Bucket in the background; wait on
// Reified() to observe hydration completion.
func New(ctx context.Context, settings Settings, performer Performer) (*Queue, error) {
	if settings.Name == "" {
		return nil, fmt.Errorf("queue: Name is required")
	}
	if settings.Bucket == nil {
		return nil, fmt.Errorf("queue: Bucket is required")
	}
	if performer == nil {
		return nil, fmt.Errorf("queue: performer is required")
	}
	autoProcess := true
	if settings.AutoProcess != nil {
		autoProcess = *settings.AutoProcess
	}
	autoActivate := true
	if settings.AutoActivate != nil {
		autoActivate = *settings.AutoActivate
	}

	q := &Queue{
		name:        settings.Name,
		bkt:         settings.Bucket,
		perform:     performer,
		onError:     settings.OnError,
		autoProcess: autoProcess,
		wake:        make(chan struct{}, 1),
		done:        make(chan struct{}),
		reified:     make(chan struct{}),
	}

	go q.worker(ctx)
	go q.hydrate(ctx, autoActivate)
	return q, nil
}

func (q *Queue) hydrate(ctx context.Context, autoActivate bool) {
	defer q.reifiedOnce.Do(func() { close(q.reified) })

	raw, ok, err := q.bkt.GetItem(ctx, q.name)
	if err != nil {
		log.Printf("queue %s: hydrate: %v", q.name, err)
		return
	}
	if ok && raw != "" {
		var tasks []Task
		if err := json.Unmarshal([]byte(raw), &tasks); err != nil {
			log.Printf("queue %s: hydrate: malformed bucket value: %v", q.name, err)
			return
		}
		q.mu.Lock()
		q.tasks = tasks
		q.mu.Unlock()
	}

	q.mu.Lock()
	autoProcess := q.autoProcess
	q.mu.Unlock()
	if autoActivate && autoProcess {
		q.signal()
	}
}

// Reified resolves once the queue has finished hydrating from its
// bucket.
func (q *Queue) Reified() <-chan struct{} {
	return q.reified
}

// Close stops the background worker goroutine.
func (q *Queue) Close() {
	close(q.done)
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// worker drains the queue whenever signaled, one task at a time,
// stopping when the queue is empty or parked until the next signal.
func (q *Queue) worker(ctx context.Context) {
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
			q.drain(ctx)
		}
	}
}

func (q *Queue) drain(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 || q.parked {
			q.mu.Unlock()
			return
		}
		head := q.tasks[0]
		q.mu.Unlock()

		if err := q.perform(ctx, head); err != nil {
			q.mu.Lock()
			q.parked = true
			q.mu.Unlock()
			if q.onError != nil {
				q.onError(head, err)
			}
			return
		}

		q.mu.Lock()
		if len(q.tasks) > 0 {
			q.tasks = q.tasks[1:]
		}
		persistErr := q.persistLocked(ctx)
		q.mu.Unlock()
		if persistErr != nil {
			log.Printf("queue %s: persist after completion: %v", q.name, persistErr)
		}
	}
}

// Push appends task to the tail of the queue, persists the queue
// before returning, and — if AutoProcess — wakes the worker.
func (q *Queue) Push(ctx context.Context, task Task) error {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	err := q.persistLocked(ctx)
	autoProcess := q.autoProcess
	q.mu.Unlock()
	if err != nil {
		return err
	}
	if autoProcess {
		q.signal()
	}
	return nil
}

// Pause stops the worker from picking up new tasks as they're pushed
// (used by a Source's Deactivate). Tasks already mid-performer run to
// completion; nothing new starts until Resume.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.autoProcess = false
	q.mu.Unlock()
}

// Resume re-enables automatic processing and wakes the worker
// (a Source's Activate).
func (q *Queue) Resume() {
	q.mu.Lock()
	q.autoProcess = true
	q.mu.Unlock()
	q.signal()
}

// Skip discards the current (rejected) head — logging err, the
// rejection that parked the queue, if any — and resumes processing.
// It's only meaningful against a head a performer has actually
// rejected: called on an empty queue it returns QueueEmpty, and called
// while the head is still being processed (not parked) it returns
// QueueBusy.
func (q *Queue) Skip(ctx context.Context, err error) error {
	if err != nil {
		log.Printf("queue %s: skip after error: %v", q.name, err)
	}
	return q.dropHeadAndResume(ctx, true)
}

// Shift discards the head silently, without treating it as a
// rejection, and resumes processing. Unlike Skip/Retry it doesn't
// require the head to be parked — only that there is one.
func (q *Queue) Shift(ctx context.Context) error {
	return q.dropHeadAndResume(ctx, false)
}

func (q *Queue) dropHeadAndResume(ctx context.Context, requireParked bool) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return &errs.QueueEmpty{Queue: q.name}
	}
	if requireParked && !q.parked {
		q.mu.Unlock()
		return &errs.QueueBusy{Queue: q.name}
	}
	q.tasks = q.tasks[1:]
	q.parked = false
	err := q.persistLocked(ctx)
	q.mu.Unlock()
	if err != nil {
		return err
	}
	q.signal()
	return nil
}

// Retry re-runs the current head without discarding it. Called on an
// empty queue it returns QueueEmpty; called while the head isn't
// parked (nothing rejected, nothing to retry) it returns QueueBusy.
func (q *Queue) Retry(ctx context.Context) error {
	q.mu.Lock()
	if len(q.tasks) == 0 {
		q.mu.Unlock()
		return &errs.QueueEmpty{Queue: q.name}
	}
	if !q.parked {
		q.mu.Unlock()
		return &errs.QueueBusy{Queue: q.name}
	}
	q.parked = false
	q.mu.Unlock()
	q.signal()
	return nil
}

// Clear empties the queue, unparks it, and persists the empty state.
func (q *Queue) Clear(ctx context.Context) error {
	q.mu.Lock()
	q.tasks = nil
	q.parked = false
	err := q.persistLocked(ctx)
	q.mu.Unlock()
	return err
}

// Length reports how many tasks (including a parked head) remain.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Peek returns the head task without removing it.
func (q *Queue) Peek() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return Task{}, false
	}
	return q.tasks[0], true
}

// Entries returns a snapshot of every queued task, head first.
func (q *Queue) Entries() []Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Task, len(q.tasks))
	copy(out, q.tasks)
	return out
}

// persistLocked serializes the task list to the bucket. Callers must
// hold q.mu.
func (q *Queue) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(q.tasks)
	if err != nil {
		return fmt.Errorf("queue %s: marshal: %w", q.name, err)
	}
	if err := q.bkt.SetItem(ctx, q.name, string(data)); err != nil {
		return fmt.Errorf("queue %s: persist: %w", q.name, err)
	}
	return nil
}
