// Package source implements the Source kernel: the uniform lifecycle,
// queues, transform log, and beforeX/X/XFail event pipeline every
// concrete data sink (cache-backed, remote, or local persistence) is
// built on top of. Its five pipeline operations (query/update/sync/
// push/pull) are wrapped in an otel tracer span each, the same shape
// a traced SQL exec/query wrapper takes around its underlying driver
// calls. A failed operation is never retried by the kernel itself —
// it rejects the caller and emits an XFail event, leaving recovery to
// the parked queue's skip/retry/clear.
package source

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sourcekit/core/internal/builder"
	"github.com/sourcekit/core/internal/bucket"
	"github.com/sourcekit/core/internal/cache"
	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/idgen"
	"github.com/sourcekit/core/internal/keymap"
	"github.com/sourcekit/core/internal/queue"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/schema"
	"github.com/sourcekit/core/internal/translog"
)

// Request is the normalized input handed to a concrete operation
// handler, after builder normalization and the beforeX dispatch.
// Exactly one of Query or Transform is set, matching which of the
// five pipeline operations is running.
type Request struct {
	ID        string
	Query     *recordmodel.Query
	Transform *recordmodel.Transform
	Options   map[string]any
}

// Response is what a concrete _query/_update/_sync/_push/_pull
// handler resolves with.
type Response struct {
	Data    any
	Details any
	// Transforms lists the transforms this call actually applied, in
	// the order they should be appended to the log and emitted
	// Left empty for a pure query.
	Transforms []recordmodel.Transform
}

// Handler implements one concrete pipeline operation. hints carries
// whatever beforeX listeners left for the operation; most handlers
// ignore it, but a remote adapter might e.g. skip a now-redundant
// fetch if a listener flagged one.
type Handler func(ctx context.Context, req Request, hints *eventbus.Hints) (Response, error)

// Result is what a pipeline call returns to its caller. Data is
// always populated; Details and Transforms are only meaningful when
// the caller opted in via the "includeDetails"/"fullResponse" request
// options ("includeDetails"/"fullResponse" full-response mode) —
// callers that didn't ask simply don't look at them.
type Result struct {
	Data       any
	Details    any
	Transforms []recordmodel.Transform
}

// QueueOverride customizes one of the kernel's two internal queues
// (requestQueueSettings/syncQueueSettings).
type QueueOverride struct {
	Name        string
	AutoProcess *bool
	Bucket      bucket.Bucket
}

// Settings configures a Source at construction.
type Settings struct {
	// Name identifies this source; also prefixes its queue/log bucket
	// keys. Defaults to a generated id if empty.
	Name string

	Bucket bucket.Bucket
	Schema *schema.Schema
	KeyMap *keymap.KeyMap
	Cache  *cache.Cache

	AutoActivate            *bool // default true
	AutoUpgrade             *bool // default true
	DebounceLiveQueries     *bool // default true (informational; cache owns the real default)
	AllowCreatePlaceholders bool

	RequestQueueSettings *QueueOverride
	SyncQueueSettings    *QueueOverride

	QueryBuilder     func(any, ...builder.QueryOption) (recordmodel.Query, error)
	TransformBuilder func(any, ...builder.TransformOption) (recordmodel.Transform, error)

	// Concrete per-operation handlers. Query and Pull are required;
	// Update/Sync/Push may be nil for a read-only or non-replicating
	// source, in which case invoking them returns OperationNotAllowed.
	Query  Handler
	Update Handler
	Sync   Handler
	Push   Handler
	Pull   Handler
}

// Source is the uniform kernel every concrete adapter is built on:
// its two persistent queues, durable transform log, and event bus.
type Source struct {
	name   string
	bkt    bucket.Bucket
	schema *schema.Schema
	keyMap *keymap.KeyMap
	cache  *cache.Cache

	events *eventbus.Bus
	log    *translog.Log

	requestQueue *queue.Queue
	syncQueue    *queue.Queue

	queryBuilder     func(any, ...builder.QueryOption) (recordmodel.Query, error)
	transformBuilder func(any, ...builder.TransformOption) (recordmodel.Transform, error)

	handlers Settings

	allowCreatePlaceholders bool
	sequence                int64

	tracer trace.Tracer

	pendingMu sync.Mutex
	pending   map[string]*queuedWork
}

// New constructs a Source and begins hydrating its queues and log
// from bkt in the background.
func New(ctx context.Context, settings Settings) (*Source, error) {
	if settings.Bucket == nil {
		return nil, fmt.Errorf("source: Bucket is required")
	}
	if settings.Query == nil || settings.Pull == nil {
		return nil, fmt.Errorf("source: Query and Pull handlers are required")
	}
	name := settings.Name
	if name == "" {
		name = idgen.NewID("source")
	}
	autoActivate := true
	if settings.AutoActivate != nil {
		autoActivate = *settings.AutoActivate
	}

	s := &Source{
		name:                    name,
		bkt:                     settings.Bucket,
		schema:                  settings.Schema,
		keyMap:                  settings.KeyMap,
		cache:                   settings.Cache,
		events:                  eventbus.New(),
		queryBuilder:            settings.QueryBuilder,
		transformBuilder:        settings.TransformBuilder,
		handlers:                settings,
		allowCreatePlaceholders: settings.AllowCreatePlaceholders,
		tracer:                  otel.Tracer("github.com/sourcekit/core/source"),
	}
	if s.queryBuilder == nil {
		s.queryBuilder = builder.BuildQuery
	}
	if s.transformBuilder == nil {
		s.transformBuilder = builder.BuildTransform
	}

	log, err := translog.Open(ctx, name, settings.Bucket, s.emitRollback)
	if err != nil {
		return nil, fmt.Errorf("source %s: open transform log: %w", name, err)
	}
	s.log = log

	s.requestQueue, err = buildQueue(ctx, name+"-requests", settings.Bucket, autoActivate, settings.RequestQueueSettings, s.performRequestTask)
	if err != nil {
		return nil, fmt.Errorf("source %s: request queue: %w", name, err)
	}
	s.syncQueue, err = buildQueue(ctx, name+"-sync", settings.Bucket, autoActivate, settings.SyncQueueSettings, s.performSyncTask)
	if err != nil {
		return nil, fmt.Errorf("source %s: sync queue: %w", name, err)
	}

	autoUpgrade := true
	if settings.AutoUpgrade != nil {
		autoUpgrade = *settings.AutoUpgrade
	}
	if autoUpgrade && settings.Schema != nil {
		settings.Schema.OnUpgrade(func(version int) {
			s.events.Dispatch(context.Background(), &eventbus.Event{
				Type:   eventbus.EventUpgrade,
				Source: s.name,
				Result: version,
			})
		})
	}

	return s, nil
}

// buildQueue seeds a queue's AutoProcess from the Source's autoActivate
// setting, not just its hydrate-time AutoActivate flag: a Source
// constructed with autoActivate=false must stay paused for every
// subsequent Push too, until an explicit Activate() call (mirrored by
// Queue.Resume).
func buildQueue(ctx context.Context, defaultName string, defaultBucket bucket.Bucket, autoActivate bool, override *QueueOverride, performer queue.Performer) (*queue.Queue, error) {
	autoProcess := autoActivate
	settings := queue.Settings{Name: defaultName, Bucket: defaultBucket, AutoActivate: &autoActivate, AutoProcess: &autoProcess}
	if override != nil {
		if override.Name != "" {
			settings.Name = override.Name
		}
		if override.Bucket != nil {
			settings.Bucket = override.Bucket
		}
		if override.AutoProcess != nil {
			settings.AutoProcess = override.AutoProcess
		}
	}
	return queue.New(ctx, settings, performer)
}

// Name returns this source's identifier.
func (s *Source) Name() string { return s.name }

// Events exposes the source's event bus for listener registration.
func (s *Source) Events() *eventbus.Bus { return s.events }

// Log exposes the source's transform log, the authority replication
// consults for "have we already applied this?".
func (s *Source) Log() *translog.Log { return s.log }

// RequestQueue exposes the serialized queue behind query/update/push/
// pull, so a caller whose task failed and parked the queue can Skip,
// Retry, or Clear it.
func (s *Source) RequestQueue() *queue.Queue { return s.requestQueue }

// SyncQueue exposes the serialized queue behind Sync, for the same
// skip/retry/clear recovery as RequestQueue.
func (s *Source) SyncQueue() *queue.Queue { return s.syncQueue }

// Activate resumes both queues after construction with autoActivate
// false, or after a prior Deactivate.
func (s *Source) Activate() {
	s.requestQueue.Resume()
	s.syncQueue.Resume()
}

// Deactivate pauses both queues; in-flight tasks still run to
// completion.
func (s *Source) Deactivate() {
	s.requestQueue.Pause()
	s.syncQueue.Pause()
}

// Reified resolves once both queues and the transform log have
// finished hydrating from the bucket.
func (s *Source) Reified() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		<-s.requestQueue.Reified()
		<-s.syncQueue.Reified()
		close(done)
	}()
	return done
}

func (s *Source) nextSequence() int64 {
	return atomic.AddInt64(&s.sequence, 1)
}

func (s *Source) emitRollback(removedIDs []string) {
	s.events.Dispatch(context.Background(), &eventbus.Event{
		Type:     eventbus.EventRollback,
		Source:   s.name,
		Sequence: s.nextSequence(),
		Result:   removedIDs,
	})
}

func fullResponse(opts map[string]any) bool {
	v, _ := opts["fullResponse"].(bool)
	return v
}

func includeDetails(opts map[string]any) bool {
	v, _ := opts["includeDetails"].(bool)
	return v
}

// shape trims Result down to the caller-visible contract: full mode
// returns everything gathered; otherwise only Data survives.
func shape(r Response) Result {
	return Result{Data: r.Data, Details: r.Details, Transforms: r.Transforms}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
