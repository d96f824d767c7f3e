package source_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sourcekit/core/internal/builder"
	"github.com/sourcekit/core/internal/bucket"
	"github.com/sourcekit/core/internal/cache"
	"github.com/sourcekit/core/internal/errs"
	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/schema"
	"github.com/sourcekit/core/internal/source"
)

func taskSchema() *schema.Schema {
	return schema.New(map[string]schema.ModelDef{
		"task": {
			Attributes: map[string]schema.AttributeDef{
				"title": {Type: "string"},
				"done":  {Type: "boolean"},
			},
		},
	})
}

// cacheQueryHandler and cacheUpdateHandler wire a Source's Query/Update
// operations straight to a Cache, the same pairing a real cache-backed
// adapter would use.
func cacheQueryHandler(c *cache.Cache) source.Handler {
	return func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
		data, err := c.Query(*req.Query)
		if err != nil {
			return source.Response{}, err
		}
		return source.Response{Data: data}, nil
	}
}

func cacheUpdateHandler(c *cache.Cache) source.Handler {
	return func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
		result, err := c.Patch(req.Transform.Operations)
		if err != nil {
			return source.Response{}, err
		}
		return source.Response{
			Data:       result,
			Details:    fmt.Sprintf("applied %d operations", len(result.AppliedOperations)),
			Transforms: []recordmodel.Transform{*req.Transform},
		}, nil
	}
}

func noopPullHandler(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
	return source.Response{}, nil
}

// firstExprResult unwraps the single-expression query batch a test
// issues into the one result cache.Query positionally returns for it.
func firstExprResult(t *testing.T, result source.Result) any {
	t.Helper()
	data, ok := result.Data.([]any)
	if !ok || len(data) != 1 {
		t.Fatalf("expected a 1-element query result batch, got %#v", result.Data)
	}
	return data[0]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newTestSource(t *testing.T, sch *schema.Schema, c *cache.Cache, settings source.Settings) *source.Source {
	t.Helper()
	settings.Bucket = bucket.NewMemory()
	settings.Schema = sch
	settings.Cache = c
	if settings.Pull == nil {
		settings.Pull = noopPullHandler
	}
	src, err := source.New(context.Background(), settings)
	if err != nil {
		t.Fatalf("source.New: %v", err)
	}
	<-src.Reified()
	return src
}

func TestUpdateAppliesToCacheAndQueryReflectsIt(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})

	id := recordmodel.Identity{Type: "task", ID: "1"}
	_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{
		Type:       id.Type,
		ID:         id.ID,
		Attributes: map[string]any{"title": "write tests"},
	}))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	result, err := src.Query(context.Background(), recordmodel.FindRecord(id))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	rec, ok := firstExprResult(t, result).(*recordmodel.Record)
	if !ok || rec == nil {
		t.Fatalf("expected a record, got %#v", result.Data)
	}
	if got, _ := rec.Attribute("title"); got != "write tests" {
		t.Fatalf("title = %v, want %q", got, "write tests")
	}
}

func TestTransformEventFiresBeforeUpdateResolves(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})

	var seen atomic.Bool
	src.Events().Register(&eventbus.FuncHandler{
		IDValue:      "observer",
		HandlesValue: []eventbus.EventType{eventbus.EventTransform},
		Fn: func(ctx context.Context, event *eventbus.Event, hints *eventbus.Hints) error {
			seen.Store(true)
			return nil
		},
	})

	_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{
		Type: "task", ID: "1", Attributes: map[string]any{"title": "p4"},
	}))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !seen.Load() {
		t.Fatal("transform event was not observed before Update returned")
	}
}

func TestBeforeUpdateHintBlocksOperation(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})
	src.Events().Register(&eventbus.FuncHandler{
		IDValue:      "gatekeeper",
		HandlesValue: []eventbus.EventType{eventbus.EventBeforeUpdate},
		Fn: func(ctx context.Context, event *eventbus.Event, hints *eventbus.Hints) error {
			hints.Block = true
			hints.Reason = "maintenance window"
			return nil
		},
	})

	_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{
		Type: "task", ID: "1", Attributes: map[string]any{"title": "blocked"},
	}))
	var notAllowed *errs.OperationNotAllowed
	if err == nil {
		t.Fatal("expected OperationNotAllowed, got nil")
	}
	if ok := asOperationNotAllowed(err, &notAllowed); !ok {
		t.Fatalf("expected *errs.OperationNotAllowed, got %T: %v", err, err)
	}

	if _, ok := c.Get(recordmodel.Identity{Type: "task", ID: "1"}); ok {
		t.Fatal("blocked update must not have reached the cache")
	}
}

func asOperationNotAllowed(err error, target **errs.OperationNotAllowed) bool {
	e, ok := err.(*errs.OperationNotAllowed)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestFailedUpdateParksRequestQueueUntilSkip(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	boom := fmt.Errorf("handler boom")
	failingUpdate := func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
		return source.Response{}, boom
	}
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: failingUpdate,
	})

	_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{Type: "task", ID: "1"}))
	if err == nil {
		t.Fatal("expected the handler's error")
	}
	if src.RequestQueue().Length() != 1 {
		t.Fatalf("RequestQueue().Length() = %d, want 1 (parked head)", src.RequestQueue().Length())
	}

	if err := src.RequestQueue().Skip(context.Background(), err); err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if src.RequestQueue().Length() != 0 {
		t.Fatalf("RequestQueue().Length() = %d, want 0 after Skip", src.RequestQueue().Length())
	}
}

func TestFullResponseOptionIncludesDetailsAndTransforms(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})

	op := recordmodel.AddRecord(&recordmodel.Record{Type: "task", ID: "1", Attributes: map[string]any{"title": "full"}})

	bare, err := src.Update(context.Background(), op)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if bare.Details != nil || bare.Transforms != nil {
		t.Fatalf("without fullResponse, Details/Transforms should be nil, got %#v / %#v", bare.Details, bare.Transforms)
	}

	full, err := src.Update(
		context.Background(),
		recordmodel.ReplaceAttribute(recordmodel.Identity{Type: "task", ID: "1"}, "title", "full2"),
		builder.WithTransformOptions(map[string]any{"fullResponse": true, "includeDetails": true}),
	)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if full.Details == nil {
		t.Fatal("expected Details to be populated under fullResponse+includeDetails")
	}
	if len(full.Transforms) != 1 {
		t.Fatalf("expected 1 applied transform, got %d", len(full.Transforms))
	}
}

func TestDeactivateParksBothQueuesUntilActivate(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})
	src.Deactivate()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	_, err := src.Update(ctx, recordmodel.AddRecord(&recordmodel.Record{Type: "task", ID: "1"}))
	if err == nil {
		t.Fatal("expected the call to time out while the queue is paused")
	}

	src.Activate()
	waitFor(t, func() bool {
		_, ok := c.Get(recordmodel.Identity{Type: "task", ID: "1"})
		return ok
	})
}

func TestPullFailsImmediatelyOnTransientNetworkErrorWithNoRetry(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	var attempts int32
	flakyPull := func(ctx context.Context, req source.Request, hints *eventbus.Hints) (source.Response, error) {
		atomic.AddInt32(&attempts, 1)
		return source.Response{}, &errs.NetworkError{Description_: "connection reset by peer"}
	}
	var failEvents int32
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
		Pull:   flakyPull,
	})
	src.Events().Register(&eventbus.FuncHandler{
		IDValue:      "count-pull-fail",
		HandlesValue: []eventbus.EventType{eventbus.EventPullFail},
		Fn: func(ctx context.Context, event *eventbus.Event, hints *eventbus.Hints) error {
			atomic.AddInt32(&failEvents, 1)
			return nil
		},
	})

	_, err := src.Pull(context.Background(), recordmodel.FindRecords("task"))
	var netErr *errs.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("Pull error = %v, want a *errs.NetworkError", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Fatalf("expected exactly 1 attempt (no automatic retry), got %d", attempts)
	}
	if atomic.LoadInt32(&failEvents) != 1 {
		t.Fatalf("expected pullFail to fire exactly once, got %d", failEvents)
	}
	if err := src.RequestQueue().Skip(context.Background(), err); err != nil {
		t.Fatalf("Skip parked request queue: %v", err)
	}
}

func TestReplicatePropagatesTransformsAndDedupes(t *testing.T) {
	srcSchema := taskSchema()
	destSchema := taskSchema()
	srcCache := cache.New(srcSchema)
	destCache := cache.New(destSchema)

	src := newTestSource(t, srcSchema, srcCache, source.Settings{
		Name:   "primary",
		Query:  cacheQueryHandler(srcCache),
		Update: cacheUpdateHandler(srcCache),
	})
	dest := newTestSource(t, destSchema, destCache, source.Settings{
		Name:  "replica",
		Query: cacheQueryHandler(destCache),
		Sync:  cacheUpdateHandler(destCache),
	})

	detach := source.Replicate(src, dest)
	defer detach()

	_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{
		Type: "task", ID: "1", Attributes: map[string]any{"title": "replicated"},
	}))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, ok := destCache.Get(recordmodel.Identity{Type: "task", ID: "1"})
	if !ok {
		t.Fatal("replica cache did not receive the replicated record")
	}
	if got, _ := rec.Attribute("title"); got != "replicated" {
		t.Fatalf("title = %v, want %q", got, "replicated")
	}

	if !dest.Log().Contains(latestLogID(t, src)) {
		t.Fatal("replica log should contain the replicated transform id")
	}
}

func latestLogID(t *testing.T, src *source.Source) string {
	t.Helper()
	ids := src.Log().IDs()
	if len(ids) == 0 {
		t.Fatal("source log is empty")
	}
	return ids[len(ids)-1]
}

func TestActivateIsIdempotentAcrossConcurrentUpdates(t *testing.T) {
	sch := taskSchema()
	c := cache.New(sch)
	src := newTestSource(t, sch, c, source.Settings{
		Name:   "tasks",
		Query:  cacheQueryHandler(c),
		Update: cacheUpdateHandler(c),
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("%d", i)
			_, err := src.Update(context.Background(), recordmodel.AddRecord(&recordmodel.Record{
				Type: "task", ID: id, Attributes: map[string]any{"title": id},
			}))
			if err != nil {
				t.Errorf("Update(%s): %v", id, err)
			}
		}()
	}
	wg.Wait()

	result, err := src.Query(context.Background(), recordmodel.FindRecords("task"))
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	records, ok := firstExprResult(t, result).([]*recordmodel.Record)
	if !ok {
		t.Fatalf("expected []*recordmodel.Record, got %T", result.Data)
	}
	if len(records) != 5 {
		t.Fatalf("len(records) = %d, want 5", len(records))
	}
}
