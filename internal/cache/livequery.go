package cache

import (
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/sourcekit/core/internal/recordmodel"
)

// Notification is delivered to a live query's listener on each relevant
// patch. Query() re-evaluates the subscribed expression against the
// cache state as of when Query() is called, not as of notification
// time — re-evaluation errors (e.g. a RecordNotFound after a delete)
// surface through its return, not by terminating the subscription.
type Notification struct {
	lq *liveQuery
}

// Query re-evaluates the subscribed expression. Concurrent callers
// sharing one notification are deduplicated onto a single evaluation
// via singleflight, so a burst of listeners waking on the same patch
// don't each re-walk the cache independently.
func (n Notification) Query() (any, error) {
	v, err, _ := n.lq.group.Do(n.lq.key, func() (any, error) {
		return n.lq.cache.EvaluateExpr(n.lq.expr)
	})
	return v, err
}

// Listener receives live-query notifications.
type Listener func(Notification)

type liveQuery struct {
	id        int
	cache     *Cache
	expr      recordmodel.Expr
	debounced bool
	listener  Listener
	group     singleflight.Group
	key       string
}

// SubscribeOption configures a live query at subscription time.
type SubscribeOption func(*liveQuery)

// NonDebounced delivers one notification per applied operation instead
// of coalescing a batch into one (equivalent to debounceLiveQueries=false).
func NonDebounced() SubscribeOption {
	return func(lq *liveQuery) { lq.debounced = false }
}

// Subscription is returned by Subscribe; Unsubscribe detaches it and
// releases all retained state.
type Subscription struct {
	cache *Cache
	id    int
}

// Unsubscribe detaches the live query. Idempotent.
func (s *Subscription) Unsubscribe() {
	s.cache.subMu.Lock()
	defer s.cache.subMu.Unlock()
	delete(s.cache.subs, s.id)
}

// Subscribe registers a live query over expr. The current answer is NOT
// eagerly published — the listener fires only on a subsequent relevant
// patch. Debounced (the default) coalesces every
// operation applied within one Patch call into a single notification;
// non-debounced fires once per applied operation.
func (c *Cache) Subscribe(expr recordmodel.Expr, listener Listener, opts ...SubscribeOption) *Subscription {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.nextSubID++
	id := c.nextSubID
	lq := &liveQuery{
		id:        id,
		cache:     c,
		expr:      expr,
		debounced: true,
		listener:  listener,
		key:       fmt.Sprintf("livequery-%d", id),
	}
	for _, opt := range opts {
		opt(lq)
	}
	c.subs[id] = lq
	return &Subscription{cache: c, id: id}
}

// notifyPatch fans a batch's applied operations out to every live query
// subscriber, honoring each subscription's debounce setting.
func (c *Cache) notifyPatch(applied []AppliedOp) {
	if len(applied) == 0 {
		return
	}
	c.subMu.Lock()
	subs := make([]*liveQuery, 0, len(c.subs))
	for _, lq := range c.subs {
		subs = append(subs, lq)
	}
	c.subMu.Unlock()

	for _, lq := range subs {
		if lq.debounced {
			lq.listener(Notification{lq: lq})
			continue
		}
		for range applied {
			lq.listener(Notification{lq: lq})
		}
	}
}
