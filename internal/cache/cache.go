// Package cache implements the in-memory Record Cache: the patch
// protocol (apply operations, maintain the inverse index, synthesize
// relationship mirrors), the query protocol (find/filter/sort/page),
// and live queries that notify subscribers on relevant mutation. The
// store itself is a mutex-guarded, clone-on-write normalized (type,
// id)-keyed record graph with a derived inverse-relationship index.
package cache

import (
	"sync"

	"github.com/sourcekit/core/internal/recordmodel"
	"github.com/sourcekit/core/internal/schema"
)

// Option configures a Cache at construction.
type Option func(*Cache)

// WithAllowCreatePlaceholders controls whether a mirror-relationship
// addition whose target record doesn't exist yet creates a placeholder
// record or is silently skipped, keeping only the forward edge.
func WithAllowCreatePlaceholders(allow bool) Option {
	return func(c *Cache) { c.allowCreatePlaceholders = allow }
}

// Cache is the normalized record graph: records[type][id], plus the
// derived inverse-relationship index, plus a live-query subscriber set.
type Cache struct {
	mu                      sync.RWMutex
	schema                  *schema.Schema
	store                   *recordStore
	allowCreatePlaceholders bool

	subMu     sync.Mutex
	nextSubID int
	subs      map[int]*liveQuery
}

// New builds an empty Cache bound to a schema. The schema is consulted
// on every patch to decide whether a relationship change needs a mirror
// op on the other side.
func New(sch *schema.Schema, opts ...Option) *Cache {
	c := &Cache{
		schema: sch,
		store:  newRecordStore(),
		subs:   map[int]*liveQuery{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a record by identity. The returned pointer is a private
// clone; callers must not assume it reflects later mutations.
func (c *Cache) Get(id recordmodel.Identity) (*recordmodel.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.store.Get(id)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// byType returns a snapshot slice of every record of recordType in
// insertion order — the default ordering, and the base case Sort's
// stable tiebreak builds on.
func (c *Cache) byType(recordType string) []*recordmodel.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	records := c.store.byType(recordType)
	out := make([]*recordmodel.Record, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	return out
}
