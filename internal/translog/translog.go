// Package translog implements the append-only transform log: an
// ordered sequence of transform ids with O(1) membership test,
// persisted under "<name>-log" in a Bucket. It is the authority a
// Source consults to answer "have we already applied this transform?"
// during replication.
package translog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sourcekit/core/internal/bucket"
)

// RollbackHandler is invoked with the ids removed by Rollback, in the
// order they appeared in the log, so a Source can emit its own
// "rollback" event alongside the log's own bookkeeping.
type RollbackHandler func(removed []string)

// Log is an append-only ordered sequence of transform ids.
type Log struct {
	mu   sync.RWMutex
	key  string
	bkt  bucket.Bucket
	ids  []string
	set  map[string]struct{}
	onRollback RollbackHandler
}

// Open loads (or creates) a Log persisted under "<name>-log" in bkt.
func Open(ctx context.Context, name string, bkt bucket.Bucket, onRollback RollbackHandler) (*Log, error) {
	if name == "" {
		return nil, fmt.Errorf("translog: name is required")
	}
	if bkt == nil {
		return nil, fmt.Errorf("translog: bucket is required")
	}
	l := &Log{
		key:        name + "-log",
		bkt:        bkt,
		set:        make(map[string]struct{}),
		onRollback: onRollback,
	}

	raw, ok, err := bkt.GetItem(ctx, l.key)
	if err != nil {
		return nil, fmt.Errorf("translog: load %s: %w", l.key, err)
	}
	if ok && raw != "" {
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			return nil, fmt.Errorf("translog: parse %s: %w", l.key, err)
		}
		l.ids = ids
		for _, id := range ids {
			l.set[id] = struct{}{}
		}
	}
	return l, nil
}

// Append records ids, in order, as applied. Ids already present are
// skipped (append is idempotent per id).
func (l *Log) Append(ctx context.Context, ids ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	changed := false
	for _, id := range ids {
		if _, ok := l.set[id]; ok {
			continue
		}
		l.ids = append(l.ids, id)
		l.set[id] = struct{}{}
		changed = true
	}
	if !changed {
		return nil
	}
	return l.persistLocked(ctx)
}

// Contains reports whether id has already been applied, in O(1).
func (l *Log) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.set[id]
	return ok
}

// Before reports whether id precedes a recorded id in the log,
// returning false if either id is absent.
func (l *Log) Before(id, other string) bool {
	return l.compare(id, other) < 0
}

// After reports whether id follows a recorded id in the log,
// returning false if either id is absent.
func (l *Log) After(id, other string) bool {
	return l.compare(id, other) > 0
}

// compare returns -1/0/1 ordering two ids by log position, or 0 if
// either id is unknown.
func (l *Log) compare(a, b string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ia, aok := l.indexOfLocked(a)
	ib, bok := l.indexOfLocked(b)
	if !aok || !bok {
		return 0
	}
	switch {
	case ia < ib:
		return -1
	case ia > ib:
		return 1
	default:
		return 0
	}
}

func (l *Log) indexOfLocked(id string) (int, bool) {
	for i, v := range l.ids {
		if v == id {
			return i, true
		}
	}
	return 0, false
}

// Truncate removes every id at or before id's position — the log no
// longer needs to remember transforms a peer has confirmed receiving.
func (l *Log) Truncate(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx, ok := l.indexOfLocked(id)
	if !ok {
		return nil
	}
	for _, removed := range l.ids[:idx+1] {
		delete(l.set, removed)
	}
	l.ids = append([]string(nil), l.ids[idx+1:]...)
	return l.persistLocked(ctx)
}

// Rollback removes every id after id's position, reports the removed
// ids (oldest first) to onRollback, and persists the shortened log —
// used when a local transform is rejected and everything applied
// after it must be undone too.
func (l *Log) Rollback(ctx context.Context, id string) error {
	l.mu.Lock()
	idx, ok := l.indexOfLocked(id)
	if !ok {
		l.mu.Unlock()
		return nil
	}
	removed := append([]string(nil), l.ids[idx+1:]...)
	if len(removed) == 0 {
		l.mu.Unlock()
		return nil
	}
	for _, r := range removed {
		delete(l.set, r)
	}
	l.ids = append([]string(nil), l.ids[:idx+1]...)
	err := l.persistLocked(ctx)
	l.mu.Unlock()
	if err != nil {
		return err
	}
	if l.onRollback != nil {
		l.onRollback(removed)
	}
	return nil
}

// Clear empties the log.
func (l *Log) Clear(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ids = nil
	l.set = make(map[string]struct{})
	return l.persistLocked(ctx)
}

// Len reports how many ids the log currently holds.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.ids)
}

// IDs returns a snapshot of every recorded id, in append order.
func (l *Log) IDs() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.ids))
	copy(out, l.ids)
	return out
}

func (l *Log) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(l.ids)
	if err != nil {
		return fmt.Errorf("translog: marshal %s: %w", l.key, err)
	}
	if err := l.bkt.SetItem(ctx, l.key, string(data)); err != nil {
		return fmt.Errorf("translog: persist %s: %w", l.key, err)
	}
	return nil
}
