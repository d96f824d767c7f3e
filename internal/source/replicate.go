package source

import (
	"context"

	"github.com/sourcekit/core/internal/eventbus"
	"github.com/sourcekit/core/internal/recordmodel"
)

// Replicate subscribes dest to every transform src applies, running
// each one through dest.Sync as soon as it's emitted — a downstream
// listener that consumes transform events and runs its own sync
// pipeline. Replication is idempotent and order-preserving: a
// transform already present in dest's log (by id) is skipped, and
// incoming transforms are applied in the order src emitted them, since
// src's transform events fire serially off its own request/sync queue.
//
// The returned func detaches the subscription.
func Replicate(src, dest *Source) func() {
	id := "replicate:" + src.name + "->" + dest.name
	h := &eventbus.FuncHandler{
		IDValue:      id,
		HandlesValue: []eventbus.EventType{eventbus.EventTransform},
		Fn: func(ctx context.Context, event *eventbus.Event, hints *eventbus.Hints) error {
			t, ok := event.Transform.(recordmodel.Transform)
			if !ok {
				return nil
			}
			if dest.Log().Contains(t.ID) {
				return nil
			}
			_, err := dest.Sync(context.Background(), t)
			return err
		},
	}
	src.Events().Register(h)
	return func() { src.Events().Unregister(id) }
}
