package eventbus

// EventType enumerates every lifecycle point a Source emits around its
// query/update/sync/replication operations. Each operation fires a
// beforeX event ahead of the work, then either X on success or XFail
// on error.
type EventType string

const (
	EventBeforeQuery EventType = "beforeQuery"
	EventQuery       EventType = "query"
	EventQueryFail   EventType = "queryFail"

	EventBeforeUpdate EventType = "beforeUpdate"
	EventUpdate       EventType = "update"
	EventUpdateFail   EventType = "updateFail"

	EventBeforeSync EventType = "beforeSync"
	EventSync       EventType = "sync"
	EventSyncFail   EventType = "syncFail"

	EventBeforePush EventType = "beforePush"
	EventPush       EventType = "push"
	EventPushFail   EventType = "pushFail"

	EventBeforePull EventType = "beforePull"
	EventPull       EventType = "pull"
	EventPullFail   EventType = "pullFail"

	// EventTransform fires once per applied transform, after it has
	// been appended to the transform log and strictly before the
	// caller's update/sync/push/pull call resolves.
	EventTransform EventType = "transform"

	// EventPatch names the patch event. Nothing in this module
	// dispatches it: Cache.Patch reports its applied operations only
	// through its return value and its live-query notifications.
	EventPatch EventType = "patch"

	EventReset   EventType = "reset"
	EventUpgrade EventType = "upgrade"

	// EventRollback fires when the transform log's Rollback removes
	// transform ids; Result carries the removed ids, oldest first.
	EventRollback EventType = "rollback"
)

// isBefore reports whether the event type is a beforeX hook, i.e. fires
// ahead of the operation rather than reporting its outcome.
func (t EventType) isBefore() bool {
	switch t {
	case EventBeforeQuery, EventBeforeUpdate, EventBeforeSync, EventBeforePush, EventBeforePull:
		return true
	default:
		return false
	}
}

// Event is the canonical request object carried as the first handler
// argument for every event type. Which fields are populated depends
// on Type: a query event carries Query, an update
// event carries Operations, a sync/push/pull event carries Source and
// Options, and so on.
type Event struct {
	Type     EventType
	Source   string // name of the originating Source, for multi-source setups
	Sequence int64  // monotonic per-Source event counter

	Query      any // recordmodel.Query, set for query/beforeQuery/queryFail
	Operations any // []recordmodel.Operation, set for update/beforeUpdate/updateFail
	Transform  any // recordmodel.Transform, set for the transform event

	Options any // source-specific sync/push/pull options

	Result any   // the resolved value, set on success events
	Err    error // set on XFail events
}

// Hints carries the mutable advice a beforeX handler can leave for the
// operation about to run — analogous to the canonical request object's
// second argument on beforeX dispatch. A handler that sets Block
// short-circuits the operation with Reason as its error.
type Hints struct {
	Block  bool
	Reason string
}
