package cache

import (
	"testing"

	"github.com/sourcekit/core/internal/recordmodel"
)

// Scenario 4: debounced live query receives exactly one notification
// for a 3-record batch, and re-evaluating it returns all 3.
func TestSubscribeDebouncedCoalescesOneBatch(t *testing.T) {
	c := New(planetSchema())
	notifications := 0
	sub := c.Subscribe(recordmodel.FindRecords("planet"), func(n Notification) {
		notifications++
	})
	defer sub.Unsubscribe()

	res := mustPatch(t, c,
		addPlanet("jupiter", "jupiter", 1),
		addPlanet("earth", "earth", 2),
		addPlanet("venus", "venus", 3),
	)
	if len(res.AppliedOperations) != 3 {
		t.Fatalf("expected 3 applied operations, got %d", len(res.AppliedOperations))
	}
	if notifications != 1 {
		t.Fatalf("debounced notifications = %d, want 1", notifications)
	}

	var captured Notification
	c.subMu.Lock()
	for _, lq := range c.subs {
		captured = Notification{lq: lq}
	}
	c.subMu.Unlock()

	result, err := captured.Query()
	if err != nil {
		t.Fatalf("Notification.Query: %v", err)
	}
	if records := result.([]*recordmodel.Record); len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
}

func TestSubscribeNonDebouncedFiresPerOperation(t *testing.T) {
	c := New(planetSchema())
	notifications := 0
	sub := c.Subscribe(recordmodel.FindRecords("planet"), func(n Notification) {
		notifications++
	}, NonDebounced())
	defer sub.Unsubscribe()

	mustPatch(t, c,
		addPlanet("jupiter", "jupiter", 1),
		addPlanet("earth", "earth", 2),
	)
	if notifications != 2 {
		t.Fatalf("non-debounced notifications = %d, want 2", notifications)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	c := New(planetSchema())
	notifications := 0
	sub := c.Subscribe(recordmodel.FindRecords("planet"), func(n Notification) {
		notifications++
	})
	sub.Unsubscribe()

	mustPatch(t, c, addPlanet("earth", "earth", 1))
	if notifications != 0 {
		t.Fatalf("notifications after unsubscribe = %d, want 0", notifications)
	}
}

// Re-evaluation after a delete surfaces an error through Query(), not a
// panic or subscription termination.
func TestNotificationQueryErrorAfterDelete(t *testing.T) {
	c := New(planetSchema())
	earth := recordmodel.Identity{Type: "planet", ID: "earth"}
	mustPatch(t, c, recordmodel.AddRecord(recordmodel.NewRecord(earth)))

	var captured Notification
	c.Subscribe(recordmodel.FindRecord(earth), func(n Notification) {
		captured = n
	})
	mustPatch(t, c, recordmodel.RemoveRecord(earth))

	if _, err := captured.Query(); err == nil {
		t.Fatalf("expected RecordNotFound re-evaluating a deleted record's findRecord")
	}
}
