package keymap

import "testing"

func TestPushRecordAndLookup(t *testing.T) {
	km := New()
	km.PushRecord("planet", "local-1", map[string]string{"remoteId": "p-100"})

	id, ok := km.KeyToID("planet", "remoteId", "p-100")
	if !ok || id != "local-1" {
		t.Fatalf("KeyToID = %q, %v; want local-1, true", id, ok)
	}

	value, ok := km.IDToKey("planet", "remoteId", "local-1")
	if !ok || value != "p-100" {
		t.Fatalf("IDToKey = %q, %v; want p-100, true", value, ok)
	}
}

func TestIDFromKeysMatchesAnyKnownKey(t *testing.T) {
	km := New()
	km.SetKey("planet", "remoteId", "p-100", "local-1")

	id, ok := km.IDFromKeys("planet", map[string]string{
		"otherId":  "unknown",
		"remoteId": "p-100",
	})
	if !ok || id != "local-1" {
		t.Fatalf("IDFromKeys = %q, %v; want local-1, true", id, ok)
	}

	if _, ok := km.IDFromKeys("planet", map[string]string{"otherId": "unknown"}); ok {
		t.Fatalf("expected no match for wholly unknown keys")
	}
}

func TestSetKeyLastWriterWins(t *testing.T) {
	km := New()
	km.SetKey("planet", "remoteId", "p-100", "local-1")
	km.SetKey("planet", "remoteId", "p-100", "local-2")

	id, ok := km.KeyToID("planet", "remoteId", "p-100")
	if !ok || id != "local-2" {
		t.Fatalf("KeyToID = %q, %v; want local-2, true (last writer wins)", id, ok)
	}
}

func TestKeysFromIDReturnsAllBoundKeys(t *testing.T) {
	km := New()
	km.PushRecord("planet", "local-1", map[string]string{
		"remoteId": "p-100",
		"slug":     "earth",
	})

	keys := km.KeysFromID("planet", "local-1")
	if keys["remoteId"] != "p-100" || keys["slug"] != "earth" {
		t.Fatalf("KeysFromID = %#v; want both remoteId and slug", keys)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	km := New()
	km.PushRecord("planet", "local-1", map[string]string{"remoteId": "p-100"})

	data, err := km.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	restored := New()
	if err := restored.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}

	id, ok := restored.KeyToID("planet", "remoteId", "p-100")
	if !ok || id != "local-1" {
		t.Fatalf("after round-trip KeyToID = %q, %v; want local-1, true", id, ok)
	}
}

func TestTypesAreIsolated(t *testing.T) {
	km := New()
	km.SetKey("planet", "remoteId", "100", "planet-local")
	km.SetKey("moon", "remoteId", "100", "moon-local")

	id, ok := km.KeyToID("planet", "remoteId", "100")
	if !ok || id != "planet-local" {
		t.Fatalf("planet lookup = %q, %v; want planet-local, true", id, ok)
	}
	id, ok = km.KeyToID("moon", "remoteId", "100")
	if !ok || id != "moon-local" {
		t.Fatalf("moon lookup = %q, %v; want moon-local, true", id, ok)
	}
}
