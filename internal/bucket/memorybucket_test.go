package bucket

import (
	"context"
	"sort"
	"testing"
)

func TestMemorySetGetRemove(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	if _, ok, _ := b.GetItem(ctx, "missing"); ok {
		t.Fatal("expected missing key to report ok=false")
	}

	if err := b.SetItem(ctx, "a", "1"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	v, ok, err := b.GetItem(ctx, "a")
	if err != nil || !ok || v != "1" {
		t.Fatalf("GetItem(a) = %q, %v, %v", v, ok, err)
	}

	if err := b.RemoveItem(ctx, "a"); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, ok, _ := b.GetItem(ctx, "a"); ok {
		t.Fatal("expected key removed")
	}
}

func TestMemoryGetKeysAndClear(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	b.SetItem(ctx, "a", "1")
	b.SetItem(ctx, "b", "2")

	keys, err := b.GetKeys(ctx)
	if err != nil {
		t.Fatalf("GetKeys: %v", err)
	}
	sort.Strings(keys)
	if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
		t.Fatalf("GetKeys = %v, want [a b]", keys)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	keys, _ = b.GetKeys(ctx)
	if len(keys) != 0 {
		t.Fatalf("expected empty bucket after Clear, got %v", keys)
	}
}
