//go:build integration

package bucket

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/dolt"
)

// TestSQLBucketAgainstDoltContainer exercises the SQL bucket against a
// real Dolt sql-server, the same testcontainers-go pattern the wider
// pack uses for integration-only database tests (run with
// `go test -tags=integration ./internal/bucket/...`).
func TestSQLBucketAgainstDoltContainer(t *testing.T) {
	ctx := context.Background()

	container, err := dolt.Run(ctx, "dolthub/dolt-sql-server:latest")
	if err != nil {
		t.Fatalf("start dolt container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate dolt container: %v", err)
		}
	}()

	dsn, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	b, err := NewSQL(ctx, SQLConfig{
		DriverName: "mysql",
		DataSource: dsn,
		Table:      "bucket_items_it",
		Retryable:  true,
	})
	if err != nil {
		t.Fatalf("NewSQL: %v", err)
	}
	defer b.Close()

	if err := b.SetItem(ctx, "source-keymap", `{"issue":{"jiraKey":{"1":"ISSUE-1"}}}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}

	v, ok, err := b.GetItem(ctx, "source-keymap")
	if err != nil || !ok {
		t.Fatalf("GetItem: %q, %v, %v", v, ok, err)
	}
	if v != `{"issue":{"jiraKey":{"1":"ISSUE-1"}}}` {
		t.Fatalf("unexpected value: %q", v)
	}

	keys, err := b.GetKeys(ctx)
	if err != nil {
		t.Fatalf("GetKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "source-keymap" {
		t.Fatalf("GetKeys = %v, want [source-keymap]", keys)
	}

	if err := b.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := b.GetItem(ctx, "source-keymap"); ok {
		t.Fatal("expected bucket empty after Clear")
	}
}
