package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_RegisterDedup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id1, wasNew, err := store.Register(ctx, "hash-a", "a.png", "https://example.com/a")
	if err != nil {
		t.Fatal(err)
	}
	if !wasNew {
		t.Error("first register should be new")
	}

	// Same content hash under a different path: one row, wasNew false.
	id2, wasNew, err := store.Register(ctx, "hash-a", "copy-of-a.png", "")
	if err != nil {
		t.Fatal(err)
	}
	if wasNew {
		t.Error("duplicate hash should not be new")
	}
	if id2 != id1 {
		t.Errorf("duplicate should return the existing id, got %d want %d", id2, id1)
	}

	count, err := store.CountAssets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	asset, err := store.Lookup(ctx, id1)
	if err != nil {
		t.Fatal(err)
	}
	if asset.FilePath != "a.png" || asset.SourceURL != "https://example.com/a" {
		t.Errorf("first registration's metadata must win, got %+v", asset)
	}
}

func TestSQLiteStore_UnindexedLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	idA, _, _ := store.Register(ctx, "h1", "one.png", "")
	idB, _, _ := store.Register(ctx, "h2", "two.png", "")

	pending, err := store.ListUnindexed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 unindexed, got %d", len(pending))
	}
	if pending[0].ID != idA || pending[1].ID != idB {
		t.Errorf("unindexed assets must come back in id order, got %+v", pending)
	}

	if err := store.MarkIndexed(ctx, idA); err != nil {
		t.Fatal(err)
	}
	pending, _ = store.ListUnindexed(ctx)
	if len(pending) != 1 || pending[0].ID != idB {
		t.Errorf("expected only %d pending, got %+v", idB, pending)
	}

	indexed, err := store.CountIndexed(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if indexed != 1 {
		t.Errorf("CountIndexed=%d", indexed)
	}

	// MarkIndexed is idempotent.
	if err := store.MarkIndexed(ctx, idA); err != nil {
		t.Errorf("re-marking should not error: %v", err)
	}

	asset, err := store.Lookup(ctx, idA)
	if err != nil {
		t.Fatal(err)
	}
	if !asset.Indexed {
		t.Error("asset should report indexed")
	}
	if asset.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}
}

func TestSQLiteStore_LookupNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Lookup(context.Background(), 999)
	if !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("expected ErrAssetNotFound, got %v", err)
	}
}
