package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_RegistersDroppedFile(t *testing.T) {
	store := newTestStore(t)
	root := filepath.Join(t.TempDir(), "raw")

	seeder := NewSeeder(store)
	w := NewWatcher(root, seeder)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(root, "dropped.png"), []byte("dropped"), 0644); err != nil {
		t.Fatal(err)
	}
	// Ignored: unsupported extension.
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("text"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		count, err := store.CountAssets(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if count >= 1 {
			if count > 1 {
				t.Errorf("expected 1 registered asset, got %d", count)
			}
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("dropped file was never registered")
}

func TestWatcher_SyncExisting(t *testing.T) {
	store := newTestStore(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "pre.png"), []byte("pre-existing"))

	seeder := NewSeeder(store)
	w := NewWatcher(root, seeder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	w.SyncExisting(ctx)
	count, err := store.CountAssets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected 1 asset after sync, got %d", count)
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	w := NewWatcher(t.TempDir(), NewSeeder(store))
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	w.Stop()
}
