package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hersafe/kagami/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "seed.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSeeder_SeedDirectory(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "a.png"), []byte("png-a"))
	writeFile(t, filepath.Join(dir, "b.JPG"), []byte("jpg-b"))
	writeFile(t, filepath.Join(dir, "nested", "c.webp"), []byte("webp-c"))
	writeFile(t, filepath.Join(dir, "notes.txt"), []byte("not an image"))
	// Same bytes as a.png under another name: a duplicate, not a new row.
	writeFile(t, filepath.Join(dir, "a-copy.png"), []byte("png-a"))

	seeder := NewSeeder(store)
	ctx := context.Background()
	summary, err := seeder.SeedDirectory(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Registered != 3 {
		t.Errorf("Registered=%d", summary.Registered)
	}
	if summary.Duplicates != 1 {
		t.Errorf("Duplicates=%d", summary.Duplicates)
	}
	if summary.Failed != 0 {
		t.Errorf("Failed=%d", summary.Failed)
	}

	count, err := store.CountAssets(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("expected 3 rows, got %d", count)
	}

	// Re-seeding the same directory registers nothing new.
	summary, err = seeder.SeedDirectory(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Registered != 0 || summary.Duplicates != 4 {
		t.Errorf("re-seed summary %+v", summary)
	}
}

func TestSeeder_SeedDirectoryNotADir(t *testing.T) {
	store := newTestStore(t)
	seeder := NewSeeder(store)
	if _, err := seeder.SeedDirectory(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestSeeder_RegisterFileStoresSlashPath(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	writeFile(t, path, []byte("bytes"))

	seeder := NewSeeder(store, WithSourceURL(func(string) string {
		return "https://example.com/img"
	}))
	ctx := context.Background()
	id, wasNew, err := seeder.RegisterFile(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if !wasNew {
		t.Error("first registration should be new")
	}

	asset, err := store.Lookup(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(asset.FilePath, "\\") {
		t.Errorf("stored path must use forward slashes, got %s", asset.FilePath)
	}
	if asset.SourceURL != "https://example.com/img" {
		t.Errorf("SourceURL=%s", asset.SourceURL)
	}
	if len(asset.ContentHash) != 64 {
		t.Errorf("expected hex sha256 hash, got %q", asset.ContentHash)
	}
}

func TestHashFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.png")
	writeFile(t, path, []byte("hello"))
	h, err := HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if h != want {
		t.Errorf("hash=%s", h)
	}
}

func TestMockSourceURL(t *testing.T) {
	fn := MockSourceURL()
	url := fn("any.png")
	if !strings.HasPrefix(url, "https://www.") {
		t.Errorf("unexpected url %s", url)
	}
	matched := false
	for _, platform := range mockPlatforms {
		if strings.Contains(url, platform) {
			matched = true
			break
		}
	}
	if !matched {
		t.Errorf("url %s does not use a known platform", url)
	}
}
