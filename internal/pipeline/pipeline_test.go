package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hersafe/kagami/internal/embedding"
	"github.com/hersafe/kagami/internal/storage"
	"github.com/hersafe/kagami/internal/vector"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "pipe.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func registerImage(t *testing.T, store storage.Store, dir, name string, content []byte) int64 {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	id, _, err := store.Register(context.Background(), name+"-hash", path, "")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestPipeline_Run(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "index", "vectors.idx")

	idA := registerImage(t, store, dir, "a.png", []byte("image-a"))
	idB := registerImage(t, store, dir, "b.png", []byte("image-b"))

	embedder := embedding.NewMockEmbedder(8)
	p := New(store, embedder, indexPath)
	ctx := context.Background()

	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 2 || summary.Indexed != 2 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Errorf("summary %+v", summary)
	}

	idx, err := vector.LoadOrEmpty(indexPath, 8)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Len() != 2 || !idx.Contains(idA) || !idx.Contains(idB) {
		t.Errorf("index should hold both assets, Len=%d", idx.Len())
	}

	indexed, _ := store.CountIndexed(ctx)
	if indexed != 2 {
		t.Errorf("CountIndexed=%d", indexed)
	}

	// Nothing left to do; the second run is a no-op.
	summary, err = p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 0 || summary.Indexed != 0 {
		t.Errorf("second run summary %+v", summary)
	}
}

func TestPipeline_MissingFileSkipped(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vectors.idx")

	ctx := context.Background()
	id, _, err := store.Register(ctx, "gone-hash", filepath.Join(dir, "gone.png"), "")
	if err != nil {
		t.Fatal(err)
	}

	p := New(store, embedding.NewMockEmbedder(8), indexPath)
	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Scanned != 1 || summary.Skipped != 1 || summary.Indexed != 0 {
		t.Errorf("summary %+v", summary)
	}

	// The asset stays pending for a future run.
	pending, _ := store.ListUnindexed(ctx)
	if len(pending) != 1 || pending[0].ID != id {
		t.Errorf("asset should remain unindexed, got %+v", pending)
	}
	// Nothing was added, so no index file is written.
	if _, err := os.Stat(indexPath); !os.IsNotExist(err) {
		t.Error("index file should not exist after an all-skip run")
	}
}

// failingEmbedder always fails.
type failingEmbedder struct{ dims int }

func (f *failingEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	return nil, fmt.Errorf("%w: model offline", embedding.ErrEmbeddingFailed)
}
func (f *failingEmbedder) Dimensions() int { return f.dims }
func (f *failingEmbedder) Close() error    { return nil }

func TestPipeline_EmbeddingFailureSkipped(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	registerImage(t, store, dir, "a.png", []byte("image-a"))

	p := New(store, &failingEmbedder{dims: 8}, filepath.Join(dir, "vectors.idx"))
	summary, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Indexed != 0 {
		t.Errorf("summary %+v", summary)
	}
}

// flakyMarkStore fails MarkIndexed for one id until released.
type flakyMarkStore struct {
	storage.Store
	failID int64
	broken bool
}

func (s *flakyMarkStore) MarkIndexed(ctx context.Context, id int64) error {
	if s.broken && id == s.failID {
		return fmt.Errorf("simulated write failure")
	}
	return s.Store.MarkIndexed(ctx, id)
}

func TestPipeline_MarkIndexedFailureSurfacesOnRetry(t *testing.T) {
	inner := newTestStore(t)
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "vectors.idx")
	id := registerImage(t, inner, dir, "a.png", []byte("image-a"))

	store := &flakyMarkStore{Store: inner, failID: id, broken: true}
	p := New(store, embedding.NewMockEmbedder(8), indexPath)
	ctx := context.Background()

	summary, err := p.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Failed != 1 || summary.Indexed != 0 {
		t.Errorf("summary %+v", summary)
	}

	// The vector was saved but the flag never flipped, so the retry collides
	// with the persisted entry. That collision is the signal the two stores
	// disagree; it must abort the run rather than be papered over.
	store.broken = false
	_, err = p.Run(ctx)
	if !errors.Is(err, vector.ErrDuplicateID) {
		t.Errorf("expected duplicate-id failure, got %v", err)
	}
}

// gateEmbedder blocks inside Embed until released.
type gateEmbedder struct {
	dims    int
	entered chan struct{}
	release chan struct{}
}

func (g *gateEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	close(g.entered)
	<-g.release
	return make([]float32, g.dims), nil
}
func (g *gateEmbedder) Dimensions() int { return g.dims }
func (g *gateEmbedder) Close() error    { return nil }

func TestPipeline_RunInProgress(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	registerImage(t, store, dir, "a.png", []byte("image-a"))

	gate := &gateEmbedder{
		dims:    8,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := New(store, gate, filepath.Join(dir, "vectors.idx"))

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background())
		done <- err
	}()

	<-gate.entered
	if _, err := p.Run(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	close(gate.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
