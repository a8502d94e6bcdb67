package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/config"
	"github.com/hersafe/kagami/internal/embedding"
	"github.com/hersafe/kagami/internal/models"
	"github.com/hersafe/kagami/internal/pipeline"
	"github.com/hersafe/kagami/internal/risk"
	"github.com/hersafe/kagami/internal/search"
	"github.com/hersafe/kagami/internal/storage"
)

type testEnv struct {
	handler http.Handler
	store   storage.Store
	rawDir  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	rawDir := filepath.Join(dir, "raw")
	if err := os.MkdirAll(rawDir, 0755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "meta.db")
	cfg.Storage.IndexPath = filepath.Join(dir, "vectors.idx")
	cfg.Storage.RawImagesDir = rawDir

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	embedder := embedding.NewMockEmbedder(8)
	engine := search.NewEngine(store, embedder, risk.NewTable(nil), cfg.Storage.IndexPath)
	pipe := pipeline.New(store, embedder, cfg.Storage.IndexPath)

	srv := NewServer(engine, pipe, store, cfg, zap.NewNop())
	return &testEnv{handler: srv.Routes(), store: store, rawDir: rawDir}
}

func (e *testEnv) registerImage(t *testing.T, name string, content []byte) int64 {
	t.Helper()
	path := filepath.Join(e.rawDir, name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	id, _, err := e.store.Register(context.Background(), name+"-hash", path, "https://twitter.com/status/1")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func multipartImage(t *testing.T, fieldValues map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", "image/png")
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	for k, v := range fieldValues {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, writer.FormDataContentType()
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestSearchBeforeIndexReturns404(t *testing.T) {
	env := newTestEnv(t)
	body, contentType := multipartImage(t, nil, "query.png", []byte("query bytes"))
	req := httptest.NewRequest("POST", "/api/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec := env.do(t, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d, body=%s", rec.Code, rec.Body.String())
	}
}

func TestIndexThenSearch(t *testing.T) {
	env := newTestEnv(t)
	image := []byte("registered image bytes")
	env.registerImage(t, "a.png", image)

	rec := env.do(t, httptest.NewRequest("POST", "/api/v1/index", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("index status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var summary models.IndexSummary
	if err := json.NewDecoder(rec.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	if summary.Indexed != 1 {
		t.Errorf("summary %+v", summary)
	}

	// The exact bytes just indexed must come back as a match.
	body, contentType := multipartImage(t, nil, "query.png", image)
	req := httptest.NewRequest("POST", "/api/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec = env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status=%d, body=%s", rec.Code, rec.Body.String())
	}
	var result models.SearchResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusFound || len(result.Matches) != 1 {
		t.Fatalf("result %+v", result)
	}
	if result.Matches[0].Risk.Level != "High" {
		t.Errorf("risk %+v", result.Matches[0].Risk)
	}

	// Unrelated bytes stay below the threshold.
	body, contentType = multipartImage(t, nil, "other.png", []byte("completely different"))
	req = httptest.NewRequest("POST", "/api/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	rec = env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("search status=%d", rec.Code)
	}
	result = models.SearchResult{}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Status != models.StatusSafe {
		t.Errorf("expected SAFE for unrelated bytes, got %+v", result)
	}
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t)
	image := []byte("registered image bytes")
	env.registerImage(t, "a.png", image)
	env.do(t, httptest.NewRequest("POST", "/api/v1/index", nil))

	// Missing file field.
	var empty bytes.Buffer
	writer := multipart.NewWriter(&empty)
	_ = writer.WriteField("threshold", "0.5")
	_ = writer.Close()
	req := httptest.NewRequest("POST", "/api/v1/search", &empty)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("missing file: status=%d", rec.Code)
	}

	// Threshold outside [-1, 1].
	body, contentType := multipartImage(t, map[string]string{"threshold": "2.5"}, "q.png", image)
	req = httptest.NewRequest("POST", "/api/v1/search", body)
	req.Header.Set("Content-Type", contentType)
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("bad threshold: status=%d", rec.Code)
	}

	// Not multipart at all.
	req = httptest.NewRequest("POST", "/api/v1/search", bytes.NewReader(image))
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("non-multipart: status=%d", rec.Code)
	}
}

func TestSearchRejectsNonImageUpload(t *testing.T) {
	env := newTestEnv(t)
	env.registerImage(t, "a.png", []byte("registered image bytes"))
	env.do(t, httptest.NewRequest("POST", "/api/v1/index", nil))

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, _ := writer.CreateFormFile("file", "doc.txt")
	_, _ = part.Write([]byte("plain text content here"))
	_ = writer.Close()

	req := httptest.NewRequest("POST", "/api/v1/search", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if rec := env.do(t, req); rec.Code != http.StatusBadRequest {
		t.Errorf("status=%d", rec.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.registerImage(t, "a.png", []byte("image bytes"))

	rec := env.do(t, httptest.NewRequest("GET", "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var payload map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatal(err)
	}
	if payload["assets"].(float64) != 1 {
		t.Errorf("assets=%v", payload["assets"])
	}
	if payload["indexed"].(float64) != 0 {
		t.Errorf("indexed=%v", payload["indexed"])
	}
	if _, ok := payload["config"]; !ok {
		t.Error("status should echo the effective config")
	}
}

func TestMatchedImagesServing(t *testing.T) {
	env := newTestEnv(t)
	content := []byte("raw image on disk")
	if err := os.WriteFile(filepath.Join(env.rawDir, "served.png"), content, 0644); err != nil {
		t.Fatal(err)
	}

	rec := env.do(t, httptest.NewRequest("GET", "/matched-images/served.png", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	got, _ := io.ReadAll(rec.Body)
	if !bytes.Equal(got, content) {
		t.Error("served file content mismatch")
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

func TestIndexConflictWhileRunning(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = filepath.Join(dir, "meta.db")
	cfg.Storage.IndexPath = filepath.Join(dir, "vectors.idx")
	cfg.Storage.RawImagesDir = dir

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	imagePath := filepath.Join(dir, "a.png")
	if err := os.WriteFile(imagePath, []byte("image"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.Register(context.Background(), "h", imagePath, ""); err != nil {
		t.Fatal(err)
	}

	gate := &gateEmbedder{dims: 8, entered: make(chan struct{}), release: make(chan struct{})}
	engine := search.NewEngine(store, gate, risk.NewTable(nil), cfg.Storage.IndexPath)
	pipe := pipeline.New(store, gate, cfg.Storage.IndexPath)
	srv := NewServer(engine, pipe, store, cfg, zap.NewNop())
	handler := srv.Routes()

	done := make(chan int, 1)
	go func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/index", nil))
		done <- rec.Code
	}()

	<-gate.entered
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/index", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("concurrent trigger: status=%d", rec.Code)
	}
	close(gate.release)
	if code := <-done; code != http.StatusOK {
		t.Errorf("first run: status=%d", code)
	}
}
