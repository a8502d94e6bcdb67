package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// RemoteEmbedder calls an HTTP embedding service that accepts raw image bytes
// and returns a JSON body {"embedding": [...]}. The service is expected to
// return unit-normalized vectors.
type RemoteEmbedder struct {
	endpoint   string
	dimensions int
	client     *http.Client
}

// NewRemoteEmbedder creates a remote embedder for the given endpoint.
func NewRemoteEmbedder(endpoint string, dimensions int, timeout time.Duration) (*RemoteEmbedder, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("remote embedder requires an endpoint")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &RemoteEmbedder{
		endpoint:   endpoint,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type remoteResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed posts the image bytes to the embedding service.
func (e *RemoteEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrEmbeddingFailed, err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: service returned %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(b))
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbeddingFailed, err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingFailed, out.Error)
	}
	if len(out.Embedding) != e.dimensions {
		return nil, fmt.Errorf("service returned %d dimensions, expected %d", len(out.Embedding), e.dimensions)
	}
	return out.Embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for RemoteEmbedder.
func (e *RemoteEmbedder) Close() error {
	return nil
}
