// Package embedding provides image embedding via ONNX, a remote service, and caching.
package embedding

import (
	"context"
	"errors"
)

// ErrEmbeddingFailed wraps failures to turn image bytes into a vector
// (undecodable image, provider error, timeout). Retryable per asset.
var ErrEmbeddingFailed = errors.New("embedding failed")

// Embedder produces fixed-dimension, L2-normalized vector embeddings for images.
type Embedder interface {
	Embed(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
	Close() error
}
