package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// MockEmbedder is a deterministic embedder for tests and development. It
// derives a unit-normalized vector from the image byte hash so that identical
// bytes always get the same embedding.
type MockEmbedder struct {
	dimensions int
}

// NewMockEmbedder returns an embedder producing deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &MockEmbedder{dimensions: dimensions}
}

// Embed returns a deterministic embedding based on the content hash.
func (e *MockEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	sum := sha256.Sum256(image)
	seed := binary.LittleEndian.Uint64(sum[:8])
	emb := make([]float32, e.dimensions)
	for i := 0; i < e.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(seed%104729)*float64(i+1))*0.1 + 0.01)
	}
	// Unit length so inner product equals cosine similarity
	var s float64
	for _, v := range emb {
		s += float64(v) * float64(v)
	}
	if s > 0 {
		norm := 1.0 / math.Sqrt(s)
		for i := range emb {
			emb[i] *= float32(norm)
		}
	}
	return emb, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
