//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
)

// CLIPEmbedder stub type when built without CGO (see clip.go for the real implementation).
type CLIPEmbedder struct{}

// NewCLIPEmbedder returns an error when built without CGO (ONNX not available).
func NewCLIPEmbedder(_ string, _ int) (*CLIPEmbedder, error) {
	return nil, errors.New("CLIP embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

// Embed always fails on the stub.
func (e *CLIPEmbedder) Embed(_ context.Context, _ []byte) ([]float32, error) {
	return nil, errors.New("CLIP embedder not available in this build")
}

// Dimensions returns zero on the stub.
func (e *CLIPEmbedder) Dimensions() int { return 0 }

// Close is a no-op on the stub.
func (e *CLIPEmbedder) Close() error { return nil }
