// Package vector provides an exact inner-product index over normalized
// vectors, keyed by the metadata store's integer asset ids.
package vector

import "errors"

// Errors returned by FlatIndex operations. Callers distinguish a missing
// index file (nothing to search yet) from an unreadable one (data damage).
var (
	// ErrDimensionMismatch signals an incompatible vector length, which means
	// an incompatible embedding model was substituted. Fatal, never retryable.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrDuplicateID signals an id already present in the index. There is no
	// update path; duplicates indicate a consistency violation upstream.
	ErrDuplicateID = errors.New("duplicate vector id")
	// ErrNotFound signals that no index file exists at the given path.
	ErrNotFound = errors.New("index file not found")
	// ErrCorrupt signals that an index file exists but could not be decoded.
	ErrCorrupt = errors.New("index file corrupt")
)

// Hit is a single search result: an asset id and its inner-product score.
// For unit-normalized vectors the score equals cosine similarity.
type Hit struct {
	ID    int64
	Score float64
}
