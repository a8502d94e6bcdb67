// Package storage defines the persistence interface for registered image metadata.
package storage

import (
	"context"

	"github.com/hersafe/kagami/internal/models"
)

// Store defines asset metadata persistence operations.
type Store interface {
	// Register inserts a new asset row keyed by contentHash. When the hash is
	// already registered, the existing row's id is returned with wasNew false;
	// re-registering identical bytes is a no-op, not an error.
	Register(ctx context.Context, contentHash, filePath, sourceURL string) (id int64, wasNew bool, err error)

	// ListUnindexed returns all assets with indexed = false, ordered by
	// ascending id so pipeline runs process assets deterministically.
	ListUnindexed(ctx context.Context) ([]models.UnindexedAsset, error)

	// MarkIndexed flips the indexed flag on a row. Marking an already-indexed
	// row is a safe no-op.
	MarkIndexed(ctx context.Context, id int64) error

	// Lookup returns the asset with the given id, or ErrAssetNotFound.
	Lookup(ctx context.Context, id int64) (*models.Asset, error)

	// Stats
	CountAssets(ctx context.Context) (int64, error)
	CountIndexed(ctx context.Context) (int64, error)

	Close() error
}
