// Package pipeline populates the vector index from unindexed metadata rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/embedding"
	"github.com/hersafe/kagami/internal/models"
	"github.com/hersafe/kagami/internal/storage"
	"github.com/hersafe/kagami/internal/vector"
)

// ErrRunInProgress is returned when a pipeline run is triggered while another
// run is still executing. Runs are serialized; concurrent batches over the
// same unindexed set would race into duplicate-id rejections.
var ErrRunInProgress = errors.New("indexing run already in progress")

// Pipeline runs one synchronous indexing pass over all currently-unindexed
// assets: read bytes, embed, add to the index under the asset's id, flip the
// indexed flag, and persist the index once at the end of the batch.
//
// Each run reloads the index from the last durable snapshot before
// processing. An asset whose vector was added in a previous run but never
// saved is therefore absent from the reloaded index, so retrying it cannot
// trip the duplicate-id rejection.
type Pipeline struct {
	store        storage.Store
	embedder     embedding.Embedder
	indexPath    string
	embedTimeout time.Duration
	logger       *zap.Logger // optional; when set, logs per-asset events

	runMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets a logger for per-asset debug output.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithEmbedTimeout bounds each embedding call. Zero disables the bound.
func WithEmbedTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.embedTimeout = d }
}

// New creates a pipeline writing the durable index to indexPath.
func New(store storage.Store, embedder embedding.Embedder, indexPath string, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		embedder:  embedder,
		indexPath: indexPath,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes the full batch of currently-unindexed assets and returns a
// summary. Unreadable files and embedding failures are per-asset skips: the
// asset stays unindexed for a future run. A dimension mismatch or duplicate
// id aborts the whole run without saving, since either signals a
// configuration or consistency fault that must not be papered over.
func (p *Pipeline) Run(ctx context.Context) (*models.IndexSummary, error) {
	if !p.runMu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer p.runMu.Unlock()

	start := time.Now()

	idx, err := vector.LoadOrEmpty(p.indexPath, p.embedder.Dimensions())
	if err != nil {
		return nil, fmt.Errorf("load index snapshot: %w", err)
	}

	assets, err := p.store.ListUnindexed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unindexed assets: %w", err)
	}

	summary := &models.IndexSummary{Scanned: len(assets)}
	if len(assets) == 0 {
		summary.DurationMS = time.Since(start).Milliseconds()
		return summary, nil
	}

	added := 0
	for _, asset := range assets {
		if err := ctx.Err(); err != nil {
			break
		}

		data, err := os.ReadFile(asset.FilePath)
		if err != nil {
			summary.Skipped++
			if p.logger != nil {
				p.logger.Debug("pipeline skipping unreadable asset",
					zap.Int64("id", asset.ID), zap.String("path", asset.FilePath), zap.Error(err))
			}
			continue
		}

		vec, err := p.embed(ctx, data)
		if err != nil {
			summary.Skipped++
			if p.logger != nil {
				p.logger.Debug("pipeline embedding failed",
					zap.Int64("id", asset.ID), zap.String("path", asset.FilePath), zap.Error(err))
			}
			continue
		}

		if err := idx.Add(asset.ID, vec); err != nil {
			// DimensionMismatch means an incompatible model was substituted;
			// DuplicateID means the metadata and index disagree. Both abort
			// the run without saving.
			return nil, fmt.Errorf("add vector for asset %d: %w", asset.ID, err)
		}
		added++

		// Committed immediately so a later crash loses at most this one flip,
		// not the whole batch.
		if err := p.store.MarkIndexed(ctx, asset.ID); err != nil {
			summary.Failed++
			if p.logger != nil {
				p.logger.Warn("pipeline mark indexed failed",
					zap.Int64("id", asset.ID), zap.Error(err))
			}
			continue
		}
		summary.Indexed++
		if p.logger != nil {
			p.logger.Debug("pipeline indexed asset", zap.Int64("id", asset.ID))
		}
	}

	if added > 0 {
		if err := idx.Save(p.indexPath); err != nil {
			return nil, fmt.Errorf("save index: %w", err)
		}
	}

	summary.DurationMS = time.Since(start).Milliseconds()
	if p.logger != nil {
		p.logger.Info("pipeline run complete",
			zap.Int("scanned", summary.Scanned),
			zap.Int("indexed", summary.Indexed),
			zap.Int("skipped", summary.Skipped),
			zap.Int("failed", summary.Failed),
			zap.Int("index_size", idx.Len()),
		)
	}
	return summary, nil
}

func (p *Pipeline) embed(ctx context.Context, data []byte) ([]float32, error) {
	if p.embedTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.embedTimeout)
		defer cancel()
	}
	return p.embedder.Embed(ctx, data)
}
