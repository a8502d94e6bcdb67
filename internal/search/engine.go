// Package search serves similarity queries against the durable vector index.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/embedding"
	"github.com/hersafe/kagami/internal/models"
	"github.com/hersafe/kagami/internal/risk"
	"github.com/hersafe/kagami/internal/storage"
	"github.com/hersafe/kagami/internal/vector"
)

// ErrIndexUnavailable is returned when no durable index exists yet; there is
// nothing meaningful to search until a pipeline run has saved one.
var ErrIndexUnavailable = errors.New("vector index unavailable")

// unknownSource is reported for matches whose metadata row cannot be found.
const unknownSource = "Unknown Source"

// Engine answers similarity queries. Every query loads the last durable
// index snapshot, so searches see a consistent (possibly stale) view and are
// unaffected by a pipeline run mutating its own in-memory index.
type Engine struct {
	store      storage.Store
	embedder   embedding.Embedder
	riskTable  *risk.Table
	indexPath  string
	dimensions int
	topK       int
	logger     *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for query timing and degradation events.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithTopK sets the number of neighbors retrieved per query (default 5).
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine creates a search engine reading the durable index at indexPath.
func NewEngine(
	store storage.Store,
	embedder embedding.Embedder,
	riskTable *risk.Table,
	indexPath string,
	opts ...Option,
) *Engine {
	e := &Engine{
		store:      store,
		embedder:   embedder,
		riskTable:  riskTable,
		indexPath:  indexPath,
		dimensions: embedder.Dimensions(),
		topK:       5,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SearchImage embeds the query image and searches the index. An empty index
// short-circuits to SAFE before the embedding provider is consulted at all.
func (e *Engine) SearchImage(ctx context.Context, image []byte, threshold float64) (*models.SearchResult, error) {
	start := time.Now()

	idx, err := e.loadSnapshot()
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		if e.logger != nil {
			e.logger.Debug("search on empty index, returning SAFE")
		}
		return &models.SearchResult{
			Status:      models.StatusSafe,
			QueryTimeMS: time.Since(start).Milliseconds(),
		}, nil
	}

	query, err := e.embedder.Embed(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}

	result, err := e.searchIndex(ctx, idx, query, threshold)
	if err != nil {
		return nil, err
	}
	result.QueryTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

// SearchVector searches the index with an already-materialized query vector.
func (e *Engine) SearchVector(ctx context.Context, query []float32, threshold float64) (*models.SearchResult, error) {
	start := time.Now()

	idx, err := e.loadSnapshot()
	if err != nil {
		return nil, err
	}
	if idx.Len() == 0 {
		return &models.SearchResult{
			Status:      models.StatusSafe,
			QueryTimeMS: time.Since(start).Milliseconds(),
		}, nil
	}

	result, err := e.searchIndex(ctx, idx, query, threshold)
	if err != nil {
		return nil, err
	}
	result.QueryTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

// IndexSize returns the entry count of the current durable snapshot, or zero
// when no index exists yet.
func (e *Engine) IndexSize() int {
	idx, err := e.loadSnapshot()
	if err != nil {
		return 0
	}
	return idx.Len()
}

func (e *Engine) loadSnapshot() (*vector.FlatIndex, error) {
	idx, err := vector.NewFlatIndex(e.dimensions)
	if err != nil {
		return nil, err
	}
	if err := idx.Load(e.indexPath); err != nil {
		if errors.Is(err, vector.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
		}
		return nil, fmt.Errorf("load index: %w", err)
	}
	return idx, nil
}

func (e *Engine) searchIndex(ctx context.Context, idx *vector.FlatIndex, query []float32, threshold float64) (*models.SearchResult, error) {
	hits, err := idx.Search(query, e.topK)
	if err != nil {
		return nil, err
	}

	var matches []models.Match
	for _, hit := range hits {
		if hit.Score < threshold {
			continue
		}
		match := models.Match{
			AssetID:    hit.ID,
			Similarity: hit.Score,
		}
		asset, err := e.store.Lookup(ctx, hit.ID)
		if err != nil {
			// A missing or unreadable metadata row degrades this one match
			// rather than failing the whole search.
			if e.logger != nil {
				e.logger.Warn("metadata lookup failed for match",
					zap.Int64("asset_id", hit.ID), zap.Error(err))
			}
			match.SourceURL = unknownSource
		} else {
			match.SourceURL = asset.SourceURL
			match.FilePath = asset.FilePath
			if match.SourceURL == "" {
				match.SourceURL = unknownSource
			}
		}
		match.Risk = e.riskTable.Classify(match.SourceURL)
		matches = append(matches, match)
	}

	if len(matches) == 0 {
		return &models.SearchResult{Status: models.StatusSafe}, nil
	}
	return &models.SearchResult{
		Status:  models.StatusFound,
		Matches: matches,
	}, nil
}
