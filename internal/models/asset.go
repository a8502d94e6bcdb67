// Package models defines the shared data structures for Kagami.
package models

import "time"

// Asset is one registered image. Identity is the content hash: registering
// the same bytes twice yields the same row, keeping the first path and
// source URL seen.
type Asset struct {
	ID          int64     `json:"id"`
	FilePath    string    `json:"file_path"`
	SourceURL   string    `json:"source_url,omitempty"`
	ContentHash string    `json:"content_hash"`
	Indexed     bool      `json:"indexed"`
	CreatedAt   time.Time `json:"created_at"`
}

// UnindexedAsset is the projection the indexing pipeline works from.
type UnindexedAsset struct {
	ID       int64
	FilePath string
}
