// Package ingest registers raw images into the metadata store: directory
// seeding with content-hash dedup, and an optional fsnotify watcher that
// picks up files dropped into the raw images directory.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/storage"
)

// defaultExtensions are the raw image formats accepted for registration.
var defaultExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
	".gif":  true,
}

// SourceURLFunc resolves the provenance URL for a file being registered.
// Returning "" registers the asset with no known source.
type SourceURLFunc func(path string) string

// Seeder registers raw image files into the metadata store. Identity is
// assigned here, before the indexing pipeline ever sees an asset.
type Seeder struct {
	store      storage.Store
	sourceURL  SourceURLFunc
	extensions map[string]bool
	logger     *zap.Logger // optional; when set, logs debug events
}

// SeederOption configures a Seeder.
type SeederOption func(*Seeder)

// WithLogger sets a logger for debug output (files registered, duplicates skipped).
func WithLogger(l *zap.Logger) SeederOption {
	return func(s *Seeder) { s.logger = l }
}

// WithSourceURL sets the provenance URL resolver for registered files.
func WithSourceURL(fn SourceURLFunc) SeederOption {
	return func(s *Seeder) { s.sourceURL = fn }
}

// NewSeeder creates a seeder writing to store.
func NewSeeder(store storage.Store, opts ...SeederOption) *Seeder {
	s := &Seeder{
		store:      store,
		extensions: defaultExtensions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeedSummary reports the outcome of one directory scan.
type SeedSummary struct {
	Registered int `json:"registered"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// SeedDirectory walks dir and registers every regular file with a supported
// image extension. Registering bytes already known (same content hash) counts
// as a duplicate, not an error. Unreadable files are counted failed and
// skipped.
func (s *Seeder) SeedDirectory(ctx context.Context, dir string) (*SeedSummary, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}
	summary := &SeedSummary{}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if !s.matchExtension(path) {
			return nil
		}
		_, wasNew, regErr := s.RegisterFile(ctx, path)
		switch {
		case regErr != nil:
			summary.Failed++
			if s.logger != nil {
				s.logger.Warn("seed register failed", zap.String("path", path), zap.Error(regErr))
			}
		case wasNew:
			summary.Registered++
		default:
			summary.Duplicates++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// RegisterFile hashes the file's bytes and registers it in the metadata
// store. The stored locator uses forward slashes regardless of platform so
// rows stay portable.
func (s *Seeder) RegisterFile(ctx context.Context, path string) (int64, bool, error) {
	hash, err := HashFile(path)
	if err != nil {
		return 0, false, err
	}
	sourceURL := ""
	if s.sourceURL != nil {
		sourceURL = s.sourceURL(path)
	}
	id, wasNew, err := s.store.Register(ctx, hash, filepath.ToSlash(path), sourceURL)
	if err != nil {
		return 0, false, err
	}
	if s.logger != nil {
		s.logger.Debug("seed registered file",
			zap.String("path", path),
			zap.Int64("id", id),
			zap.Bool("new", wasNew),
		)
	}
	return id, wasNew, nil
}

func (s *Seeder) matchExtension(path string) bool {
	return s.extensions[strings.ToLower(filepath.Ext(path))]
}

// HashFile returns the hex SHA-256 digest of the file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// mockPlatforms mirror the shapes of real platform photo URLs, used when
// seeding a development corpus without known provenance.
var mockPlatforms = []string{
	"instagram.com/p",
	"twitter.com/status",
	"reddit.com/r/pics/comments",
	"facebook.com/photo.php?fbid",
	"pinterest.com/pin",
}

// MockSourceURL returns a SourceURLFunc that assigns each file a plausible
// random platform URL. Intended for development and demo corpora only.
func MockSourceURL() SourceURLFunc {
	return func(string) string {
		platform := mockPlatforms[rand.Intn(len(mockPlatforms))]
		slug := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
		return fmt.Sprintf("https://www.%s/%s", platform, slug)
	}
}
