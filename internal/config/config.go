// Package config provides configuration loading and structs for the Kagami server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Risk      RiskConfig      `yaml:"risk"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the metadata database, the vector index
// file, and the registered raw images directory.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	IndexPath    string `yaml:"index_path"`
	RawImagesDir string `yaml:"raw_images_dir"`
}

// EmbeddingConfig holds embedding backend settings. Type selects the
// backend: "clip" (local ONNX model), "remote" (HTTP embedding service),
// or "mock" (deterministic, for tests and development).
type EmbeddingConfig struct {
	Type           string `yaml:"type"`
	ModelPath      string `yaml:"model_path"`
	Endpoint       string `yaml:"endpoint"`
	Dimensions     int    `yaml:"dimensions"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	CacheSize      int    `yaml:"cache_size"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	// Threshold is the minimum inner-product similarity for a match.
	Threshold float64 `yaml:"threshold"`
	// TopK is the number of nearest neighbors retrieved per query.
	TopK int `yaml:"top_k"`
}

// RiskRule is one source-platform risk classification rule. Rules are
// evaluated in order against the match's source URL; the first rule whose
// Pattern is a substring of the URL wins.
type RiskRule struct {
	Pattern     string `yaml:"pattern"`
	Score       int    `yaml:"score"`
	Level       string `yaml:"level"`
	Description string `yaml:"description"`
}

// RiskConfig holds the source-platform risk classification table.
// When Rules is empty the built-in default table is used.
type RiskConfig struct {
	Rules []RiskRule `yaml:"rules"`
}

// WatchConfig holds raw image directory watch settings.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.RawImagesDir = expandPath(cfg.Storage.RawImagesDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
