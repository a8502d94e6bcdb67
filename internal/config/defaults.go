package config

// DefaultThreshold is the similarity threshold used when none is configured
// or supplied with a search request.
const DefaultThreshold = 0.78

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8586
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kagami/data/metadata.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = "/usr/local/var/kagami/data/index/vectors.idx"
	}
	if cfg.Storage.RawImagesDir == "" {
		cfg.Storage.RawImagesDir = "/usr/local/var/kagami/data/raw_images"
	}
	if cfg.Embedding.Type == "" {
		cfg.Embedding.Type = "clip"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kagami/data/models/clip-vit-l-14-visual.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 768
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1024
	}
	if cfg.Search.Threshold == 0 {
		cfg.Search.Threshold = DefaultThreshold
	}
	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}
}
