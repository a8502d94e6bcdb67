package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hersafe/kagami/internal/pipeline"
	"github.com/hersafe/kagami/internal/search"
)

// maxUploadBytes bounds the size of a query image upload.
const maxUploadBytes = 32 << 20

func (s *Server) handleTriggerIndex(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("index trigger request")
	summary, err := s.pipeline.Run(r.Context())
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("pipeline run failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	if !isImageUpload(header.Header.Get("Content-Type"), data) {
		s.respondError(w, http.StatusBadRequest, "invalid file type, must be an image")
		return
	}

	threshold := s.config.Search.Threshold
	if raw := r.FormValue("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < -1 || parsed > 1 {
			s.respondError(w, http.StatusBadRequest, "threshold must be a number in [-1, 1]")
			return
		}
		threshold = parsed
	}

	s.logger.Debug("search request",
		zap.String("filename", header.Filename),
		zap.Int("bytes", len(data)),
		zap.Float64("threshold", threshold),
	)

	result, err := s.engine.SearchImage(r.Context(), data, threshold)
	if err != nil {
		if errors.Is(err, search.ErrIndexUnavailable) {
			s.respondError(w, http.StatusNotFound, "vector index not built yet; trigger an indexing run first")
			return
		}
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	assetCount, err := s.storage.CountAssets(ctx)
	if err != nil {
		s.logger.Error("status: count assets failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	indexedCount, err := s.storage.CountIndexed(ctx)
	if err != nil {
		s.logger.Error("status: count indexed failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"assets":            assetCount,
		"indexed":           indexedCount,
		"vector_index_size": s.engine.IndexSize(),
		"config": map[string]interface{}{
			"embedding_type":       s.config.Embedding.Type,
			"embedding_dimensions": s.config.Embedding.Dimensions,
			"threshold":            s.config.Search.Threshold,
			"top_k":                s.config.Search.TopK,
			"database_path":        s.config.Storage.DatabasePath,
			"index_path":           s.config.Storage.IndexPath,
			"raw_images_dir":       s.config.Storage.RawImagesDir,
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// isImageUpload accepts uploads whose declared or sniffed content type is an image.
func isImageUpload(declared string, data []byte) bool {
	if strings.HasPrefix(declared, "image/") {
		return true
	}
	return strings.HasPrefix(http.DetectContentType(data), "image/")
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
