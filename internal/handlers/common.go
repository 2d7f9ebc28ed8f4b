package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"

	"github.com/lehigh-university-libraries/annotator/internal/annotate"
	"github.com/lehigh-university-libraries/annotator/internal/archive"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Handler struct {
	store     storage.Store
	annotator annotate.Annotator
	embedder  *metadata.Embedder
	archiver  archive.Archiver
	uploadDir string
	maxUpload int64
}

// Options wires a Handler. Archiver may be nil.
type Options struct {
	Store       storage.Store
	Annotator   annotate.Annotator
	Embedder    *metadata.Embedder
	Archiver    archive.Archiver
	UploadDir   string
	MaxUploadMB int
}

func New(opts Options) *Handler {
	h := &Handler{
		store:     opts.Store,
		annotator: opts.Annotator,
		embedder:  opts.Embedder,
		archiver:  opts.Archiver,
		uploadDir: opts.UploadDir,
		maxUpload: int64(opts.MaxUploadMB) * 1024 * 1024,
	}
	if h.embedder == nil {
		h.embedder = metadata.NewEmbedder()
	}
	if h.uploadDir == "" {
		h.uploadDir = "uploads"
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 10 * 1024 * 1024
	}
	return h
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message, "status", code)
	} else {
		slog.Warn(message, "status", code)
	}
	h.writeJSONStatus(w, code, map[string]string{"error": message})
}

// File operation helpers
func (h *Handler) ensureUploadsDir() error {
	return os.MkdirAll(h.uploadDir, 0755)
}
