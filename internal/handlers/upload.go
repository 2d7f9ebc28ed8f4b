package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/metrics"
	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// HandleInference annotates an uploaded image without storing it.
// ?variant=metadata returns the combined block instead of the triple.
func (h *Handler) HandleInference(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	u, err := h.readUpload(r)
	if err != nil {
		h.writeError(w, err.Error(), uploadStatus(err))
		return
	}
	metrics.ObserveUpload(int64(len(u.data)))

	result, err := h.annotator.Annotate(r.Context(), u.data)
	if err != nil {
		h.writeAnnotateError(w, err)
		return
	}

	if r.URL.Query().Get("variant") == "metadata" {
		h.writeJSON(w, map[string]string{"metadata": metadata.CombinedBlock(result)})
		return
	}
	h.writeJSON(w, result)
}

func (h *Handler) writeAnnotateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, inference.ErrInvalidImage):
		h.writeError(w, "Invalid image: "+err.Error(), http.StatusBadRequest)
	case errors.Is(err, inference.ErrServiceUnavailable):
		h.writeError(w, "Inference service unavailable: "+err.Error(), http.StatusServiceUnavailable)
	default:
		h.writeError(w, "Failed to annotate image: "+err.Error(), http.StatusInternalServerError)
	}
}

// handleCreateImage stores the upload, annotates it, then persists and
// embeds the result. The record and file are kept when annotation fails.
func (h *Handler) handleCreateImage(w http.ResponseWriter, r *http.Request) {
	u, err := h.readUpload(r)
	if err != nil {
		h.writeError(w, err.Error(), uploadStatus(err))
		return
	}
	metrics.ObserveUpload(int64(len(u.data)))

	record, err := h.saveUpload(u)
	if errors.Is(err, inference.ErrInvalidImage) {
		h.writeError(w, "Invalid image: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	if err := h.store.Create(ctx, record); err != nil {
		h.writeError(w, "Failed to create record: "+err.Error(), http.StatusInternalServerError)
		return
	}

	result, err := h.annotator.Annotate(ctx, u.data)
	if err != nil {
		slog.Error("Annotation failed, keeping record with placeholders", "id", record.ID, "err", err)
		code := http.StatusInternalServerError
		message := "Failed to annotate image"
		if errors.Is(err, inference.ErrServiceUnavailable) {
			code = http.StatusServiceUnavailable
			message = "Inference service unavailable"
		}
		h.writeJSONStatus(w, code, map[string]any{
			"error":  message,
			"record": record,
		})
		return
	}

	if err := h.persist(ctx, record, result); err != nil {
		h.writeError(w, "Failed to save annotation: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.archive(ctx, record)

	stored, err := h.store.Get(ctx, record.ID)
	if err != nil {
		h.writeError(w, "Failed to load record: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSONStatus(w, http.StatusCreated, stored)
}

// persist stores and embeds result concurrently. An embed failure is
// logged and leaves the stored annotation in place.
func (h *Handler) persist(ctx context.Context, record *models.ImageRecord, result models.AnnotationResult) error {
	var (
		wg       sync.WaitGroup
		storeErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		storeErr = h.store.SetAnnotation(ctx, record.ID, result)
	}()
	go func() {
		defer wg.Done()
		if err := h.embedder.Embed(record.ImagePath, result); err != nil {
			slog.Error("Failed to embed metadata", "id", record.ID, "path", record.ImagePath, "err", err)
		}
	}()
	wg.Wait()
	return storeErr
}

func (h *Handler) archive(ctx context.Context, record *models.ImageRecord) {
	if h.archiver == nil {
		return
	}
	data, err := h.embedder.ReadFile(record.ImagePath)
	if err != nil {
		slog.Error("Failed to read image for archiving", "id", record.ID, "err", err)
		return
	}
	if err := h.archiver.Archive(ctx, record, data); err != nil {
		slog.Error("Failed to archive image", "id", record.ID, "err", err)
	}
}
