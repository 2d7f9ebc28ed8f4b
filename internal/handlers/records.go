package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/export"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

// listResponse is one page of records
type listResponse struct {
	Count    int                   `json:"count"`
	Page     int                   `json:"page"`
	PageSize int                   `json:"page_size"`
	Results  []*models.ImageRecord `json:"results"`
}

// HandleImages routes /api/images/ requests
func (h *Handler) HandleImages(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/images"), "/")

	switch rest {
	case "":
		switch r.Method {
		case "GET":
			h.listImages(w, r)
		case "POST":
			h.handleCreateImage(w, r)
		default:
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "export":
		if r.Method != "GET" {
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.exportImages(w, r)
	default:
		if strings.Contains(rest, "/") {
			h.writeError(w, "Record not found", http.StatusNotFound)
			return
		}
		switch r.Method {
		case "GET":
			h.getImage(w, r, rest)
		case "DELETE":
			h.deleteImage(w, r, rest)
		default:
			h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func (h *Handler) listImages(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	records, total, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, "Failed to list records: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []*models.ImageRecord{}
	}

	h.writeJSON(w, listResponse{
		Count:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
		Results:  records,
	})
}

func (h *Handler) getImage(w http.ResponseWriter, r *http.Request, id string) {
	record, err := h.store.Get(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to load record: "+err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, record)
}

// deleteImage removes the record only; the stored file is left on disk
func (h *Handler) deleteImage(w http.ResponseWriter, r *http.Request, id string) {
	err := h.store.Delete(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, "Record not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to delete record: "+err.Error(), http.StatusInternalServerError)
		return
	}
	slog.Info("Deleted record", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) exportImages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := export.ParseFormat(query.Get("format"))
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	filter, err := parseFilter(query)
	if err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	filter.Page, filter.PageSize = 0, 0

	records, _, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, "Failed to list records: "+err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	if err := export.Write(w, format, records); err != nil {
		slog.Error("Failed to write export", "format", format, "err", err)
	}
}

// parseFilter reads list filters and pagination from query parameters
func parseFilter(query url.Values) (storage.Filter, error) {
	filter := storage.Filter{
		Description:     query.Get("description"),
		DetectedObjects: query.Get("detected_objects"),
		Search:          query.Get("search"),
		Page:            1,
		PageSize:        defaultPageSize,
	}

	var err error
	if filter.UploadedAfter, err = storage.ParseTime(query.Get("uploaded_after"), false); err != nil {
		return filter, fmt.Errorf("invalid uploaded_after: %w", err)
	}
	if filter.UploadedBefore, err = storage.ParseTime(query.Get("uploaded_before"), true); err != nil {
		return filter, fmt.Errorf("invalid uploaded_before: %w", err)
	}

	if v := query.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return filter, fmt.Errorf("invalid page: %s", v)
		}
		filter.Page = page
	}
	if v := query.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 {
			return filter, fmt.Errorf("invalid page_size: %s", v)
		}
		filter.PageSize = min(size, maxPageSize)
	}
	return filter, nil
}
