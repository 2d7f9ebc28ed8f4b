package handlers

import (
	"bytes"
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

// HandleStatic serves stored uploads under /static/uploads/. Reads go
// through the embedder so a file is never served mid-rewrite.
func (h *Handler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != "GET" && r.Method != "HEAD" {
		h.writeError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := strings.TrimPrefix(r.URL.Path, "/static/uploads/")
	// Prevent directory traversal attacks
	if name == "" || strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		h.writeError(w, "Invalid file path", http.StatusBadRequest)
		return
	}

	data, err := h.embedder.ReadFile(filepath.Join(h.uploadDir, name))
	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		h.writeError(w, "Failed to read file: "+err.Error(), http.StatusInternalServerError)
		return
	}

	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}
