package handlers

import (
	"log/slog"
	"net/http"

	"github.com/lehigh-university-libraries/annotator/internal/metrics"
)

// Routes registers every endpoint on a new mux
func (h *Handler) Routes(metricsEnabled bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload/", metrics.Middleware("/upload/", h.HandleInference))
	mux.HandleFunc("/api/images", metrics.Middleware("/api/images/", h.HandleImages))
	mux.HandleFunc("/api/images/", metrics.Middleware("/api/images/", h.HandleImages))
	mux.HandleFunc("/static/uploads/", metrics.Middleware("/static/uploads/", h.HandleStatic))
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
	if metricsEnabled {
		mux.Handle("/metrics", metrics.Handler())
	}
	return mux
}
