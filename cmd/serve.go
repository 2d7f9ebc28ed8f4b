package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/annotator/internal/annotate"
	"github.com/lehigh-university-libraries/annotator/internal/archive"
	"github.com/lehigh-university-libraries/annotator/internal/handlers"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the annotation web service",
		Long: `Starts the Annotator HTTP service on the configured port.

POST /upload/ annotates an image without storing it. POST /api/images/
stores the upload, annotates it, and embeds the result into the file.
Stored records are listed, filtered and exported under /api/images/.`,
		Example: `  # Start server on default port 8888
  annotator serve

  # Start server on custom port, delegating inference to another instance
  annotator serve --port 3000 --remote http://inference:8001/upload/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.config
			ctx := cmd.Context()

			backends, err := annotate.NewBackends(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := backends.Close(); err != nil {
					slog.Error("Failed to release inference backends", "err", err)
				}
			}()

			store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var archiver archive.Archiver
			if cfg.Archive.Enabled {
				s3, err := archive.NewS3(ctx, cfg.Archive)
				if err != nil {
					return err
				}
				archiver = s3
			}

			handler := handlers.New(handlers.Options{
				Store:       store,
				Annotator:   backends.Annotator,
				Embedder:    metadata.NewEmbedder(),
				Archiver:    archiver,
				UploadDir:   cfg.Server.UploadDir,
				MaxUploadMB: cfg.Server.MaxUploadMB,
			})

			addr := ":" + cfg.Server.Port
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(cfg.Metrics.Enabled),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      cfg.Server.RequestTimeout,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Annotator service available", "addr", addr, "url", "http://localhost"+addr, "storage", cfg.Storage.Driver)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-ctx.Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringP("port", "p", "8888", "Port to listen on")
	cmd.Flags().String("remote", "", "Delegate inference to another instance's /upload/ endpoint")

	return cmd
}
