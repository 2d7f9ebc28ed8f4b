package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/lehigh-university-libraries/annotator/internal/annotate"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

var datasetExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true}

func newDatasetCmd(a *app) *cobra.Command {
	var (
		embed       bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "dataset [dir]",
		Short: "Annotate every image in a directory and store the records",
		Long: `Walks a directory (default "dataset/") for PNG and JPEG files, annotates
each one, and creates a record pointing at the file in the configured store.
A file whose annotation fails still gets a record with placeholder fields.`,
		Example: `  # Annotate ./dataset with four files in flight
  annotator dataset --concurrency 4

  # Annotate and embed using a remote inference service
  annotator dataset photos/ --embed --remote http://inference:8001/upload/`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "dataset/"
			if len(args) == 1 {
				dir = args[0]
			}
			if concurrency < 1 {
				return fmt.Errorf("concurrency must be at least 1, got %d", concurrency)
			}

			files, err := datasetFiles(dir)
			if err != nil {
				return err
			}
			if len(files) == 0 {
				slog.Warn("No images found", "dir", dir)
				return nil
			}

			ctx := cmd.Context()
			backends, err := annotate.NewBackends(ctx, a.config)
			if err != nil {
				return err
			}
			defer func() {
				if err := backends.Close(); err != nil {
					slog.Error("Failed to release inference backends", "err", err)
				}
			}()

			store, err := storage.Open(ctx, a.config.Storage.Driver, a.config.Storage.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			var embedder *metadata.Embedder
			if embed {
				embedder = metadata.NewEmbedder()
			}

			slog.Info("Processing dataset", "dir", dir, "files", len(files), "concurrency", concurrency)
			statuses, err := processDataset(ctx, files, backends.Annotator, store, embedder, concurrency)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			counts := map[string]int{}
			for i, path := range files {
				counts[statuses[i]]++
				fmt.Fprintf(out, "%-12s %s\n", statuses[i], path)
			}
			fmt.Fprintf(out, "\n%d files: %d annotated, %d unavailable, %d failed\n",
				len(files), counts["annotated"], counts["unavailable"], counts["failed"])
			return nil
		},
	}

	cmd.Flags().BoolVar(&embed, "embed", false, "Embed the annotation into each file")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "Number of files processed in parallel")
	cmd.Flags().String("remote", "", "Delegate inference to another instance's /upload/ endpoint")

	return cmd
}

// datasetFiles lists PNG and JPEG files under dir in lexical order
func datasetFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && datasetExtensions[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk dataset directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// processDataset annotates files with bounded parallelism and returns a
// status per file. Only store failures and cancellation stop the run.
func processDataset(ctx context.Context, files []string, annotator annotate.Annotator, store storage.Store, embedder *metadata.Embedder, concurrency int) ([]string, error) {
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("Annotating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	var barMu sync.Mutex

	statuses := make([]string, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, path := range files {
		g.Go(func() error {
			status, err := processFile(ctx, path, annotator, store, embedder)
			if err != nil {
				return err
			}
			statuses[i] = status

			barMu.Lock()
			defer barMu.Unlock()
			bar.Describe(filepath.Base(path))
			return bar.Add(1)
		})
	}

	err := g.Wait()
	if finishErr := bar.Finish(); finishErr != nil {
		slog.Warn("Failed to finish progress bar", "err", finishErr)
	}
	return statuses, err
}

func processFile(ctx context.Context, path string, annotator annotate.Annotator, store storage.Store, embedder *metadata.Embedder) (string, error) {
	record, err := newFileRecord(path)
	if err != nil {
		slog.Error("Skipping file", "path", path, "err", err)
		return "failed", nil
	}
	if err := store.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to create record for %s: %w", path, err)
	}

	res := annotateFile(ctx, annotator, embedder, path)
	if res.err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(res.err, inference.ErrServiceUnavailable) {
			return "unavailable", nil
		}
		return "failed", nil
	}

	if err := store.SetAnnotation(ctx, record.ID, res.result); err != nil {
		return "", fmt.Errorf("failed to save annotation for %s: %w", path, err)
	}
	return "annotated", nil
}

// newFileRecord builds an unannotated record for a file already on disk
func newFileRecord(path string) (*models.ImageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", inference.ErrInvalidImage, err)
	}
	return &models.ImageRecord{
		ID:         uuid.NewString(),
		ImagePath:  path,
		ImageURL:   filepath.ToSlash(path),
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		UploadDate: time.Now().UTC(),
	}, nil
}
