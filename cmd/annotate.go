package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/annotator/internal/annotate"
	"github.com/lehigh-university-libraries/annotator/internal/metadata"
	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// fileResult is the printed outcome for one file
type fileResult struct {
	File            string `json:"file" yaml:"file"`
	Description     string `json:"description,omitempty" yaml:"description,omitempty"`
	DetectedObjects string `json:"detected_objects,omitempty" yaml:"detected_objects,omitempty"`
	Text            string `json:"text,omitempty" yaml:"text,omitempty"`
	Embedded        bool   `json:"embedded,omitempty" yaml:"embedded,omitempty"`
	Error           string `json:"error,omitempty" yaml:"error,omitempty"`
}

func newAnnotateCmd(a *app) *cobra.Command {
	var (
		embed  bool
		output string
	)

	cmd := &cobra.Command{
		Use:   "annotate <files...>",
		Short: "Annotate image files and print the results",
		Long: `Runs captioning, object detection and OCR on each file and prints the
description, detected objects and text. With --embed the result is also
written into the file's metadata.`,
		Example: `  # Print annotations as JSON
  annotator annotate photo.jpg scan.png

  # Embed annotations using a remote inference service
  annotator annotate --embed --remote http://inference:8001/upload/ *.jpg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "json" && output != "yaml" {
				return fmt.Errorf("unsupported output format: %s (supported: json, yaml)", output)
			}

			backends, err := annotate.NewBackends(cmd.Context(), a.config)
			if err != nil {
				return err
			}
			defer func() {
				if err := backends.Close(); err != nil {
					slog.Error("Failed to release inference backends", "err", err)
				}
			}()

			var embedder *metadata.Embedder
			if embed {
				embedder = metadata.NewEmbedder()
			}

			results := make([]fileResult, 0, len(args))
			failed := 0
			for _, path := range args {
				res := annotateFile(cmd.Context(), backends.Annotator, embedder, path)
				if res.Error != "" {
					failed++
				}
				results = append(results, res.fileResult)
			}

			if err := printResults(cmd.OutOrStdout(), output, results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&embed, "embed", false, "Embed the annotation into each file")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "Output format (json, yaml)")
	cmd.Flags().String("remote", "", "Delegate inference to another instance's /upload/ endpoint")

	return cmd
}

type annotated struct {
	fileResult
	result models.AnnotationResult
	err    error
}

// annotateFile annotates one file and embeds the result when embedder is set
func annotateFile(ctx context.Context, annotator annotate.Annotator, embedder *metadata.Embedder, path string) annotated {
	out := annotated{fileResult: fileResult{File: path}}

	data, err := os.ReadFile(path)
	if err != nil {
		out.err = fmt.Errorf("failed to read file: %w", err)
		out.Error = out.err.Error()
		return out
	}

	result, err := annotator.Annotate(ctx, data)
	if err != nil {
		slog.Error("Failed to annotate file", "path", path, "err", err)
		out.err = err
		out.Error = err.Error()
		return out
	}
	out.result = result
	out.Description = result.Description
	out.DetectedObjects = result.DetectedObjects.String()
	out.Text = result.Text

	if embedder != nil {
		if err := embedder.Embed(path, result); err != nil {
			slog.Error("Failed to embed metadata", "path", path, "err", err)
			out.Error = err.Error()
		} else {
			out.Embedded = true
		}
	}
	return out
}

func printResults(w io.Writer, format string, results []fileResult) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		return enc.Close()
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return nil
}
