package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lehigh-university-libraries/annotator/internal/export"
	"github.com/lehigh-university-libraries/annotator/internal/storage"
)

// filterFlags are the record filters shared by list and export
type filterFlags struct {
	description     string
	detectedObjects string
	search          string
	after           string
	before          string
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.description, "description", "", "Exact description match")
	cmd.Flags().StringVar(&f.detectedObjects, "detected-objects", "", "Exact detected objects match")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "Case-insensitive search over description, objects and text")
	cmd.Flags().StringVar(&f.after, "after", "", "Only records uploaded on or after this date (YYYY-MM-DD or RFC3339)")
	cmd.Flags().StringVar(&f.before, "before", "", "Only records uploaded on or before this date (YYYY-MM-DD or RFC3339)")
}

func (f *filterFlags) filter() (storage.Filter, error) {
	filter := storage.Filter{
		Description:     f.description,
		DetectedObjects: f.detectedObjects,
		Search:          f.search,
	}
	var err error
	if filter.UploadedAfter, err = storage.ParseTime(f.after, false); err != nil {
		return filter, fmt.Errorf("invalid --after: %w", err)
	}
	if filter.UploadedBefore, err = storage.ParseTime(f.before, true); err != nil {
		return filter, fmt.Errorf("invalid --before: %w", err)
	}
	return filter, nil
}

func newRecordsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List and export stored image records",
	}
	cmd.AddCommand(newRecordsListCmd(a))
	cmd.AddCommand(newRecordsExportCmd(a))
	return cmd
}

func newRecordsListCmd(a *app) *cobra.Command {
	var (
		filters  filterFlags
		page     int
		pageSize int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records, newest first",
		Example: `  annotator records list --search собака
  annotator records list --after 2024-03-01 --page-size 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := filters.filter()
			if err != nil {
				return err
			}
			filter.Page, filter.PageSize = page, pageSize

			store, err := storage.Open(cmd.Context(), a.config.Storage.Driver, a.config.Storage.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			records, total, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUPLOADED\tMETADATA\tIMAGE")
			for _, r := range records {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.UploadDate.Format(time.DateTime), r.ShortMetadata(), r.ImagePath)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nShowing %d of %d records\n", len(records), total)
			return nil
		},
	}

	filters.register(cmd)
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 20, "Records per page (0 for all)")

	return cmd
}

func newRecordsExportCmd(a *app) *cobra.Command {
	var (
		filters filterFlags
		format  string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records to CSV, YAML or Parquet",
		Example: `  annotator records export --format parquet --output images.parquet
  annotator records export --search park > park.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			filter, err := filters.filter()
			if err != nil {
				return err
			}

			store, err := storage.Open(cmd.Context(), a.config.Storage.Driver, a.config.Storage.DSN)
			if err != nil {
				return err
			}
			defer store.Close()

			records, _, err := store.List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return export.Write(cmd.OutOrStdout(), f, records)
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := export.Write(file, f, records); err != nil {
				file.Close()
				return err
			}
			if err := file.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d records to %s\n", len(records), output)
			return nil
		},
	}

	filters.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", "csv", "Export format (csv, yaml, parquet)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}
