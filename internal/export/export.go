package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// Format is an export encoding
type Format string

const (
	CSV     Format = "csv"
	YAML    Format = "yaml"
	Parquet Format = "parquet"
)

// ParseFormat accepts csv, yaml/yml and parquet
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return CSV, nil
	case "yaml", "yml":
		return YAML, nil
	case "parquet":
		return Parquet, nil
	default:
		return "", fmt.Errorf("unsupported export format: %s (supported: csv, yaml, parquet)", s)
	}
}

func (f Format) ContentType() string {
	switch f {
	case YAML:
		return "application/yaml"
	case Parquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

// Filename is the attachment name offered for downloads
func (f Format) Filename() string {
	return "images." + string(f)
}

// Row is the flattened record written by every format
type Row struct {
	ID              string `parquet:"id" yaml:"id"`
	UploadDate      string `parquet:"upload_date" yaml:"upload_date"`
	Description     string `parquet:"description" yaml:"description"`
	DetectedObjects string `parquet:"detected_objects" yaml:"detected_objects"`
	Text            string `parquet:"text" yaml:"text"`
	ImagePath       string `parquet:"image_path" yaml:"image_path"`
	Annotated       bool   `parquet:"annotated" yaml:"annotated"`
}

// Rows flattens records, rendering the object list as a delimited string
func Rows(records []*models.ImageRecord) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, Row{
			ID:              r.ID,
			UploadDate:      r.UploadDate.UTC().Format(time.RFC3339),
			Description:     r.Annotation.Description,
			DetectedObjects: r.Annotation.DetectedObjects.String(),
			Text:            r.Annotation.Text,
			ImagePath:       r.ImagePath,
			Annotated:       r.Annotated,
		})
	}
	return rows
}

// Write encodes records to w
func Write(w io.Writer, format Format, records []*models.ImageRecord) error {
	rows := Rows(records)
	switch format {
	case CSV:
		return writeCSV(w, rows)
	case YAML:
		return writeYAML(w, rows)
	case Parquet:
		return writeParquet(w, rows)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

var csvHeader = []string{"ID", "Upload Date", "Description", "Detected Objects", "Text"}

func writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, r := range rows {
		if err := cw.Write([]string{r.ID, r.UploadDate, r.Description, r.DetectedObjects, r.Text}); err != nil {
			return fmt.Errorf("failed to write CSV row %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeYAML(w io.Writer, rows []Row) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	return enc.Close()
}

func writeParquet(w io.Writer, rows []Row) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}
