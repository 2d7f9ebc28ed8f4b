package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

func sampleRecords() []*models.ImageRecord {
	return []*models.ImageRecord{
		{
			ID:         "1f0c",
			ImagePath:  "uploads/abc.jpg",
			UploadDate: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			Annotated:  true,
			Annotation: models.AnnotationResult{
				Description:     "собака, на пляже",
				DetectedObjects: models.ObjectList{"собака", "человек"},
				Text:            "line one\nline two",
			},
		},
		{
			ID:         "2a9d",
			ImagePath:  "uploads/def.png",
			UploadDate: time.Date(2024, 5, 2, 8, 30, 0, 0, time.UTC),
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		wantErr  bool
	}{
		{"", CSV, false},
		{"CSV", CSV, false},
		{"yml", YAML, false},
		{"parquet", Parquet, false},
		{"xlsx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, CSV, sampleRecords()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("Failed to read CSV back: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d", len(rows))
	}
	expectedHeader := []string{"ID", "Upload Date", "Description", "Detected Objects", "Text"}
	for i, h := range expectedHeader {
		if rows[0][i] != h {
			t.Errorf("Expected header %q at %d, got %q", h, i, rows[0][i])
		}
	}
	if rows[1][2] != "собака, на пляже" || rows[1][3] != "собака, человек" || rows[1][4] != "line one\nline two" {
		t.Errorf("Unexpected first row: %v", rows[1])
	}
	if rows[1][1] != "2024-05-01T12:00:00Z" {
		t.Errorf("Expected RFC3339 date, got %q", rows[1][1])
	}
}

func TestWriteYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, YAML, sampleRecords()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var rows []Row
	if err := yaml.Unmarshal(buf.Bytes(), &rows); err != nil {
		t.Fatalf("Failed to parse YAML: %v", err)
	}
	if len(rows) != 2 || rows[0].DetectedObjects != "собака, человек" || rows[1].Annotated {
		t.Errorf("Unexpected rows: %+v", rows)
	}
}

func TestWriteParquet(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, Parquet, sampleRecords()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	reader := parquet.NewGenericReader[Row](bytes.NewReader(buf.Bytes()))
	defer reader.Close()

	rows := make([]Row, 4)
	n, _ := reader.Read(rows)
	if n != 2 {
		t.Fatalf("Expected 2 rows, got %d", n)
	}
	if rows[0].ID != "1f0c" || rows[0].Text != "line one\nline two" || !rows[0].Annotated {
		t.Errorf("Unexpected first row: %+v", rows[0])
	}
}
