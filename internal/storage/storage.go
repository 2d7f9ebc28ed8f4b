package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrAlreadyAnnotated = errors.New("record already annotated")
)

// Store persists image records. A record's annotation is set exactly once.
type Store interface {
	Create(ctx context.Context, record *models.ImageRecord) error
	Get(ctx context.Context, id string) (*models.ImageRecord, error)
	SetAnnotation(ctx context.Context, id string, result models.AnnotationResult) error
	// List returns one page of matching records, newest first, and the total match count
	List(ctx context.Context, filter Filter) ([]*models.ImageRecord, int, error)
	Delete(ctx context.Context, id string) error
	Close()
}

// Filter narrows a record listing. Zero values match everything; a
// PageSize of zero returns every match.
type Filter struct {
	// Description and DetectedObjects match exactly
	Description     string
	DetectedObjects string
	// Search is a case-insensitive substring over description, objects and text
	Search         string
	UploadedAfter  time.Time
	UploadedBefore time.Time
	Page           int
	PageSize       int
}

// Matches reports whether record passes the filter
func (f Filter) Matches(record *models.ImageRecord) bool {
	a := record.Annotation
	if f.Description != "" && a.Description != f.Description {
		return false
	}
	if f.DetectedObjects != "" && a.DetectedObjects.String() != f.DetectedObjects {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(a.Description), needle) &&
			!strings.Contains(strings.ToLower(a.DetectedObjects.String()), needle) &&
			!strings.Contains(strings.ToLower(a.Text), needle) {
			return false
		}
	}
	if !f.UploadedAfter.IsZero() && record.UploadDate.Before(f.UploadedAfter) {
		return false
	}
	if !f.UploadedBefore.IsZero() && record.UploadDate.After(f.UploadedBefore) {
		return false
	}
	return true
}

// ParseTime accepts RFC3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func ParseTime(v string, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// offset returns the number of records to skip and the page limit
func (f Filter) offset() (int, int) {
	if f.PageSize <= 0 {
		return 0, 0
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.PageSize, f.PageSize
}

// Open returns the store for driver ("memory" or "postgres")
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "memory":
		return New(), nil
	case "postgres":
		return NewPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
