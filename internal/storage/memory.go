package storage

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// MemoryStore keeps records in process memory
type MemoryStore struct {
	records map[string]*models.ImageRecord
	mu      sync.RWMutex
}

func New() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*models.ImageRecord),
	}
}

func (s *MemoryStore) Create(ctx context.Context, record *models.ImageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = clone(record)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.ImageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, exists := s.records[id]
	if !exists {
		return nil, ErrNotFound
	}
	return clone(record), nil
}

func (s *MemoryStore) SetAnnotation(ctx context.Context, id string, result models.AnnotationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, exists := s.records[id]
	if !exists {
		return ErrNotFound
	}
	if record.Annotated {
		return ErrAlreadyAnnotated
	}
	record.Annotation = result
	// Stored the way Postgres stores it: one joined string
	record.Annotation.DetectedObjects = models.SingleObject(result.DetectedObjects.String())
	record.Annotated = true
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]*models.ImageRecord, int, error) {
	s.mu.RLock()
	matches := make([]*models.ImageRecord, 0, len(s.records))
	for _, record := range s.records {
		if filter.Matches(record) {
			matches = append(matches, clone(record))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].UploadDate.Equal(matches[j].UploadDate) {
			return matches[i].UploadDate.After(matches[j].UploadDate)
		}
		return matches[i].ID < matches[j].ID
	})

	total := len(matches)
	offset, limit := filter.offset()
	if limit == 0 {
		return matches, total, nil
	}
	if offset >= total {
		return []*models.ImageRecord{}, total, nil
	}
	end := min(offset+limit, total)
	return matches[offset:end], total, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[id]; !exists {
		return ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() {}

// clone copies a record so callers never share the stored object list
func clone(record *models.ImageRecord) *models.ImageRecord {
	c := *record
	c.Annotation.DetectedObjects = slices.Clone(record.Annotation.DetectedObjects)
	return &c
}
