package metadata

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	// Registered for format sniffing
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/annotator/internal/metrics"
	"github.com/lehigh-university-libraries/annotator/internal/models"
)

var (
	// ErrEmbedWrite wraps every failure to rewrite an image file
	ErrEmbedWrite = errors.New("failed to embed metadata")

	// ErrUnsupportedFormat is returned by writers for formats without a description slot
	ErrUnsupportedFormat = errors.New("format has no supported description field")

	// ErrNoDescription is returned when an image carries no embedded description
	ErrNoDescription = errors.New("no embedded description")
)

const noText = "No text detected"

// CombinedBlock renders the triple the way it is stored inside the image
func CombinedBlock(result models.AnnotationResult) string {
	text := result.Text
	if strings.TrimSpace(text) == "" {
		text = noText
	}
	return fmt.Sprintf("description: %s\nobjects: %s\ntext: %s",
		result.Description, result.DetectedObjects.String(), text)
}

// MetadataWriter stores a description block inside one image format
type MetadataWriter interface {
	Embed(data []byte, block string) ([]byte, error)
}

func defaultWriters() map[string]MetadataWriter {
	return map[string]MetadataWriter{
		"jpeg": jpegWriter{},
		"png":  pngWriter{},
		"tiff": tiffWriter{},
	}
}

// Embedder rewrites image files in place. Writes to a path are exclusive
// and readers going through the Embedder never observe a partial file.
type Embedder struct {
	mu      sync.Mutex
	locks   map[string]*sync.RWMutex
	writers map[string]MetadataWriter
}

func NewEmbedder() *Embedder {
	return &Embedder{
		locks:   make(map[string]*sync.RWMutex),
		writers: defaultWriters(),
	}
}

func (e *Embedder) lockFor(path string) *sync.RWMutex {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[key]
	if !ok {
		l = &sync.RWMutex{}
		e.locks[key] = l
	}
	return l
}

// Embed writes the combined block of result into the file at path.
// Formats without a description slot are left untouched.
func (e *Embedder) Embed(path string, result models.AnnotationResult) error {
	l := e.lockFor(path)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEmbedWrite, err)
	}

	format := sniff(data)
	writer, ok := e.writers[format]
	if !ok {
		writer = genericWriter{format: format}
	}

	out, err := writer.Embed(data, CombinedBlock(result))
	if errors.Is(err, ErrUnsupportedFormat) {
		slog.Warn("Metadata embedding not supported for format, leaving file unchanged", "path", path, "format", format)
		metrics.ObserveEmbed(format, "skipped")
		return nil
	}
	if err != nil {
		metrics.ObserveEmbed(format, "error")
		return fmt.Errorf("%w: %s: %w", ErrEmbedWrite, format, err)
	}

	if err := writeAtomic(path, out); err != nil {
		metrics.ObserveEmbed(format, "error")
		return fmt.Errorf("%w: %w", ErrEmbedWrite, err)
	}

	metrics.ObserveEmbed(format, "success")
	slog.Info("Embedded metadata", "path", path, "format", format, "bytes", len(out))
	return nil
}

// ReadFile reads path under the path's read lock
func (e *Embedder) ReadFile(path string) ([]byte, error) {
	l := e.lockFor(path)
	l.RLock()
	defer l.RUnlock()
	return os.ReadFile(path)
}

// WriteFile atomically creates or replaces path under the path's write lock
func (e *Embedder) WriteFile(path string, data []byte) error {
	l := e.lockFor(path)
	l.Lock()
	defer l.Unlock()
	return writeAtomic(path, data)
}

// ReadDescription is ReadDescription under the path's read lock
func (e *Embedder) ReadDescription(path string) (string, error) {
	l := e.lockFor(path)
	l.RLock()
	defer l.RUnlock()
	return ReadDescription(path)
}

// ReadDescription returns the description block embedded in the file at path
func ReadDescription(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Description(data)
}

// Description returns the description block embedded in an encoded image
func Description(data []byte) (string, error) {
	switch format := sniff(data); format {
	case "jpeg":
		return jpegDescription(data)
	case "png":
		return pngDescription(data)
	case "tiff":
		return tiffDescription(data)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// sniff reports the container format from content, never the extension
func sniff(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "unknown"
	}
	return format
}

// writeAtomic replaces path with data through a synced temp file in the same
// directory. An existing file keeps its permissions; a new one gets 0644.
func writeAtomic(path string, data []byte) (err error) {
	perm := os.FileMode(0644)
	info, err := os.Stat(path)
	switch {
	case err == nil:
		perm = info.Mode().Perm()
	case !errors.Is(err, fs.ErrNotExist):
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			tmp.Close()
		}
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set file mode: %w", err)
	}
	closed = true
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// genericWriter covers formats with no durable description slot
type genericWriter struct {
	format string
}

func (g genericWriter) Embed(data []byte, block string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, g.format)
}
