package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/utils"
)

var (
	errTooLarge = errors.New("file too large")
	errNoImage  = errors.New("no image provided")
)

var downloadClient = &http.Client{Timeout: 30 * time.Second}

// upload is an image received by one request
type upload struct {
	data     []byte
	filename string
}

// readUpload accepts a multipart "image" or "file" field, or a JSON body with image_url
func (h *Handler) readUpload(r *http.Request) (*upload, error) {
	if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		var request struct {
			ImageURL string `json:"image_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if request.ImageURL == "" {
			return nil, fmt.Errorf("%w: image_url is required", errNoImage)
		}
		return h.downloadImageFromURL(r, request.ImageURL)
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		file, header, err = r.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errNoImage, err)
		}
	}
	defer file.Close()

	data, err := h.readLimited(file)
	if err != nil {
		return nil, err
	}
	return &upload{data: data, filename: header.Filename}, nil
}

func (h *Handler) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, h.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file contents: %w", err)
	}
	if int64(len(data)) > h.maxUpload {
		return nil, fmt.Errorf("%w (max %dMB)", errTooLarge, h.maxUpload/1024/1024)
	}
	return data, nil
}

func (h *Handler) downloadImageFromURL(r *http.Request, imageURL string) (*upload, error) {
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid image_url: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d", resp.StatusCode)
	}

	data, err := h.readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	filename := path.Base(req.URL.Path)
	if filename == "." || filename == "/" {
		filename = ""
	}
	slog.Info("Downloaded image", "url", imageURL, "bytes", len(data))
	return &upload{data: data, filename: filename}, nil
}

// saveUpload validates the image and stores it as <md5><ext>, returning an
// unannotated record for it
func (h *Handler) saveUpload(u *upload) (*models.ImageRecord, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(u.data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", inference.ErrInvalidImage, err)
	}

	if err := h.ensureUploadsDir(); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(u.filename))
	if ext == "" {
		ext = "." + format
	}
	imageFilename := utils.CalculateDataMD5(u.data) + ext
	imageFilePath := filepath.Join(h.uploadDir, imageFilename)

	// Same-content uploads share a path, so the write goes through the
	// embedder's lock and never exposes a truncated file
	if err := h.embedder.WriteFile(imageFilePath, u.data); err != nil {
		return nil, fmt.Errorf("failed to save image: %w", err)
	}
	slog.Info("Image saved", "filename", imageFilename, "format", format)

	return &models.ImageRecord{
		ID:         uuid.NewString(),
		ImagePath:  imageFilePath,
		ImageURL:   "/static/uploads/" + imageFilename,
		Format:     format,
		Width:      cfg.Width,
		Height:     cfg.Height,
		UploadDate: time.Now().UTC(),
	}, nil
}

// uploadStatus maps an upload read failure to a status code
func uploadStatus(err error) int {
	if errors.Is(err, errTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}
