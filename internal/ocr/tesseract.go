//go:build tesseract

package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"log/slog"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/otiai10/gosseract/v2"
)

// Tesseract extracts text with a local libtesseract installation
type Tesseract struct {
	languages []string
	psm       gosseract.PageSegMode
}

// NewTesseract creates a tesseract-backed extractor for the given
// language packs (e.g. "rus", "eng") and page segmentation mode.
func NewTesseract(languages []string, pageSegMode int) (TextExtractor, error) {
	if len(languages) == 0 {
		languages = []string{"rus", "eng"}
	}
	if pageSegMode <= 0 {
		pageSegMode = int(gosseract.PSM_SINGLE_BLOCK)
	}
	return &Tesseract{
		languages: languages,
		psm:       gosseract.PageSegMode(pageSegMode),
	}, nil
}

// ExtractText runs tesseract over a grayscale rendition of the image
func (t *Tesseract) ExtractText(ctx context.Context, img inference.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, imaging.Grayscale(img.Pixels)); err != nil {
		return "", fmt.Errorf("failed to prepare image for OCR: %w", err)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)

	// A gosseract client is not safe for concurrent use, so each call owns one
	go func() {
		text, err := t.recognize(buf.Bytes())
		done <- result{text: text, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("ocr: %w", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", inference.Malformedf("tesseract: %v", r.err)
		}
		text := strings.TrimSpace(r.text)
		slog.Info("Extracted OCR text", "backend", "tesseract", "languages", strings.Join(t.languages, "+"), "length", len(text))
		return text, nil
	}
}

func (t *Tesseract) recognize(data []byte) (string, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("failed to set languages: %w", err)
	}
	if err := client.SetPageSegMode(t.psm); err != nil {
		return "", fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetImageFromBytes(data); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}
	return client.Text()
}
