package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
)

// TextExtractor returns the text visible in an image. An image without
// text yields an empty string and no error.
type TextExtractor interface {
	ExtractText(ctx context.Context, img inference.Image) (string, error)
}

// ErrNoTesseract is returned when the binary was built without libtesseract
var ErrNoTesseract = errors.New("ocr: tesseract backend not linked; build with -tags=tesseract or set ocr.backend=llm")

// noTextMarker is what the vision prompt asks the model to answer for text-free images
const noTextMarker = "NO_TEXT"

// Service handles OCR extraction with LLM vision capabilities
type Service struct {
	provider providers.Provider
	model    string
}

// NewService creates a new OCR service
func NewService(provider providers.Provider, model string) *Service {
	return &Service{provider: provider, model: model}
}

// ExtractText transcribes all visible text in the image
func (s *Service) ExtractText(ctx context.Context, img inference.Image) (string, error) {
	response, err := s.provider.Generate(ctx, providers.Config{
		Model:       s.model,
		Temperature: 0.0, // Zero temperature for exact OCR
		Prompt:      s.buildOCRPrompt(),
		Images:      [][]byte{img.Data},
		MaxTokens:   2000,
	})
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}

	text := strings.TrimSpace(providers.TrimFences(response))
	if strings.EqualFold(text, noTextMarker) {
		text = ""
	}

	slog.Info("Extracted OCR text", "backend", "llm", "model", s.model, "length", len(text))
	return text, nil
}

func (s *Service) buildOCRPrompt() string {
	return `You are performing OCR (Optical Character Recognition) on an image.

Your task is to extract ALL visible text from the image exactly as it appears, preserving:
- Line breaks
- Capitalization
- Punctuation
- The original language and alphabet (Cyrillic or Latin)

INSTRUCTIONS:
1. Read the image carefully from top to bottom
2. Transcribe every piece of visible text, including handwriting and signs
3. Do not add any interpretation, commentary, or explanations
4. If the image contains no text at all, answer exactly ` + noTextMarker + `

OUTPUT FORMAT:
Provide ONLY the extracted text. Do not include phrases like "Here is the text:" or "The image contains:".`
}
