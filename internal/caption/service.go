package caption

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
)

// Captioner produces a short natural-language description of an image
type Captioner interface {
	Caption(ctx context.Context, img inference.Image) (string, error)
}

// DefaultPrompt asks for a single short English sentence
const DefaultPrompt = `Describe this image in one short English sentence, the way an image captioning model would.

INSTRUCTIONS:
1. Mention the main subjects and what they are doing
2. Do not mention text that appears in the image
3. Do not add commentary, markdown, or quotation marks

OUTPUT FORMAT:
Provide ONLY the caption, for example: a man riding a horse on a beach`

// Service captions images with a vision-capable LLM
type Service struct {
	provider providers.Provider
	model    string
	prompt   string
}

// NewService creates a captioning service; an empty prompt uses DefaultPrompt
func NewService(provider providers.Provider, model, prompt string) *Service {
	if prompt == "" {
		prompt = DefaultPrompt
	}
	return &Service{
		provider: provider,
		model:    model,
		prompt:   prompt,
	}
}

// Caption returns the model's caption with surrounding quotes and whitespace removed
func (s *Service) Caption(ctx context.Context, img inference.Image) (string, error) {
	response, err := s.provider.Generate(ctx, providers.Config{
		Model:       s.model,
		Temperature: 0.2,
		Prompt:      s.prompt,
		Images:      [][]byte{img.Data},
		MaxTokens:   100,
	})
	if err != nil {
		return "", fmt.Errorf("caption: %w", err)
	}

	caption := cleanCaption(response)
	if caption == "" {
		return "", inference.Malformedf("caption: model %s returned an empty caption", s.model)
	}

	slog.Debug("Generated caption", "model", s.model, "length", len(caption))
	return caption, nil
}

func cleanCaption(s string) string {
	s = providers.TrimFences(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'`")
	return strings.TrimSpace(s)
}
