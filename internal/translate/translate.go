package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Translator translates a text span into a target language
type Translator interface {
	Translate(ctx context.Context, text string, target language.Tag) (string, error)
}

// Passthrough returns text unchanged. It is used when translation is disabled.
type Passthrough struct{}

func (Passthrough) Translate(_ context.Context, text string, _ language.Tag) (string, error) {
	return text, nil
}

// LLM translates with a text-capable LLM provider
type LLM struct {
	provider providers.Provider
	model    string
	source   language.Tag
}

// NewLLM creates an LLM-backed translator
func NewLLM(provider providers.Provider, model string, source language.Tag) *LLM {
	return &LLM{provider: provider, model: model, source: source}
}

// Translate asks the model for a bare translation of text
func (l *LLM) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	response, err := l.provider.Generate(ctx, providers.Config{
		Model:       l.model,
		Temperature: 0,
		Prompt:      buildPrompt(text, l.source, target),
	})
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}

	translated := strings.TrimSpace(providers.TrimFences(response))
	if translated == "" {
		return "", inference.Malformedf("translate: model %s returned an empty translation", l.model)
	}
	return translated, nil
}

func buildPrompt(text string, source, target language.Tag) string {
	namer := display.English.Tags()
	return fmt.Sprintf(`Translate the following text from %s to %s.

INSTRUCTIONS:
1. Keep the meaning and the punctuation, including comma-separated lists
2. Do not add explanations, notes, quotation marks, or transliterations

OUTPUT FORMAT:
Provide ONLY the translated text.

TEXT:
%s`, namer.Name(source), namer.Name(target), text)
}
