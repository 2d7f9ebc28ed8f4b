package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
)

// LLMDetector asks a vision LLM for the objects it sees.
// Boxes are not available from this backend.
type LLMDetector struct {
	provider providers.Provider
	model    string
}

// NewLLMDetector creates a vision-LLM detector
func NewLLMDetector(provider providers.Provider, model string) *LLMDetector {
	return &LLMDetector{provider: provider, model: model}
}

func (l *LLMDetector) Detect(ctx context.Context, img inference.Image) ([]Detection, error) {
	response, err := l.provider.Generate(ctx, providers.Config{
		Model:       l.model,
		Temperature: 0,
		Prompt:      detectionPrompt,
		Images:      [][]byte{img.Data},
		MaxTokens:   300,
	})
	if err != nil {
		return nil, fmt.Errorf("detection: %w", err)
	}

	labels, err := parseLabels(response)
	if err != nil {
		return nil, err
	}

	detections := make([]Detection, 0, len(labels))
	for _, label := range labels {
		detections = append(detections, Detection{Label: label, Confidence: 1})
	}
	return detections, nil
}

const detectionPrompt = `List the distinct physical objects visible in this image using short COCO-style class names (for example: person, dog, car, chair, cup).

OUTPUT FORMAT:
Respond with ONLY a JSON array of lowercase English strings, for example ["person", "dog"].
Respond with [] when no objects are visible.`

// parseLabels accepts a JSON array, optionally fenced or surrounded by prose
func parseLabels(response string) ([]string, error) {
	s := providers.TrimFences(response)
	start := strings.IndexByte(s, '[')
	end := strings.LastIndexByte(s, ']')
	if start < 0 || end < start {
		return nil, inference.Malformedf("detection response is not a JSON array: %q", response)
	}

	var labels []string
	if err := json.Unmarshal([]byte(s[start:end+1]), &labels); err != nil {
		return nil, inference.Malformedf("detection response is not a JSON array of strings: %v", err)
	}
	return labels, nil
}
