package providers

import (
	"context"
	"fmt"
	"strings"
)

// Config represents a single request to an LLM provider
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	// Images holds encoded image bytes attached to the prompt
	Images    [][]byte
	MaxTokens int
}

// Provider defines the interface for an LLM provider
type Provider interface {
	Generate(ctx context.Context, config Config) (string, error)
}

// Registry resolves providers by name
type Registry map[string]Provider

// Get returns the named provider
func (r Registry) Get(name string) (Provider, error) {
	p, ok := r[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	return p, nil
}

// TrimFences removes markdown code fences some models wrap around their answers
func TrimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
