package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
	"github.com/ollama/ollama/api"
)

// Ollama is a provider for a local or remote Ollama server
type Ollama struct {
	client *api.Client
}

// New returns a new Ollama provider talking to baseURL
func New(baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}

	// Only scheme and host are meaningful to the API client
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Ollama{client: api.NewClient(base, http.DefaultClient)}, nil
}

// Generate sends the prompt and any attached images to the chat endpoint
func (o *Ollama) Generate(ctx context.Context, config providers.Config) (string, error) {
	images := make([]api.ImageData, 0, len(config.Images))
	for _, img := range config.Images {
		images = append(images, api.ImageData(img))
	}

	options := map[string]any{
		"temperature": config.Temperature,
	}
	if config.MaxTokens > 0 {
		options["num_predict"] = config.MaxTokens
	}

	stream := false
	req := &api.ChatRequest{
		Model: config.Model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: config.Prompt,
				Images:  images,
			},
		},
		Stream:  &stream,
		Options: options,
	}

	var content strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		var statusErr api.StatusError
		if errors.As(err, &statusErr) {
			return "", inference.StatusError(statusErr.StatusCode, statusErr.ErrorMessage)
		}
		return "", fmt.Errorf("%w: ollama chat: %w", inference.ErrUnavailable, err)
	}

	if strings.TrimSpace(content.String()) == "" {
		return "", inference.Malformedf("empty response from ollama model %s", config.Model)
	}
	return content.String(), nil
}
