package translate

import (
	"context"
	"fmt"
	"strings"

	gtranslate "cloud.google.com/go/translate"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// cloudClient is the subset of the Cloud Translation client used here
type cloudClient interface {
	Translate(ctx context.Context, inputs []string, target language.Tag, opts *gtranslate.Options) ([]gtranslate.Translation, error)
	Close() error
}

// Google translates with the Cloud Translation API
type Google struct {
	client cloudClient
	source language.Tag
}

// NewGoogle creates a Cloud Translation client. An empty credentialsFile
// uses application default credentials.
func NewGoogle(ctx context.Context, credentialsFile string, source language.Tag) (*Google, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := gtranslate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create translation client: %w", err)
	}
	return &Google{client: client, source: source}, nil
}

// Close releases the client
func (g *Google) Close() error {
	return g.client.Close()
}

func (g *Google) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	opts := &gtranslate.Options{Format: gtranslate.Text}
	if g.source != language.Und {
		opts.Source = g.source
	}

	translations, err := g.client.Translate(ctx, []string{text}, target, opts)
	if err != nil {
		return "", fmt.Errorf("%w: cloud translation: %w", inference.ErrUnavailable, err)
	}
	if len(translations) == 0 || strings.TrimSpace(translations[0].Text) == "" {
		return "", inference.Malformedf("cloud translation returned no result")
	}
	return translations[0].Text, nil
}
