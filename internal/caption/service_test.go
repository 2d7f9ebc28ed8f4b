package caption

import (
	"context"
	"errors"
	"testing"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
)

type stubProvider struct {
	response string
	err      error
	got      providers.Config
}

func (p *stubProvider) Generate(ctx context.Context, config providers.Config) (string, error) {
	p.got = config
	return p.response, p.err
}

func TestCaption(t *testing.T) {
	tests := []struct {
		name     string
		response string
		expected string
	}{
		{name: "plain", response: "a dog running in a park", expected: "a dog running in a park"},
		{name: "quoted", response: "\"a dog running in a park\"\n", expected: "a dog running in a park"},
		{name: "extra lines", response: "a red car\nThe car is parked.", expected: "a red car"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &stubProvider{response: tt.response}
			s := NewService(p, "llava", "")

			result, err := s.Caption(context.Background(), inference.Image{Data: []byte("img")})
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
			if len(p.got.Images) != 1 {
				t.Errorf("Expected image to be attached, got %d images", len(p.got.Images))
			}
			if p.got.Prompt != DefaultPrompt {
				t.Errorf("Expected default prompt to be used")
			}
		})
	}
}

func TestCaptionErrors(t *testing.T) {
	s := NewService(&stubProvider{response: "  \n"}, "llava", "")
	if _, err := s.Caption(context.Background(), inference.Image{}); !errors.Is(err, inference.ErrMalformed) {
		t.Errorf("Expected ErrMalformed for blank caption, got %v", err)
	}

	s = NewService(&stubProvider{err: inference.Unavailablef("connection refused")}, "llava", "")
	if _, err := s.Caption(context.Background(), inference.Image{}); !errors.Is(err, inference.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}
