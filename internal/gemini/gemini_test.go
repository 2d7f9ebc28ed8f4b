package gemini

import (
	"bytes"
	"image"
	"image/png"
	"testing"
)

func TestImageFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}

	if got := imageFormat(buf.Bytes()); got != "png" {
		t.Errorf("Expected png, got %s", got)
	}
	if got := imageFormat([]byte("not an image")); got != "jpeg" {
		t.Errorf("Expected jpeg fallback, got %s", got)
	}
}
