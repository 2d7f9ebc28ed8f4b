package annotate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/models"
)

// Placeholders used when the remote service omits a field
const (
	NoDescriptionReceived = "No description received"
	NoTranslatedText      = "No translated text"
)

// RemoteClient delegates annotation to another instance's /upload/ endpoint
type RemoteClient struct {
	client *resty.Client
	url    string
}

// NewRemoteClient creates a client making a single attempt per image
func NewRemoteClient(url string, timeout time.Duration) *RemoteClient {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	return &RemoteClient{client: client, url: url}
}

type remoteResponse struct {
	Description     *string            `json:"description"`
	DetectedObjects *models.ObjectList `json:"detected_objects"`
	Text            *string            `json:"text"`
}

func (c *RemoteClient) Annotate(ctx context.Context, data []byte) (models.AnnotationResult, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetFileReader("image", "image", bytes.NewReader(data)).
		Post(c.url)
	if err != nil {
		slog.Error("Remote inference request failed", "url", c.url, "err", err)
		return models.AnnotationResult{}, fmt.Errorf("%w: %v", inference.ErrServiceUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		slog.Error("Remote inference returned an error", "url", c.url, "status", resp.StatusCode())
		return models.AnnotationResult{}, fmt.Errorf("%w: received non-200 status code: %d - %s",
			inference.ErrServiceUnavailable, resp.StatusCode(), resp.String())
	}

	var parsed remoteResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return models.AnnotationResult{}, inference.Malformedf("remote inference returned invalid JSON: %v", err)
	}

	result := models.AnnotationResult{
		Description:     NoDescriptionReceived,
		DetectedObjects: models.SingleObject(NoObjects),
		Text:            NoTranslatedText,
	}
	if parsed.Description != nil {
		result.Description = *parsed.Description
	}
	if parsed.DetectedObjects != nil {
		result.DetectedObjects = *parsed.DetectedObjects
	}
	if parsed.Text != nil {
		result.Text = *parsed.Text
	}
	return result, nil
}
