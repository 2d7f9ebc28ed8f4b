package detect

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
)

// YOLOService calls a YOLO detection sidecar over HTTP.
// The sidecar accepts {"image": base64} and answers
// {"detections": [{"class", "confidence", "box": [x1, y1, x2, y2]}]}.
type YOLOService struct {
	client     *resty.Client
	url        string
	confidence float64
}

type yoloRequest struct {
	Image string `json:"image"`
}

type yoloResponse struct {
	Detections []struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
		Box        [4]int  `json:"box"`
	} `json:"detections"`
}

// NewYOLOService creates a sidecar client. Detections below confidence are dropped.
func NewYOLOService(url string, confidence float64, timeout time.Duration) *YOLOService {
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0)
	return &YOLOService{client: client, url: url, confidence: confidence}
}

func (y *YOLOService) Detect(ctx context.Context, img inference.Image) ([]Detection, error) {
	resp, err := y.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(yoloRequest{Image: base64.StdEncoding.EncodeToString(img.Data)}).
		Post(y.url)
	if err != nil {
		return nil, fmt.Errorf("%w: detection sidecar: %w", inference.ErrUnavailable, err)
	}
	if err := inference.StatusError(resp.StatusCode(), resp.String()); err != nil {
		return nil, fmt.Errorf("detection sidecar: %w", err)
	}

	var parsed yoloResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, inference.Malformedf("detection sidecar returned invalid JSON: %v", err)
	}

	detections := make([]Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		if d.Confidence < y.confidence {
			continue
		}
		detections = append(detections, Detection{
			Label:      d.Class,
			Confidence: d.Confidence,
			Box:        image.Rect(d.Box[0], d.Box[1], d.Box[2], d.Box[3]),
		})
	}
	return detections, nil
}
