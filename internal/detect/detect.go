package detect

import (
	"context"
	"image"
	"sort"
	"strings"

	"github.com/lehigh-university-libraries/annotator/internal/inference"
)

// Detection is one labelled bounding box
type Detection struct {
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Detector finds objects in an image
type Detector interface {
	Detect(ctx context.Context, img inference.Image) ([]Detection, error)
}

// Labels returns the detection label set: labels are lowercased,
// deduplicated and sorted so the result is deterministic.
func Labels(detections []Detection) []string {
	seen := make(map[string]struct{}, len(detections))
	labels := make([]string, 0, len(detections))
	for _, d := range detections {
		label := strings.ToLower(strings.TrimSpace(d.Label))
		if label == "" {
			continue
		}
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
