package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObjectSeparator joins detected object labels wherever they are rendered as text
const ObjectSeparator = ", "

// ObjectList is an ordered list of detected object labels.
// It is rendered as a single delimited string at every boundary.
type ObjectList []string

// String joins the labels with ObjectSeparator
func (o ObjectList) String() string {
	return strings.Join(o, ObjectSeparator)
}

// MarshalJSON renders the list as a delimited string
func (o ObjectList) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts either a delimited string or an array of labels.
// A single string is kept as a one-element list.
func (o *ObjectList) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = SingleObject(s)
		return nil
	}

	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("detected_objects must be a string or an array of strings: %w", err)
	}
	*o = list
	return nil
}

// SingleObject wraps a single string as a one-element list
func SingleObject(s string) ObjectList {
	if s == "" {
		return ObjectList{}
	}
	return ObjectList{s}
}

// AnnotationResult is the metadata triple produced for one image
type AnnotationResult struct {
	Description     string     `json:"description"`
	DetectedObjects ObjectList `json:"detected_objects"`
	Text            string     `json:"text"`
}

// ImageRecord represents a stored image and its annotation
type ImageRecord struct {
	ID         string           `json:"id"`
	ImagePath  string           `json:"image_path"`
	ImageURL   string           `json:"image_url"`
	Format     string           `json:"format,omitempty"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	UploadDate time.Time        `json:"upload_date"`
	Annotated  bool             `json:"annotated"`
	Annotation AnnotationResult `json:"annotation"`
}

// ShortMetadata returns the description trimmed for list views
func (r *ImageRecord) ShortMetadata() string {
	d := r.Annotation.Description
	if d == "" {
		return "No Metadata"
	}
	runes := []rune(d)
	if len(runes) > 50 {
		return string(runes[:50]) + "..."
	}
	return d
}
