//go:build !tesseract

package ocr

// NewTesseract reports that the tesseract backend is unavailable in this build
func NewTesseract(languages []string, pageSegMode int) (TextExtractor, error) {
	return nil, ErrNoTesseract
}
