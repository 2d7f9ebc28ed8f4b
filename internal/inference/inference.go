package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net"
	"net/http"
)

var (
	// ErrInvalidImage reports input bytes that could not be decoded as an image
	ErrInvalidImage = errors.New("invalid image")

	// ErrUnavailable reports a backend that could not be reached or answered with a non-200 status
	ErrUnavailable = errors.New("inference backend unavailable")

	// ErrMalformed reports a backend that answered but returned an empty or unusable result
	ErrMalformed = errors.New("inference backend returned a malformed result")

	// ErrServiceUnavailable aborts a whole annotation call
	ErrServiceUnavailable = errors.New("inference service unavailable")
)

// Failure classifies a stage error
type Failure int

const (
	None Failure = iota
	Unavailable
	Failed
)

func (f Failure) String() string {
	switch f {
	case None:
		return "ok"
	case Unavailable:
		return "unavailable"
	default:
		return "failed"
	}
}

// Classify maps an error returned by a backend onto a failure class.
// Timeouts and network errors count as unavailable, everything else
// that is not explicitly unavailable counts as a failed inference.
func Classify(err error) Failure {
	if err == nil {
		return None
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrServiceUnavailable) || errors.Is(err, context.DeadlineExceeded) {
		return Unavailable
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unavailable
	}
	return Failed
}

// Unavailablef formats an error wrapping ErrUnavailable
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Malformedf formats an error wrapping ErrMalformed
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// StatusError converts a non-200 HTTP response into an unavailable error
func StatusError(code int, body string) error {
	if code == http.StatusOK {
		return nil
	}
	return Unavailablef("received non-200 status code: %d - %s", code, body)
}

// Image is what every inference backend receives for one upload
type Image struct {
	// Data holds the original encoded bytes
	Data []byte
	// Format is the container format reported by the decoder ("jpeg", "png", ...)
	Format string
	// Pixels is the decoded image normalized to RGB
	Pixels image.Image
}
