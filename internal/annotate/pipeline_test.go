package annotate

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/text/language"

	"github.com/lehigh-university-libraries/annotator/internal/detect"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/spelling"
)

type fakeCaptioner struct {
	caption string
	err     error
	block   bool
}

func (f *fakeCaptioner) Caption(ctx context.Context, img inference.Image) (string, error) {
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.caption, f.err
}

type fakeDetector struct {
	detections []detect.Detection
	err        error
}

func (f *fakeDetector) Detect(ctx context.Context, img inference.Image) ([]detect.Detection, error) {
	return f.detections, f.err
}

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(ctx context.Context, img inference.Image) (string, error) {
	return f.text, f.err
}

// recordingTranslator prefixes its input and remembers every call
type recordingTranslator struct {
	mu     sync.Mutex
	inputs []string
	err    error
}

func (r *recordingTranslator) Translate(ctx context.Context, text string, target language.Tag) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, text)
	if r.err != nil {
		return "", r.err
	}
	return target.String() + ":" + text, nil
}

func (r *recordingTranslator) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	inputs := append([]string(nil), r.inputs...)
	sort.Strings(inputs)
	return inputs
}

type wordList map[string]string

func (w wordList) Known(word string) bool {
	_, ok := w[strings.ToLower(word)]
	return ok
}

func (w wordList) Correction(word string) (string, error) {
	for known, typo := range w {
		if typo == strings.ToLower(word) {
			return known, nil
		}
	}
	return "", nil
}

func testImage(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestPipeline(stages Stages) *Pipeline {
	return NewPipeline(stages, language.Russian, time.Second)
}

func TestAnnotateEndToEnd(t *testing.T) {
	translator := &recordingTranslator{}
	p := newTestPipeline(Stages{
		Captioner: &fakeCaptioner{caption: "a dog next to a person"},
		Detector: &fakeDetector{detections: []detect.Detection{
			{Label: "person", Confidence: 0.9},
			{Label: "dog", Confidence: 0.8},
			{Label: "Person", Confidence: 0.7},
		}},
		Extractor:  &fakeExtractor{text: "Helo, world!"},
		Translator: translator,
		Corrector: spelling.NewCorrector(
			map[language.Tag]spelling.Dictionary{language.English: wordList{"hello": "helo", "world": ""}},
			language.Russian, language.English),
	})

	result, err := p.Annotate(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if result.Description != "ru:a dog next to a person" {
		t.Errorf("Expected translated description, got %q", result.Description)
	}
	expectedObjects := models.ObjectList{"ru:dog, person"}
	if result.DetectedObjects.String() != expectedObjects.String() || len(result.DetectedObjects) != 1 {
		t.Errorf("Expected %v, got %v", expectedObjects, result.DetectedObjects)
	}
	if result.Text != "hello, world!" {
		t.Errorf("Expected corrected text, got %q", result.Text)
	}

	calls := translator.calls()
	expectedCalls := []string{"a dog next to a person", "dog, person"}
	if strings.Join(calls, "|") != strings.Join(expectedCalls, "|") {
		t.Errorf("Expected translator inputs %v, got %v", expectedCalls, calls)
	}
}

func TestAnnotateSentinels(t *testing.T) {
	translator := &recordingTranslator{}
	p := newTestPipeline(Stages{
		Captioner:  &fakeCaptioner{caption: "an empty room"},
		Detector:   &fakeDetector{},
		Extractor:  &fakeExtractor{text: "  \n "},
		Translator: translator,
	})

	result, err := p.Annotate(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Text != NoText {
		t.Errorf("Expected %q, got %q", NoText, result.Text)
	}
	if result.DetectedObjects.String() != NoObjects {
		t.Errorf("Expected %q, got %q", NoObjects, result.DetectedObjects)
	}
	if calls := translator.calls(); len(calls) != 1 {
		t.Errorf("Expected only the caption to be translated, got %v", calls)
	}
}

func TestAnnotateDisabledStages(t *testing.T) {
	p := newTestPipeline(Stages{Captioner: &fakeCaptioner{caption: "a cat"}})

	result, err := p.Annotate(context.Background(), testImage(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if result.Description != "a cat" {
		t.Errorf("Expected untranslated description with passthrough translator, got %q", result.Description)
	}
	if result.DetectedObjects.String() != NoObjects || result.Text != NoText {
		t.Errorf("Expected sentinels for disabled stages, got %+v", result)
	}
}

func TestAnnotateFailureHandling(t *testing.T) {
	unavailable := inference.Unavailablef("connection refused")
	malformed := inference.Malformedf("empty response")

	tests := []struct {
		name        string
		stages      Stages
		translator  *recordingTranslator
		wantAbort   bool
		description string
		objects     string
		text        string
	}{
		{
			name: "caption unavailable aborts",
			stages: Stages{
				Captioner: &fakeCaptioner{err: unavailable},
				Detector:  &fakeDetector{detections: []detect.Detection{{Label: "dog"}}},
				Extractor: &fakeExtractor{text: "text"},
			},
			translator: &recordingTranslator{},
			wantAbort:  true,
		},
		{
			name: "caption failure uses sentinel",
			stages: Stages{
				Captioner: &fakeCaptioner{err: malformed},
				Detector:  &fakeDetector{detections: []detect.Detection{{Label: "dog"}}},
				Extractor: &fakeExtractor{text: "text"},
			},
			translator:  &recordingTranslator{},
			description: NoDescription,
			objects:     "ru:dog",
			text:        "text",
		},
		{
			name: "translation failure passes through",
			stages: Stages{
				Captioner: &fakeCaptioner{caption: "a dog"},
				Detector:  &fakeDetector{detections: []detect.Detection{{Label: "dog"}}},
				Extractor: &fakeExtractor{text: "text"},
			},
			translator:  &recordingTranslator{err: malformed},
			description: "a dog",
			objects:     "dog",
			text:        "text",
		},
		{
			name: "translation unavailable aborts",
			stages: Stages{
				Captioner: &fakeCaptioner{caption: "a dog"},
				Detector:  &fakeDetector{},
				Extractor: &fakeExtractor{},
			},
			translator: &recordingTranslator{err: unavailable},
			wantAbort:  true,
		},
		{
			name: "detection and ocr degrade",
			stages: Stages{
				Captioner: &fakeCaptioner{caption: "a dog"},
				Detector:  &fakeDetector{err: unavailable},
				Extractor: &fakeExtractor{err: malformed},
			},
			translator:  &recordingTranslator{},
			description: "ru:a dog",
			objects:     NoObjects,
			text:        NoText,
		},
		{
			name: "detection deadline degrades",
			stages: Stages{
				Captioner: &fakeCaptioner{caption: "a dog"},
				Detector:  &fakeDetector{err: context.DeadlineExceeded},
				Extractor: &fakeExtractor{err: unavailable},
			},
			translator:  &recordingTranslator{},
			description: "ru:a dog",
			objects:     NoObjects,
			text:        NoText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.stages.Translator = tt.translator
			result, err := newTestPipeline(tt.stages).Annotate(context.Background(), testImage(t))

			if tt.wantAbort {
				if !errors.Is(err, inference.ErrServiceUnavailable) {
					t.Fatalf("Expected ErrServiceUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if result.Description != tt.description {
				t.Errorf("Expected description %q, got %q", tt.description, result.Description)
			}
			if result.DetectedObjects.String() != tt.objects {
				t.Errorf("Expected objects %q, got %q", tt.objects, result.DetectedObjects)
			}
			if result.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, result.Text)
			}
		})
	}
}

func TestAnnotateAllUnavailable(t *testing.T) {
	unavailable := inference.Unavailablef("connection refused")
	// Caption outages degrade under this table, so only the all-stages rule aborts
	lenient := DefaultPolicy()
	lenient[StageCaption] = Rule{Unavailable: Sentinel, Failed: Sentinel, Sentinel: NoDescription}

	p := newTestPipeline(Stages{
		Captioner:  &fakeCaptioner{err: unavailable},
		Detector:   &fakeDetector{err: unavailable},
		Extractor:  &fakeExtractor{err: unavailable},
		Translator: &recordingTranslator{},
	}).WithPolicy(lenient)

	_, err := p.Annotate(context.Background(), testImage(t))
	if !errors.Is(err, inference.ErrServiceUnavailable) {
		t.Errorf("Expected ErrServiceUnavailable, got %v", err)
	}
}

func TestAnnotateCancellation(t *testing.T) {
	p := newTestPipeline(Stages{
		Captioner:  &fakeCaptioner{block: true},
		Detector:   &fakeDetector{},
		Extractor:  &fakeExtractor{},
		Translator: &recordingTranslator{},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Annotate(ctx, testImage(t))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestAnnotateInvalidImage(t *testing.T) {
	p := newTestPipeline(Stages{Captioner: &fakeCaptioner{caption: "x"}})

	_, err := p.Annotate(context.Background(), []byte("not an image"))
	if !errors.Is(err, inference.ErrInvalidImage) {
		t.Errorf("Expected ErrInvalidImage, got %v", err)
	}
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(testImage(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if img.Format != "png" {
		t.Errorf("Expected png, got %s", img.Format)
	}
	if _, ok := img.Pixels.(*image.NRGBA); !ok {
		t.Errorf("Expected *image.NRGBA pixels, got %T", img.Pixels)
	}
	if img.Pixels.Bounds().Dx() != 8 {
		t.Errorf("Expected width 8, got %d", img.Pixels.Bounds().Dx())
	}
}
