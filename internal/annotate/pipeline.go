package annotate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	// Register decoders beyond the stdlib set
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/lehigh-university-libraries/annotator/internal/caption"
	"github.com/lehigh-university-libraries/annotator/internal/detect"
	"github.com/lehigh-university-libraries/annotator/internal/inference"
	"github.com/lehigh-university-libraries/annotator/internal/metrics"
	"github.com/lehigh-university-libraries/annotator/internal/models"
	"github.com/lehigh-university-libraries/annotator/internal/ocr"
	"github.com/lehigh-university-libraries/annotator/internal/spelling"
	"github.com/lehigh-university-libraries/annotator/internal/translate"
)

// Annotator turns image bytes into the metadata triple
type Annotator interface {
	Annotate(ctx context.Context, data []byte) (models.AnnotationResult, error)
}

// Stages holds the backends of a pipeline. A nil Detector or Extractor
// disables that stage and yields its sentinel.
type Stages struct {
	Captioner  caption.Captioner
	Detector   detect.Detector
	Extractor  ocr.TextExtractor
	Translator translate.Translator
	Corrector  *spelling.Corrector
}

// Pipeline runs caption, detection and text extraction concurrently
type Pipeline struct {
	stages  Stages
	target  language.Tag
	timeout time.Duration
	policy  Policy
}

// NewPipeline creates a pipeline translating into target. Every backend
// call is bounded by timeout.
func NewPipeline(stages Stages, target language.Tag, timeout time.Duration) *Pipeline {
	if stages.Translator == nil {
		stages.Translator = translate.Passthrough{}
	}
	return &Pipeline{
		stages:  stages,
		target:  target,
		timeout: timeout,
		policy:  DefaultPolicy(),
	}
}

// WithPolicy returns a copy of the pipeline using policy
func (p *Pipeline) WithPolicy(policy Policy) *Pipeline {
	clone := *p
	clone.policy = policy
	return &clone
}

// Annotate decodes data and produces the triple. It has no side effects.
func (p *Pipeline) Annotate(ctx context.Context, data []byte) (models.AnnotationResult, error) {
	start := time.Now()

	img, err := DecodeImage(data)
	if err != nil {
		metrics.ObserveAnnotation("invalid_image")
		return models.AnnotationResult{}, err
	}

	var (
		result   models.AnnotationResult
		failures [3]inference.Failure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		description, failure, err := p.describe(gctx, img)
		failures[0] = failure
		result.Description = description
		return err
	})
	g.Go(func() error {
		objects, failure, err := p.detectObjects(gctx, img)
		failures[1] = failure
		result.DetectedObjects = objects
		return err
	})
	g.Go(func() error {
		text, failure := p.extractText(gctx, img)
		failures[2] = failure
		result.Text = text
		return nil
	})
	err = g.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		metrics.ObserveAnnotation("error")
		return models.AnnotationResult{}, ctxErr
	}
	if failures == [3]inference.Failure{inference.Unavailable, inference.Unavailable, inference.Unavailable} {
		metrics.ObserveAnnotation("unavailable")
		return models.AnnotationResult{}, fmt.Errorf("all image stages unavailable: %w", inference.ErrServiceUnavailable)
	}
	if err != nil {
		status := "error"
		if errors.Is(err, inference.ErrServiceUnavailable) {
			status = "unavailable"
		}
		metrics.ObserveAnnotation(status)
		return models.AnnotationResult{}, err
	}

	metrics.ObserveAnnotation("success")
	slog.Info("Annotated image",
		"format", img.Format,
		"objects", result.DetectedObjects.String(),
		"text_length", len(result.Text),
		"duration", time.Since(start))
	return result, nil
}

func (p *Pipeline) describe(ctx context.Context, img inference.Image) (string, inference.Failure, error) {
	if p.stages.Captioner == nil {
		return NoDescription, inference.None, nil
	}

	res := p.call(ctx, StageCaption, func(ctx context.Context) (string, error) {
		return p.stages.Captioner.Caption(ctx, img)
	})
	failure := inference.Classify(res.err)
	description, err := p.policy.Resolve(StageCaption, res, "")
	if err != nil || res.err != nil {
		return description, failure, err
	}

	res = p.call(ctx, StageCaptionTranslation, func(ctx context.Context) (string, error) {
		return p.stages.Translator.Translate(ctx, description, p.target)
	})
	description, err = p.policy.Resolve(StageCaptionTranslation, res, description)
	return description, failure, err
}

func (p *Pipeline) detectObjects(ctx context.Context, img inference.Image) (models.ObjectList, inference.Failure, error) {
	if p.stages.Detector == nil {
		return models.SingleObject(NoObjects), inference.None, nil
	}

	var detections []detect.Detection
	res := p.call(ctx, StageDetection, func(ctx context.Context) (string, error) {
		var err error
		detections, err = p.stages.Detector.Detect(ctx, img)
		return "", err
	})
	failure := inference.Classify(res.err)
	if res.err != nil {
		sentinel, err := p.policy.Resolve(StageDetection, res, "")
		return models.SingleObject(sentinel), failure, err
	}

	labels := detect.Labels(detections)
	if len(labels) == 0 {
		return models.SingleObject(NoObjects), failure, nil
	}

	joined := strings.Join(labels, models.ObjectSeparator)
	res = p.call(ctx, StageObjectsTranslation, func(ctx context.Context) (string, error) {
		return p.stages.Translator.Translate(ctx, joined, p.target)
	})
	translated, err := p.policy.Resolve(StageObjectsTranslation, res, joined)
	return models.SingleObject(translated), failure, err
}

func (p *Pipeline) extractText(ctx context.Context, img inference.Image) (string, inference.Failure) {
	if p.stages.Extractor == nil {
		return NoText, inference.None
	}

	res := p.call(ctx, StageTextExtraction, func(ctx context.Context) (string, error) {
		return p.stages.Extractor.ExtractText(ctx, img)
	})
	failure := inference.Classify(res.err)
	text, err := p.policy.Resolve(StageTextExtraction, res, "")
	if err != nil {
		// Text extraction never aborts a request
		return NoText, failure
	}
	if strings.TrimSpace(text) == "" {
		return NoText, failure
	}
	if p.stages.Corrector != nil {
		text = p.stages.Corrector.Correct(text, language.Und)
	}
	return text, failure
}

// call runs one backend call under its own timeout and records its outcome
func (p *Pipeline) call(ctx context.Context, stage Stage, fn func(context.Context) (string, error)) stageResult {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	value, err := fn(ctx)
	failure := inference.Classify(err)
	metrics.ObserveStage(string(stage), failure.String(), time.Since(start))
	if err != nil {
		slog.Warn("Inference stage failed", "stage", stage, "class", failure, "err", err)
	}
	return stageResult{value: value, err: err}
}

// DecodeImage sniffs and decodes data, applying EXIF orientation and
// normalizing the pixels to NRGBA.
func DecodeImage(data []byte) (inference.Image, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return inference.Image{}, fmt.Errorf("%w: %v", inference.ErrInvalidImage, err)
	}

	pixels, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return inference.Image{}, fmt.Errorf("%w: %v", inference.ErrInvalidImage, err)
	}

	return inference.Image{
		Data:   data,
		Format: format,
		Pixels: imaging.Clone(pixels),
	}, nil
}
