package annotate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"github.com/lehigh-university-libraries/annotator/internal/caption"
	"github.com/lehigh-university-libraries/annotator/internal/config"
	"github.com/lehigh-university-libraries/annotator/internal/detect"
	"github.com/lehigh-university-libraries/annotator/internal/gemini"
	"github.com/lehigh-university-libraries/annotator/internal/ocr"
	"github.com/lehigh-university-libraries/annotator/internal/ollama"
	"github.com/lehigh-university-libraries/annotator/internal/openai"
	"github.com/lehigh-university-libraries/annotator/internal/providers"
	"github.com/lehigh-university-libraries/annotator/internal/spelling"
	"github.com/lehigh-university-libraries/annotator/internal/translate"
)

// Backends is the inference context: built once at startup, read-only
// afterwards and shared by every request.
type Backends struct {
	Annotator Annotator
	closers   []func() error
}

// NewBackends loads every configured backend. When inference.remote_url is
// set no local backend is loaded and annotation is delegated over HTTP.
func NewBackends(ctx context.Context, cfg *config.Config) (*Backends, error) {
	b := &Backends{}

	if cfg.Inference.RemoteURL != "" {
		slog.Info("Using remote inference service", "url", cfg.Inference.RemoteURL)
		b.Annotator = NewRemoteClient(cfg.Inference.RemoteURL, cfg.Inference.Timeout)
		return b, nil
	}

	registry, err := b.providers(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}

	stages, err := b.stages(ctx, cfg, registry)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Annotator = NewPipeline(stages, cfg.TargetLanguage(), cfg.Inference.Timeout)
	return b, nil
}

// Close releases ONNX sessions and API clients
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	b.closers = nil
	return errors.Join(errs...)
}

func (b *Backends) providers(ctx context.Context, cfg *config.Config) (providers.Registry, error) {
	registry := providers.Registry{}

	ollamaProvider, err := ollama.New(cfg.Providers.Ollama.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama provider: %w", err)
	}
	registry["ollama"] = ollamaProvider
	registry["openai"] = openai.New(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.BaseURL)

	if cfg.Providers.Gemini.APIKey != "" {
		geminiProvider, err := gemini.New(ctx, cfg.Providers.Gemini.APIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		b.closers = append(b.closers, geminiProvider.Close)
		registry["gemini"] = geminiProvider
	}

	return registry, nil
}

// provider resolves the provider and model for a stage
func provider(cfg *config.Config, registry providers.Registry, stage string) (providers.Provider, string, error) {
	name := cfg.ProviderFor(stage)
	p, err := registry.Get(name)
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", stage, err)
	}
	return p, cfg.ModelFor(stage, name), nil
}

func (b *Backends) stages(ctx context.Context, cfg *config.Config, registry providers.Registry) (Stages, error) {
	var stages Stages

	p, model, err := provider(cfg, registry, "caption")
	if err != nil {
		return stages, err
	}
	stages.Captioner = caption.NewService(p, model, cfg.Caption.Prompt)

	if stages.Detector, err = b.detector(cfg, registry); err != nil {
		return stages, err
	}
	if stages.Extractor, err = extractor(cfg, registry); err != nil {
		return stages, err
	}
	if stages.Translator, err = b.translator(ctx, cfg, registry); err != nil {
		return stages, err
	}
	if stages.Corrector, err = corrector(cfg); err != nil {
		return stages, err
	}

	slog.Info("Loaded inference backends",
		"caption", cfg.ProviderFor("caption"),
		"detection", cfg.Detection.Backend,
		"ocr", cfg.OCR.Backend,
		"translation", cfg.Translation.Backend,
		"target", cfg.TargetLanguage(),
		"spelling", stages.Corrector != nil)
	return stages, nil
}

func (b *Backends) detector(cfg *config.Config, registry providers.Registry) (detect.Detector, error) {
	switch cfg.Detection.Backend {
	case "yolo":
		return detect.NewYOLOService(cfg.Detection.URL, cfg.Detection.Confidence, cfg.Inference.Timeout), nil
	case "onnx":
		d, err := detect.NewONNXDetector(detect.ONNXConfig{
			ModelPath:   cfg.Detection.ModelPath,
			LibraryPath: cfg.Detection.LibraryPath,
			InputSize:   cfg.Detection.InputSize,
			Confidence:  cfg.Detection.Confidence,
			IoU:         cfg.Detection.IoU,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, d.Close)
		return d, nil
	case "llm":
		p, model, err := provider(cfg, registry, "detection")
		if err != nil {
			return nil, err
		}
		return detect.NewLLMDetector(p, model), nil
	default:
		return nil, nil
	}
}

func extractor(cfg *config.Config, registry providers.Registry) (ocr.TextExtractor, error) {
	switch cfg.OCR.Backend {
	case "tesseract":
		t, err := ocr.NewTesseract(cfg.OCR.Languages, cfg.OCR.PageSegMode)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ocr.ErrNoTesseract) {
			return nil, err
		}
		slog.Warn("Tesseract not available, falling back to vision OCR", "err", err)
		fallthrough
	case "llm":
		p, model, err := provider(cfg, registry, "ocr")
		if err != nil {
			return nil, err
		}
		return ocr.NewService(p, model), nil
	default:
		return nil, nil
	}
}

func (b *Backends) translator(ctx context.Context, cfg *config.Config, registry providers.Registry) (translate.Translator, error) {
	source, err := language.Parse(cfg.Translation.SourceLanguage)
	if err != nil {
		source = language.English
	}

	switch cfg.Translation.Backend {
	case "google":
		g, err := translate.NewGoogle(ctx, cfg.Translation.CredentialsFile, source)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, g.Close)
		return g, nil
	case "llm":
		p, model, err := provider(cfg, registry, "translation")
		if err != nil {
			return nil, err
		}
		return translate.NewLLM(p, model, source), nil
	default:
		return translate.Passthrough{}, nil
	}
}

func corrector(cfg *config.Config) (*spelling.Corrector, error) {
	if !cfg.Spelling.Enabled {
		return nil, nil
	}

	dictionaries, err := spelling.LoadDictionaries(cfg.Spelling.Dictionaries, cfg.Spelling.Depth)
	if err != nil {
		return nil, err
	}
	if len(dictionaries) == 0 {
		slog.Warn("Spelling correction enabled without dictionaries, OCR text will not be corrected")
	}

	cyrillic, err := language.Parse(cfg.Spelling.CyrillicLanguage)
	if err != nil {
		cyrillic = language.Russian
	}
	fallback, err := language.Parse(cfg.Spelling.FallbackLanguage)
	if err != nil {
		fallback = language.English
	}
	return spelling.NewCorrector(dictionaries, cyrillic, fallback), nil
}
