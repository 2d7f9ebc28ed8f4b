package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Config is the complete runtime configuration
type Config struct {
	LogLevel    string            `mapstructure:"log_level"`
	LogFormat   string            `mapstructure:"log_format"`
	Server      ServerConfig      `mapstructure:"server"`
	Inference   InferenceConfig   `mapstructure:"inference"`
	Caption     CaptionConfig     `mapstructure:"caption"`
	Detection   DetectionConfig   `mapstructure:"detection"`
	OCR         OCRConfig         `mapstructure:"ocr"`
	Translation TranslationConfig `mapstructure:"translation"`
	Spelling    SpellingConfig    `mapstructure:"spelling"`
	Providers   ProvidersConfig   `mapstructure:"providers"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Archive     ArchiveConfig     `mapstructure:"archive"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	UploadDir      string        `mapstructure:"upload_dir"`
	MaxUploadMB    int           `mapstructure:"max_upload_mb"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// InferenceConfig holds settings shared by every inference stage
type InferenceConfig struct {
	// Provider is the default LLM provider for caption, detection, OCR and translation
	Provider string `mapstructure:"provider"`
	// Model overrides the provider default model
	Model string `mapstructure:"model"`
	// RemoteURL points at another instance's /upload/ endpoint; when set no local backends are loaded
	RemoteURL      string        `mapstructure:"remote_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TargetLanguage string        `mapstructure:"target_language"`
}

type CaptionConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	Prompt   string `mapstructure:"prompt"`
}

type DetectionConfig struct {
	Backend     string  `mapstructure:"backend"`
	URL         string  `mapstructure:"url"`
	ModelPath   string  `mapstructure:"model_path"`
	LibraryPath string  `mapstructure:"library_path"`
	Confidence  float64 `mapstructure:"confidence"`
	IoU         float64 `mapstructure:"iou"`
	InputSize   int     `mapstructure:"input_size"`
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
}

type OCRConfig struct {
	Backend     string   `mapstructure:"backend"`
	Languages   []string `mapstructure:"languages"`
	PageSegMode int      `mapstructure:"page_seg_mode"`
	Provider    string   `mapstructure:"provider"`
	Model       string   `mapstructure:"model"`
}

type TranslationConfig struct {
	Backend         string `mapstructure:"backend"`
	CredentialsFile string `mapstructure:"credentials_file"`
	SourceLanguage  string `mapstructure:"source_language"`
	Provider        string `mapstructure:"provider"`
	Model           string `mapstructure:"model"`
}

type SpellingConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Dictionaries maps a language code to a word list file
	Dictionaries     map[string]string `mapstructure:"dictionaries"`
	CyrillicLanguage string            `mapstructure:"cyrillic_language"`
	FallbackLanguage string            `mapstructure:"fallback_language"`
	Depth            int               `mapstructure:"depth"`
}

type ProvidersConfig struct {
	Ollama OllamaConfig `mapstructure:"ollama"`
	OpenAI OpenAIConfig `mapstructure:"openai"`
	Gemini GeminiConfig `mapstructure:"gemini"`
}

type OllamaConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ArchiveConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks the loaded values for consistency
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port must not be empty"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_mb must be positive, got %d", c.Server.MaxUploadMB))
	}
	if c.Inference.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("inference.timeout must be positive, got %s", c.Inference.Timeout))
	}
	if _, err := language.Parse(c.Inference.TargetLanguage); err != nil {
		errs = append(errs, fmt.Errorf("inference.target_language %q: %w", c.Inference.TargetLanguage, err))
	}

	if !oneOf(c.Inference.Provider, "ollama", "openai", "gemini") {
		errs = append(errs, fmt.Errorf("unsupported inference.provider: %s", c.Inference.Provider))
	}
	if !oneOf(c.Detection.Backend, "yolo", "onnx", "llm", "none") {
		errs = append(errs, fmt.Errorf("unsupported detection.backend: %s", c.Detection.Backend))
	}
	if c.Detection.Confidence < 0 || c.Detection.Confidence > 1 {
		errs = append(errs, fmt.Errorf("detection.confidence must be within [0,1], got %v", c.Detection.Confidence))
	}
	if !oneOf(c.OCR.Backend, "tesseract", "llm", "none") {
		errs = append(errs, fmt.Errorf("unsupported ocr.backend: %s", c.OCR.Backend))
	}
	if !oneOf(c.Translation.Backend, "google", "llm", "none") {
		errs = append(errs, fmt.Errorf("unsupported translation.backend: %s", c.Translation.Backend))
	}
	if !oneOf(c.Storage.Driver, "memory", "postgres") {
		errs = append(errs, fmt.Errorf("unsupported storage.driver: %s", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		errs = append(errs, errors.New("archive.bucket is required when the archive is enabled"))
	}

	return errors.Join(errs...)
}

// TargetLanguage returns the parsed translation target
func (c *Config) TargetLanguage() language.Tag {
	tag, err := language.Parse(c.Inference.TargetLanguage)
	if err != nil {
		return language.Russian
	}
	return tag
}

// ProviderFor resolves the provider for a stage, falling back to the shared default
func (c *Config) ProviderFor(stage string) string {
	switch stage {
	case "caption":
		if c.Caption.Provider != "" {
			return c.Caption.Provider
		}
	case "detection":
		if c.Detection.Provider != "" {
			return c.Detection.Provider
		}
	case "ocr":
		if c.OCR.Provider != "" {
			return c.OCR.Provider
		}
	case "translation":
		if c.Translation.Provider != "" {
			return c.Translation.Provider
		}
	}
	return c.Inference.Provider
}

// ModelFor resolves the model for a stage and provider
func (c *Config) ModelFor(stage, provider string) string {
	var model string
	switch stage {
	case "caption":
		model = c.Caption.Model
	case "detection":
		model = c.Detection.Model
	case "ocr":
		model = c.OCR.Model
	case "translation":
		model = c.Translation.Model
	}
	if model != "" {
		return model
	}
	if c.Inference.Model != "" {
		return c.Inference.Model
	}
	return c.DefaultModel(provider)
}

// DefaultModel returns the configured model for a provider
func (c *Config) DefaultModel(provider string) string {
	switch provider {
	case "openai":
		return c.Providers.OpenAI.Model
	case "ollama":
		return c.Providers.Ollama.Model
	case "gemini":
		return c.Providers.Gemini.Model
	default:
		return ""
	}
}

func oneOf(v string, options ...string) bool {
	v = strings.ToLower(v)
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
