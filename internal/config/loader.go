package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the base name for configuration files (without extension).
	ConfigFileName = "annotator"

	// EnvPrefix is the prefix for environment variables.
	EnvPrefix = "ANNOTATOR"
)

// legacyEnv maps configuration keys to the unprefixed variables
// already used by existing deployments.
var legacyEnv = map[string][]string{
	"inference.provider":           {"CATALOGING_PROVIDER"},
	"inference.remote_url":         {"METADATA_API_URL"},
	"providers.ollama.url":         {"OLLAMA_URL", "OLLAMA_HOST"},
	"providers.ollama.model":       {"OLLAMA_MODEL"},
	"providers.openai.api_key":     {"OPENAI_API_KEY"},
	"providers.openai.model":       {"OPENAI_MODEL"},
	"providers.gemini.api_key":     {"GEMINI_API_KEY"},
	"translation.credentials_file": {"GOOGLE_APPLICATION_CREDENTIALS"},
	"storage.dsn":                  {"DATABASE_URL"},
}

// Loader handles loading configuration from files, environment variables and defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Viper exposes the underlying instance so commands can bind flags.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load reads configuration from configFile, or from the default search
// paths when configFile is empty. A missing default file is not an error.
func (l *Loader) Load(configFile string) (*Config, error) {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", configFile)
		}
		l.v.SetConfigFile(configFile)
	} else {
		l.v.SetConfigName(ConfigFileName)
		l.v.SetConfigType("yaml")
		l.addConfigPaths()
	}

	if err := l.setupEnvironmentVariables(); err != nil {
		return nil, err
	}
	l.setDefaults()

	if err := l.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func (l *Loader) addConfigPaths() {
	l.v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(filepath.Join(home, ".config", ConfigFileName))
	}
	l.v.AddConfigPath(filepath.Join("/etc", ConfigFileName))
}

func (l *Loader) setupEnvironmentVariables() error {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	for key, names := range legacyEnv {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := l.v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}
	return nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")

	l.v.SetDefault("server.port", "8888")
	l.v.SetDefault("server.upload_dir", "uploads")
	l.v.SetDefault("server.max_upload_mb", 10)
	l.v.SetDefault("server.request_timeout", 5*time.Minute)

	l.v.SetDefault("inference.provider", "ollama")
	l.v.SetDefault("inference.model", "")
	l.v.SetDefault("inference.remote_url", "")
	l.v.SetDefault("inference.timeout", 2*time.Minute)
	l.v.SetDefault("inference.target_language", "ru")

	l.v.SetDefault("caption.provider", "")
	l.v.SetDefault("caption.model", "")
	l.v.SetDefault("caption.prompt", "")

	l.v.SetDefault("detection.backend", "yolo")
	l.v.SetDefault("detection.url", "http://localhost:5000/detect")
	l.v.SetDefault("detection.model_path", "models/yolov8n.onnx")
	l.v.SetDefault("detection.library_path", "")
	l.v.SetDefault("detection.confidence", 0.25)
	l.v.SetDefault("detection.iou", 0.45)
	l.v.SetDefault("detection.input_size", 640)
	l.v.SetDefault("detection.provider", "")
	l.v.SetDefault("detection.model", "")

	l.v.SetDefault("ocr.backend", "tesseract")
	l.v.SetDefault("ocr.languages", []string{"rus", "eng"})
	l.v.SetDefault("ocr.page_seg_mode", 6)
	l.v.SetDefault("ocr.provider", "")
	l.v.SetDefault("ocr.model", "")

	l.v.SetDefault("translation.backend", "llm")
	l.v.SetDefault("translation.credentials_file", "")
	l.v.SetDefault("translation.source_language", "en")
	l.v.SetDefault("translation.provider", "")
	l.v.SetDefault("translation.model", "")

	l.v.SetDefault("spelling.enabled", true)
	l.v.SetDefault("spelling.dictionaries", map[string]string{})
	l.v.SetDefault("spelling.cyrillic_language", "ru")
	l.v.SetDefault("spelling.fallback_language", "en")
	l.v.SetDefault("spelling.depth", 2)

	l.v.SetDefault("providers.ollama.url", "http://localhost:11434")
	l.v.SetDefault("providers.ollama.model", "mistral-small3.2:24b")
	l.v.SetDefault("providers.openai.api_key", "")
	l.v.SetDefault("providers.openai.base_url", "https://api.openai.com/v1")
	l.v.SetDefault("providers.openai.model", "gpt-4o")
	l.v.SetDefault("providers.gemini.api_key", "")
	l.v.SetDefault("providers.gemini.model", "gemini-1.5-flash")

	l.v.SetDefault("storage.driver", "memory")
	l.v.SetDefault("storage.dsn", "")

	l.v.SetDefault("archive.enabled", false)
	l.v.SetDefault("archive.endpoint", "")
	l.v.SetDefault("archive.region", "us-east-1")
	l.v.SetDefault("archive.bucket", "")
	l.v.SetDefault("archive.prefix", "annotated/")
	l.v.SetDefault("archive.access_key_id", "")
	l.v.SetDefault("archive.secret_access_key", "")

	l.v.SetDefault("metrics.enabled", true)
}
