package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/subosito/gotenv"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// Loader handles loading and merging configurations from multiple sources.
// Later sources override earlier ones: defaults, user config, explicit
// config file, .env file, then the process environment.
type Loader struct {
	fs        afero.Fs
	lookup    LookupFunc
	validator *Validator
	logger    *slog.Logger

	// UserPaths are tried in order; the first that exists is used.
	UserPaths []string

	// File is an explicit config file. It must exist when set.
	File string

	// DotenvPath is read if it exists.
	DotenvPath string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithFs sets the filesystem config files are read from.
func WithFs(fsys afero.Fs) LoaderOption {
	return func(l *Loader) { l.fs = fsys }
}

// WithLookup sets the environment lookup.
func WithLookup(lookup LookupFunc) LoaderOption {
	return func(l *Loader) { l.lookup = lookup }
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a new configuration loader reading the real
// filesystem and environment.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		fs:         afero.NewOsFs(),
		lookup:     os.LookupEnv,
		validator:  NewValidator(),
		logger:     slog.Default(),
		UserPaths:  UserConfigPaths(),
		DotenvPath: ".env",
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "config")
	return l
}

// Load loads configuration from all sources and validates the result.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	for _, path := range l.UserPaths {
		err := l.loadFile(path, config)
		if err == nil {
			l.logger.Debug("loaded config", "source", SourceUser, "path", path)
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s config from %s: %w", SourceUser, path, err)
		}
	}

	if l.File != "" {
		if err := l.loadFile(l.File, config); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", l.File, err)
		}
		l.logger.Debug("loaded config", "source", SourceFile, "path", l.File)
	}

	dotenv, err := l.loadDotenv()
	if err != nil {
		return nil, err
	}
	l.applyEnvironment(config, l.layeredLookup(dotenv))

	if err := l.validator.Validate(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

// loadFile decodes path over config. JSON files may contain comments.
func (l *Loader) loadFile(path string, config *Config) error {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(config); err != nil {
			return fmt.Errorf("failed to parse JSON: %w", err)
		}
	}
	return nil
}

func (l *Loader) loadDotenv() (gotenv.Env, error) {
	if l.DotenvPath == "" {
		return nil, nil
	}
	f, err := l.fs.Open(l.DotenvPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", l.DotenvPath, err)
	}
	defer f.Close()

	env, err := gotenv.StrictParse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", l.DotenvPath, err)
	}
	l.logger.Debug("loaded dotenv", "source", SourceDotenv, "path", l.DotenvPath, "keys", len(env))
	return env, nil
}

// layeredLookup prefers the process environment over the .env file.
func (l *Loader) layeredLookup(dotenv gotenv.Env) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok && v != ""
	}
}

// applyEnvironment applies environment variable overrides to config.
// Malformed numeric values are logged and ignored.
func (l *Loader) applyEnvironment(config *Config, lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}

	str("OPENAI_API_KEY", &config.Providers.OpenAI.APIKey)
	str("OPENAI_BASE_URL", &config.Providers.OpenAI.BaseURL)
	str("OPENROUTER_API_KEY", &config.Providers.OpenRouter.APIKey)
	str("ANTHROPIC_API_KEY", &config.Providers.Anthropic.APIKey)
	str("GOOGLE_API_KEY", &config.Providers.Gemini.APIKey)
	str("GEMINI_API_KEY", &config.Providers.Gemini.APIKey)
	str("HUGGINGFACE_API_KEY", &config.Providers.HuggingFace.APIKey)
	str("OLLAMA_BASE_URL", &config.Providers.Ollama.BaseURL)
	str("DEFAULT_MODEL", &config.Generation.Model)
	str("SYSTEM_PROMPT", &config.Conversation.SystemPrompt)
	str("LOG_LEVEL", &config.Logging.Level)
	config.Logging.Level = strings.ToLower(config.Logging.Level)

	if v, ok := lookup("LOCAL_MODEL_PATH"); ok {
		config.Providers.Local.ModelPath = v
		config.Providers.Local.Enabled = true
	}
	str("LOCAL_MODEL_BINARY", &config.Providers.Local.Binary)

	if v, ok := lookup("MAX_TOKENS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Generation.MaxTokens = &n
		} else {
			l.logger.Warn("ignoring invalid environment value", "key", "MAX_TOKENS", "value", v)
		}
	}
	if v, ok := lookup("TEMPERATURE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Generation.Temperature = &f
		} else {
			l.logger.Warn("ignoring invalid environment value", "key", "TEMPERATURE", "value", v)
		}
	}
	if v, ok := lookup("MAX_CONVERSATION_HISTORY"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			config.Conversation.MaxHistory = n
		} else {
			l.logger.Warn("ignoring invalid environment value", "key", "MAX_CONVERSATION_HISTORY", "value", v)
		}
	}
}

// Validate checks config with the loader's validator.
func (l *Loader) Validate(config *Config) error {
	return l.validator.Validate(config)
}

// SaveFile writes config as indented JSON or YAML depending on the extension.
func (l *Loader) SaveFile(config *Config, path string) error {
	if err := l.validator.Validate(config); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := l.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(config)
	default:
		data, err = json.MarshalIndent(config, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := afero.WriteFile(l.fs, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}
