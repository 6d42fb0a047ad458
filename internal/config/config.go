// Package config loads the YAML configuration for the transcribe CLI.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all CLI configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Chunking ChunkingConfig `yaml:"chunking"`
	LogLevel string         `yaml:"log_level"`
}

// EngineConfig selects and configures a transcription backend.
type EngineConfig struct {
	// Backend is one of "parakeet", "moonshine", "whisper", "whisperfile".
	Backend string `yaml:"backend"`
	// ModelPath is a model file for whisper/whisperfile, a model directory
	// for parakeet/moonshine.
	ModelPath string `yaml:"model_path"`
	// BinaryPath locates the whisperfile executable; whisperfile only.
	BinaryPath string `yaml:"binary_path"`
	// Language hints the spoken language; whisper/whisperfile only.
	Language string `yaml:"language"`
	// Variant selects the moonshine model variant, e.g. "base" or "tiny-es".
	Variant string `yaml:"variant"`
	// Int8 selects parakeet's quantized exports.
	Int8 bool `yaml:"int8"`
}

// ChunkingConfig controls VAD-based splitting of long recordings.
type ChunkingConfig struct {
	Enabled bool `yaml:"enabled"`
	// VADModelPath locates the Silero VAD ONNX model; required when enabled.
	VADModelPath string `yaml:"vad_model_path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "transcribe-go")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			Backend:   "whisper",
			ModelPath: "models/ggml-base.en.bin",
			Variant:   "base",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled with
// defaults. Tilde (~) in paths is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Engine.ModelPath = expandTilde(cfg.Engine.ModelPath)
	cfg.Engine.BinaryPath = expandTilde(cfg.Engine.BinaryPath)
	cfg.Chunking.VADModelPath = expandTilde(cfg.Chunking.VADModelPath)

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case "parakeet", "moonshine", "whisper", "whisperfile":
	default:
		return fmt.Errorf("engine.backend must be parakeet, moonshine, whisper, or whisperfile, got %q", c.Engine.Backend)
	}

	if c.Engine.ModelPath == "" {
		return fmt.Errorf("engine.model_path must not be empty")
	}

	if c.Engine.Backend == "whisperfile" && c.Engine.BinaryPath == "" {
		return fmt.Errorf("engine.binary_path is required for the whisperfile backend")
	}

	if c.Chunking.Enabled && c.Chunking.VADModelPath == "" {
		return fmt.Errorf("chunking.vad_model_path is required when chunking is enabled")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a config log level string to a slog.Level. Unknown
// values default to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WriteDefault writes a commented default config to the default path if no
// config exists yet. Returns the written path, or "" when a config already
// exists.
func WriteDefault() (string, error) {
	dir := DefaultConfigDir()
	if dir == "" {
		return "", fmt.Errorf("cannot determine config directory")
	}
	path := filepath.Join(dir, "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshaling default config: %w", err)
	}
	content := "# transcribe-go configuration\n" + string(data)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
