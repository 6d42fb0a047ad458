package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Engine.Backend != "whisper" {
		t.Errorf("Engine.Backend = %q, want %q", cfg.Engine.Backend, "whisper")
	}
	if cfg.Engine.ModelPath == "" {
		t.Error("Engine.ModelPath should not be empty")
	}
	if cfg.Chunking.Enabled {
		t.Error("chunking should be disabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
engine:
  backend: parakeet
  model_path: /opt/models/parakeet-tdt-v3
  int8: true
chunking:
  enabled: true
  vad_model_path: /opt/models/silero_vad.onnx
log_level: debug
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.Backend != "parakeet" {
		t.Errorf("Engine.Backend = %q, want %q", cfg.Engine.Backend, "parakeet")
	}
	if cfg.Engine.ModelPath != "/opt/models/parakeet-tdt-v3" {
		t.Errorf("Engine.ModelPath = %q", cfg.Engine.ModelPath)
	}
	if !cfg.Engine.Int8 {
		t.Error("Engine.Int8 = false, want true")
	}
	if !cfg.Chunking.Enabled || cfg.Chunking.VADModelPath != "/opt/models/silero_vad.onnx" {
		t.Errorf("Chunking = %+v", cfg.Chunking)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
engine:
  model_path: ~/models/ggml-base.en.bin
  binary_path: ~/bin/whisperfile
chunking:
  vad_model_path: ~/models/silero_vad.onnx
`
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if want := filepath.Join(home, "models/ggml-base.en.bin"); cfg.Engine.ModelPath != want {
		t.Errorf("Engine.ModelPath = %q, want %q", cfg.Engine.ModelPath, want)
	}
	if want := filepath.Join(home, "bin/whisperfile"); cfg.Engine.BinaryPath != want {
		t.Errorf("Engine.BinaryPath = %q, want %q", cfg.Engine.BinaryPath, want)
	}
	if want := filepath.Join(home, "models/silero_vad.onnx"); cfg.Chunking.VADModelPath != want {
		t.Errorf("Chunking.VADModelPath = %q, want %q", cfg.Chunking.VADModelPath, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "unknown backend",
			modify:  func(c *Config) { c.Engine.Backend = "invalid" },
			wantErr: true,
		},
		{
			name:    "empty model path",
			modify:  func(c *Config) { c.Engine.ModelPath = "" },
			wantErr: true,
		},
		{
			name:    "whisperfile without binary",
			modify:  func(c *Config) { c.Engine.Backend = "whisperfile" },
			wantErr: true,
		},
		{
			name: "whisperfile with binary",
			modify: func(c *Config) {
				c.Engine.Backend = "whisperfile"
				c.Engine.BinaryPath = "/usr/local/bin/whisperfile"
			},
			wantErr: false,
		},
		{
			name:    "chunking without vad model",
			modify:  func(c *Config) { c.Chunking.Enabled = true },
			wantErr: true,
		},
		{
			name: "chunking with vad model",
			modify: func(c *Config) {
				c.Chunking.Enabled = true
				c.Chunking.VADModelPath = "models/silero_vad.onnx"
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "transcribe-go", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# transcribe-go") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.Engine.Backend != "whisper" {
		t.Errorf("written config Engine.Backend = %q, want %q", cfg.Engine.Backend, "whisper")
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "transcribe-go")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
