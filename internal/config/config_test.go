package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config is invalid: %v", err)
	}
	if cfg.Image.MaxHeight != 800 {
		t.Errorf("Expected max height 800, got %d", cfg.Image.MaxHeight)
	}
	if cfg.Detector.Backend != "pigo" {
		t.Errorf("Expected pigo backend, got %s", cfg.Detector.Backend)
	}
	if !cfg.Server.IsDevelopment() || cfg.Server.IsProduction() {
		t.Error("Expected development environment by default")
	}
}

func TestSaveAndLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := Default()
	cfg.Output.DefaultFormat = "webp"
	cfg.Catalog.Sources = []string{"a", "b.zip"}
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if loaded.Output.DefaultFormat != "webp" {
		t.Errorf("Expected webp, got %s", loaded.Output.DefaultFormat)
	}
	if len(loaded.Catalog.Sources) != 2 || loaded.Catalog.Sources[1] != "b.zip" {
		t.Errorf("Unexpected sources %v", loaded.Catalog.Sources)
	}
}

func TestLoadFromFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"image":{"max_height":600}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg.Image.MaxHeight != 600 {
		t.Errorf("Expected 600, got %d", cfg.Image.MaxHeight)
	}
	if cfg.Image.PreviewWidth != 450 {
		t.Errorf("Expected default preview width, got %d", cfg.Image.PreviewWidth)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("Expected error for malformed file")
	}
}

func TestLoadAppliesEnv(t *testing.T) {
	t.Setenv("EMOJIFACES_IMAGE_MAX_HEIGHT", "1024")
	t.Setenv("EMOJIFACES_DETECTOR_BACKEND", "rekognition")
	t.Setenv("EMOJIFACES_DETECTOR_REKOGNITION_REGION", "eu-west-1")
	t.Setenv("EMOJIFACES_CATALOG_SOURCES", "./one,./two")
	t.Setenv("EMOJIFACES_SERVER_SESSION_TTL", "45m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Image.MaxHeight != 1024 {
		t.Errorf("Expected 1024, got %d", cfg.Image.MaxHeight)
	}
	if cfg.Detector.Backend != "rekognition" || cfg.Detector.Rekognition.Region != "eu-west-1" {
		t.Errorf("Unexpected detector config %+v", cfg.Detector)
	}
	if len(cfg.Catalog.Sources) != 2 {
		t.Errorf("Expected two sources, got %v", cfg.Catalog.Sources)
	}
	if cfg.Server.SessionTTL != 45*time.Minute {
		t.Errorf("Expected 45m, got %s", cfg.Server.SessionTTL)
	}
	// Untouched fields keep their defaults
	if cfg.Output.Quality != 92 {
		t.Errorf("Expected default quality, got %d", cfg.Output.Quality)
	}
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	t.Setenv("EMOJIFACES_DETECTOR_BACKEND", "magic")
	if _, err := Load(""); err == nil {
		t.Error("Expected validation error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative max height", func(c *Config) { c.Image.MaxHeight = -1 }},
		{"zero preview width", func(c *Config) { c.Image.PreviewWidth = 0 }},
		{"unknown backend", func(c *Config) { c.Detector.Backend = "opencv" }},
		{"small pigo scale", func(c *Config) { c.Detector.Pigo.ScaleFactor = 1.0 }},
		{"pigo sizes", func(c *Config) { c.Detector.Pigo.MaxSize = 10 }},
		{"rekognition confidence", func(c *Config) { c.Detector.Rekognition.MinConfidence = 101 }},
		{"vision backend", func(c *Config) { c.Detector.Vision.Backend = "openai" }},
		{"output format", func(c *Config) { c.Output.DefaultFormat = "gif" }},
		{"quality", func(c *Config) { c.Output.Quality = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"upload size", func(c *Config) { c.Server.MaxUploadSize = 0 }},
		{"upload rate limit", func(c *Config) { c.Server.UploadRateLimit = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestValidateAcceptsEveryBackend(t *testing.T) {
	for _, name := range DetectorBackends {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			cfg.Detector.Backend = name
			if err := cfg.Validate(); err != nil {
				t.Errorf("Backend %s rejected: %v", name, err)
			}
		})
	}
}

func TestLoadAcceptsClientBackendFromEnv(t *testing.T) {
	for _, name := range []string{"ollama", "llamacpp"} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("EMOJIFACES_DETECTOR_BACKEND", name)
			cfg, err := Load("")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Detector.Backend != name {
				t.Errorf("Expected %s, got %s", name, cfg.Detector.Backend)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	NewLogger("production", &buf).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("Expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	logger := NewLogger("development", &buf)
	logger.Debug("details")
	if !strings.Contains(buf.String(), "msg=details") {
		t.Errorf("Expected debug text output, got %q", buf.String())
	}

	buf.Reset()
	NewLogger("production", &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Error("Expected debug to be filtered in production")
	}
}

func TestGetConfigPath(t *testing.T) {
	if !strings.HasSuffix(GetConfigPath(), "config.json") {
		t.Errorf("Unexpected config path %s", GetConfigPath())
	}
}
