package backend

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/emoji-faces/internal/config"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/inference"
)

func TestNewDetector(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		check   func(t *testing.T, d detection.Detector)
	}{
		{"inference", "inference", func(t *testing.T, d detection.Detector) {
			assert.IsType(t, &inference.Client{}, d)
		}},
		{"vision", "vision", func(t *testing.T, d detection.Detector) {
			assert.IsType(t, &detection.VisionDetector{}, d)
		}},
		{"ollama shortcut", "ollama", func(t *testing.T, d detection.Detector) {
			assert.IsType(t, &detection.VisionDetector{}, d)
		}},
		{"llamacpp shortcut", "llamacpp", func(t *testing.T, d detection.Detector) {
			assert.IsType(t, &detection.VisionDetector{}, d)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default().Detector
			cfg.Backend = tt.backend
			d, err := NewDetector(context.Background(), cfg, nil)
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestNewDetectorErrors(t *testing.T) {
	cfg := config.Default().Detector

	cfg.Backend = "opencv"
	_, err := NewDetector(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown detector")

	cfg.Backend = "pigo"
	cfg.Pigo.CascadeFile = filepath.Join(t.TempDir(), "missing")
	_, err = NewDetector(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg.Backend = "vision"
	cfg.Vision.Backend = "openai"
	_, err = NewDetector(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "unknown vision backend")

	cfg.Vision.Backend = "ollama"
	cfg.Vision.URL = "not a url"
	_, err = NewDetector(context.Background(), cfg, nil)
	assert.Error(t, err)
}
