// Package backend builds the configured face detector.
package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/menta2k/emoji-faces/internal/config"
	"github.com/menta2k/emoji-faces/pkg/client"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/inference"
	"github.com/menta2k/emoji-faces/pkg/llamacpp"
	"github.com/menta2k/emoji-faces/pkg/ollama"
	"github.com/menta2k/emoji-faces/pkg/pigo"
	"github.com/menta2k/emoji-faces/pkg/rekognition"
)

// Names accepted by NewDetector
var Names = config.DetectorBackends

// NewDetector returns the detector named by cfg.Backend
func NewDetector(ctx context.Context, cfg config.DetectorConfig, logger *slog.Logger) (detection.Detector, error) {
	switch cfg.Backend {
	case "pigo":
		p := cfg.Pigo
		d, err := pigo.NewDetector(p.CascadeFile, pigo.Options{
			MinSize:      p.MinSize,
			MaxSize:      p.MaxSize,
			ShiftFactor:  p.ShiftFactor,
			ScaleFactor:  p.ScaleFactor,
			IoUThreshold: p.IoUThreshold,
			MinQuality:   p.MinQuality,
		}, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	case "rekognition":
		d, err := rekognition.NewDetector(ctx, rekognition.Config{
			Region:        cfg.Rekognition.Region,
			MinConfidence: cfg.Rekognition.MinConfidence,
		}, logger)
		if err != nil {
			return nil, err
		}
		return d, nil

	case "inference":
		i := cfg.Inference
		return inference.NewClient(i.URL, i.Timeout, i.MinConfidence, logger), nil

	case "ollama", "llamacpp":
		cfg.Vision.Backend = cfg.Backend
		fallthrough
	case "vision":
		vc, err := newVisionClient(cfg.Vision)
		if err != nil {
			return nil, err
		}
		v := cfg.Vision
		return detection.NewVisionDetector(vc, detection.VisionOptions{
			Model:         v.Model,
			SendFormat:    v.SendFormat,
			SendSize:      v.SendSize,
			SendQuality:   v.SendQuality,
			MinConfidence: v.MinConfidence,
		}, logger), nil
	}

	return nil, fmt.Errorf("unknown detector %q (use one of %v)", cfg.Backend, Names)
}

func newVisionClient(cfg config.VisionConfig) (client.VisionClient, error) {
	switch cfg.Backend {
	case "ollama":
		c, err := ollama.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return c, nil
	case "llamacpp":
		c, err := llamacpp.NewClient(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return c, nil
	}
	return nil, fmt.Errorf("unknown vision backend %q (use ollama or llamacpp)", cfg.Backend)
}
