// Package pigo detects faces locally with the pigo pixel-intensity cascade.
package pigo

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"

	"github.com/disintegration/imaging"
	core "github.com/esimov/pigo/core"

	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// Options tunes the cascade run
type Options struct {
	MinSize      int
	MaxSize      int
	ShiftFactor  float64
	ScaleFactor  float64
	IoUThreshold float64
	MinQuality   float64
}

// DefaultOptions returns settings that work for typical group photos
func DefaultOptions() Options {
	return Options{
		MinSize:      20,
		MaxSize:      1000,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IoUThreshold: 0.2,
		MinQuality:   5.0,
	}
}

// Detector runs a pigo face cascade
type Detector struct {
	classifier *core.Pigo
	opts       Options
	logger     *slog.Logger
}

var _ detection.Detector = (*Detector)(nil)

// NewDetector loads the cascade (e.g. the "facefinder" file shipped with pigo)
func NewDetector(cascadeFile string, opts Options, logger *slog.Logger) (*Detector, error) {
	data, err := os.ReadFile(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("read cascade %s: %w", cascadeFile, err)
	}
	return NewDetectorFromBytes(data, opts, logger)
}

// NewDetectorFromBytes unpacks an in-memory cascade
func NewDetectorFromBytes(cascade []byte, opts Options, logger *slog.Logger) (*Detector, error) {
	classifier, err := core.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{classifier: classifier, opts: opts, logger: logger}, nil
}

// Detect runs the cascade over a grayscale copy of img
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	src := imaging.Clone(img)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	params := core.CascadeParams{
		MinSize:     d.opts.MinSize,
		MaxSize:     d.opts.MaxSize,
		ShiftFactor: d.opts.ShiftFactor,
		ScaleFactor: d.opts.ScaleFactor,
		ImageParams: core.ImageParams{
			Pixels: core.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, d.opts.IoUThreshold)

	boxes := DetectionsToBoxes(dets, bounds, d.opts.MinQuality)
	d.logger.Debug("pigo detection",
		slog.Int("candidates", len(dets)),
		slog.Int("faces", len(boxes)))

	return boxes, nil
}

// DetectionsToBoxes converts cascade hits (centre and side) to pixel boxes
// clamped to bounds, dropping hits below minQuality.
func DetectionsToBoxes(dets []core.Detection, bounds image.Rectangle, minQuality float64) []types.BoundingBox {
	boxes := make([]types.BoundingBox, 0, len(dets))
	for _, det := range dets {
		if float64(det.Q) < minQuality {
			continue
		}
		half := det.Scale / 2
		x1 := bounds.Min.X + det.Col - half
		y1 := bounds.Min.Y + det.Row - half
		b := types.NewBoundingBox(x1, y1, x1+det.Scale, y1+det.Scale).ClampTo(bounds)
		if b.Width() == 0 || b.Height() == 0 {
			continue
		}
		boxes = append(boxes, b)
	}
	detection.SortBoxes(boxes)
	return boxes
}
