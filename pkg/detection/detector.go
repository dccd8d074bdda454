package detection

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sort"

	"github.com/menta2k/emoji-faces/pkg/client"
	"github.com/menta2k/emoji-faces/pkg/processing"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// Detector finds faces in an image. The returned boxes are in pixel
// coordinates of img and their order is stable for the same input.
// An image without faces yields an empty slice and a nil error.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error)
}

// Func adapts a plain function to the Detector interface
type Func func(ctx context.Context, img image.Image) ([]types.BoundingBox, error)

// Detect calls f
func (f Func) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	return f(ctx, img)
}

// Static always reports the same boxes. It replays known detections and
// stands in for a model in tests.
type Static []types.BoundingBox

// Detect returns a copy of the fixed boxes
func (s Static) Detect(ctx context.Context, _ image.Image) ([]types.BoundingBox, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.BoundingBox, len(s))
	copy(out, s)
	return out, nil
}

// SimpleTestPrompt checks whether the model can see images at all
const SimpleTestPrompt = `What do you see in this image? Describe it briefly.`

// FacesPrompt asks a vision model for every human face in normalized coordinates
const FacesPrompt = `You are a face locator.

Return JSON only:
{
  "faces": [
    {"box": {"x": 0.0, "y": 0.0, "w": 0.0, "h": 0.0}, "confidence": 0.0}
  ],
  "description": "short neutral sentence (≤ 20 words)"
}

HARD RULES
- Report every visible human face, including small and partially turned ones.
- All coordinates are normalized to [0,1] (NOT pixels). x,y is the top-left corner.
- Each box covers the face from hairline to chin and ear to ear, not the whole head or body.
- Do not guess real identities.
- If there are no faces, return {"faces": [], "description": "no faces"}.
- JSON only. No markdown, no code fences, no comments, no trailing commas.`

// VisionOptions configures how images are sent to a vision model
type VisionOptions struct {
	Model         string
	Prompt        string
	SendFormat    string
	SendSize      int
	SendQuality   int
	MinConfidence float64
}

// VisionDetector locates faces by prompting a vision model
type VisionDetector struct {
	client    client.VisionClient
	processor *processing.Processor
	opts      VisionOptions
	logger    *slog.Logger
}

// NewVisionDetector creates a detector backed by a vision client
func NewVisionDetector(c client.VisionClient, opts VisionOptions, logger *slog.Logger) *VisionDetector {
	if opts.Prompt == "" {
		opts.Prompt = FacesPrompt
	}
	if opts.SendFormat == "" {
		opts.SendFormat = "jpg"
	}
	if opts.SendQuality <= 0 {
		opts.SendQuality = 85
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &VisionDetector{
		client:    c,
		processor: processing.NewProcessor(),
		opts:      opts,
		logger:    logger,
	}
}

// Detect sends img to the model and converts the reported faces to pixel boxes
func (d *VisionDetector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return nil, fmt.Errorf("prepare image: %w", err)
	}

	analysis, err := d.client.LocateFaces(ctx, d.opts.Model, d.opts.Prompt, imgB64)
	if err != nil {
		return nil, fmt.Errorf("locate faces: %w", err)
	}

	boxes := FacesToBoxes(analysis.Faces, img.Bounds(), d.opts.MinConfidence)
	d.logger.Debug("vision detection",
		slog.String("model", d.opts.Model),
		slog.Int("reported", len(analysis.Faces)),
		slog.Int("kept", len(boxes)),
		slog.String("description", analysis.Description))

	return boxes, nil
}

// Describe runs the simple test prompt, to check the model receives the image
func (d *VisionDetector) Describe(ctx context.Context, img image.Image) (string, error) {
	imgB64, err := d.processor.PrepareImageForModel(img, d.opts.SendFormat, d.opts.SendSize, d.opts.SendQuality)
	if err != nil {
		return "", fmt.Errorf("prepare image: %w", err)
	}
	return d.client.SimpleQuery(ctx, d.opts.Model, SimpleTestPrompt, imgB64)
}

// FacesToBoxes converts normalized face locations to pixel boxes inside bounds.
// Faces below minConfidence are dropped, except that a confidence of 0 means
// the model did not report one. Empty boxes are dropped.
func FacesToBoxes(faces []types.FaceLocation, bounds image.Rectangle, minConfidence float64) []types.BoundingBox {
	boxes := make([]types.BoundingBox, 0, len(faces))
	for _, f := range faces {
		if f.Confidence > 0 && f.Confidence < minConfidence {
			continue
		}
		b := f.Box.ToPixels(bounds.Dx(), bounds.Dy())
		b = types.BoundingBox{
			X1: b.X1 + bounds.Min.X,
			Y1: b.Y1 + bounds.Min.Y,
			X2: b.X2 + bounds.Min.X,
			Y2: b.Y2 + bounds.Min.Y,
		}
		if b.Width() == 0 || b.Height() == 0 {
			continue
		}
		boxes = append(boxes, b)
	}
	SortBoxes(boxes)
	return boxes
}

// SortBoxes orders boxes left to right, then top to bottom, so face IDs read
// naturally and do not depend on a backend's internal ordering.
func SortBoxes(boxes []types.BoundingBox) {
	sort.SliceStable(boxes, func(i, j int) bool {
		if boxes[i].X1 != boxes[j].X1 {
			return boxes[i].X1 < boxes[j].X1
		}
		return boxes[i].Y1 < boxes[j].Y1
	})
}
