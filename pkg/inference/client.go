// Package inference detects faces through an external object detection
// service, such as a YOLO face model served over HTTP.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/disintegration/imaging"

	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// Detection is one face reported by the service. XYXY holds the corners
// x1, y1, x2, y2 in pixels of the uploaded image.
type Detection struct {
	XYXY       []float64 `json:"xyxy"`
	Confidence float64   `json:"confidence"`
	Label      string    `json:"label,omitempty"`
}

// Response is the body returned by the service
type Response struct {
	Detections []Detection `json:"detections"`
}

// Client uploads images to the detection endpoint
type Client struct {
	url           string
	httpClient    *http.Client
	minConfidence float64
	logger        *slog.Logger
}

var _ detection.Detector = (*Client)(nil)

// NewClient creates a client for the given endpoint URL
func NewClient(endpoint string, timeout time.Duration, minConfidence float64, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		url:           endpoint,
		httpClient:    &http.Client{Timeout: timeout},
		minConfidence: minConfidence,
		logger:        logger,
	}
}

// Detect uploads img as PNG in the "image" form field
func (c *Client) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	body, contentType, err := multipartImage(img)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d: %s", resp.StatusCode, string(data))
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	boxes := ToBoxes(parsed.Detections, img.Bounds(), c.minConfidence)
	c.logger.Debug("inference detection",
		slog.String("url", c.url),
		slog.Int("reported", len(parsed.Detections)),
		slog.Int("kept", len(boxes)))

	return boxes, nil
}

// ToBoxes converts detections to boxes in the coordinate space of bounds.
// Coordinates are truncated towards zero and clamped to the image.
func ToBoxes(dets []Detection, bounds image.Rectangle, minConfidence float64) []types.BoundingBox {
	boxes := make([]types.BoundingBox, 0, len(dets))
	for _, d := range dets {
		if len(d.XYXY) != 4 || d.Confidence < minConfidence {
			continue
		}
		b := types.NewBoundingBox(
			bounds.Min.X+int(d.XYXY[0]),
			bounds.Min.Y+int(d.XYXY[1]),
			bounds.Min.X+int(d.XYXY[2]),
			bounds.Min.Y+int(d.XYXY[3]),
		).ClampTo(bounds)
		if b.Width() == 0 || b.Height() == 0 {
			continue
		}
		boxes = append(boxes, b)
	}
	return boxes
}

func multipartImage(img image.Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "image.png")
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if err := imaging.Encode(part, img, imaging.PNG); err != nil {
		return nil, "", fmt.Errorf("encode image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
