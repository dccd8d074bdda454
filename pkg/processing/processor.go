package processing

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/emoji-faces/internal/utils"
	"github.com/menta2k/emoji-faces/pkg/types"
)

const (
	// DefaultMaxHeight is the height inputs are reduced to before detection
	DefaultMaxHeight = 800
	// DefaultPreviewWidth is the width of on-screen previews
	DefaultPreviewWidth = 450
)

// ImageDecodeError reports an input that could not be decoded as JPEG, PNG or WebP
type ImageDecodeError struct {
	Source string
	Err    error
}

func (e *ImageDecodeError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("decode image: %v", e.Err)
	}
	return fmt.Sprintf("decode image %s: %v", e.Source, e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

var errUnknownFormat = errors.New("unknown or unsupported format")

// ErrImageTooSmall is returned by ValidateImage
var ErrImageTooSmall = errors.New("image too small")

// Processor handles image processing operations
type Processor struct {
	httpClient *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	return &Processor{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// DecodeImage decodes JPEG, PNG or WebP data
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	return p.decode("", data)
}

func (p *Processor) decode(source string, data []byte) (image.Image, error) {
	// Try standard image.Decode first
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	// Try WebP decode
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}

	return nil, &ImageDecodeError{Source: source, Err: errUnknownFormat}
}

// LoadImageFromURL downloads and decodes an image from a URL
func (p *Processor) LoadImageFromURL(imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequest(http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "emoji-faces/1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}

	return p.decode(imageURL, data)
}

// LoadImage loads an image from a file path
func (p *Processor) LoadImage(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return p.decode(path, data)
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(source string) (image.Image, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return p.LoadImageFromURL(source)
	}
	return p.LoadImage(source)
}

// ImageInfo contains basic image metadata
type ImageInfo struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
}

// GetImageInfo returns basic information about an image
func (p *Processor) GetImageInfo(img image.Image) ImageInfo {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	info := ImageInfo{Width: width, Height: height}
	if height > 0 {
		info.AspectRatio = float64(width) / float64(height)
	}
	return info
}

// ValidateImage checks that both sides of img are at least minSize pixels
func (p *Processor) ValidateImage(img image.Image, minSize int) error {
	bounds := img.Bounds()
	if bounds.Dx() < minSize || bounds.Dy() < minSize {
		return fmt.Errorf("%w: %dx%d (minimum: %d)", ErrImageTooSmall, bounds.Dx(), bounds.Dy(), minSize)
	}
	return nil
}

// LimitHeight scales img down so that it is at most maxHeight pixels tall,
// keeping the aspect ratio. Smaller images and maxHeight <= 0 return img as is.
func (p *Processor) LimitHeight(img image.Image, maxHeight int) image.Image {
	if maxHeight <= 0 || img.Bounds().Dy() <= maxHeight {
		return img
	}
	return imaging.Resize(img, 0, maxHeight, imaging.Lanczos)
}

// Preview resizes img to the given width, keeping the aspect ratio
func (p *Processor) Preview(img image.Image, width int) image.Image {
	if width <= 0 {
		width = DefaultPreviewWidth
	}
	if img.Bounds().Dx() == width {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, width, 0, imaging.Lanczos)
}

// AnnotateFaces draws every box with an "ID n" label above it, n being the
// index used to select the face.
func (p *Processor) AnnotateFaces(img image.Image, boxes []types.BoundingBox) image.Image {
	dc := gg.NewContextForImage(img)
	b := img.Bounds()
	stroke := math.Max(2, 0.004*float64(minInt(b.Dx(), b.Dy())))

	for i, box := range boxes {
		x := float64(box.X1 - b.Min.X)
		y := float64(box.Y1 - b.Min.Y)

		dc.SetColor(color.NRGBA{0, 255, 0, 255})
		dc.SetLineWidth(stroke)
		dc.DrawRectangle(x, y, float64(box.Width()), float64(box.Height()))
		dc.Stroke()

		label := fmt.Sprintf("ID %d", i)
		tw, th := dc.MeasureString(label)
		ly := y - stroke
		if ly-th-4 < 0 {
			ly = y + th + 4
		}
		dc.SetColor(color.NRGBA{0, 0, 0, 180})
		dc.DrawRectangle(x, ly-th-4, tw+8, th+6)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(label, x+4, ly-2)
	}

	return dc.Image()
}

// PrepareImageForModel converts an image to base64 for sending to vision models
func (p *Processor) PrepareImageForModel(img image.Image, format string, maxDim int, quality int) (string, error) {
	if maxDim > 0 {
		b := img.Bounds()
		w, h := b.Dx(), b.Dy()
		if w > maxDim || h > maxDim {
			if w >= h {
				img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
			} else {
				img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
			}
		}
	}

	var buf bytes.Buffer
	switch strings.ToLower(format) {
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		if err := enc.Encode(&buf, img); err != nil {
			return "", err
		}
	default: // jpg
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return "", err
		}
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// NormalizeFormat maps user supplied format names to png, jpg or webp
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpg", nil
	case "webp":
		return "webp", nil
	}
	return "", fmt.Errorf("unsupported output format %q", format)
}

// ContentType returns the MIME type for a normalized format
func ContentType(format string) string {
	switch format {
	case "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	}
	return "image/png"
}

// Encode writes img to w. PNG is lossless; quality applies to JPEG and lossy WebP.
func (p *Processor) Encode(w io.Writer, img image.Image, opts types.OutputOptions) error {
	format, err := NormalizeFormat(opts.Format)
	if err != nil {
		return err
	}
	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = 92
	}

	switch format {
	case "webp":
		return webp.Encode(w, img, &webp.Options{Lossless: opts.Lossless, Quality: float32(quality)})
	case "jpg":
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	default:
		return imaging.Encode(w, img, imaging.PNG)
	}
}

// SaveImage encodes img into path, creating the parent directory if needed
func (p *Processor) SaveImage(img image.Image, path string, opts types.OutputOptions) error {
	if err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := p.Encode(f, img, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
