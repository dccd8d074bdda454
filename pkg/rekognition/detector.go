// Package rekognition detects faces with the AWS Rekognition DetectFaces API.
package rekognition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	rtypes "github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
	"github.com/disintegration/imaging"

	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/types"
)

const (
	errCodeAccessDenied       = "AccessDeniedException"
	errCodeInvalidParameter   = "InvalidParameterException"
	errCodeInvalidImageFormat = "InvalidImageFormatException"
	errCodeImageTooLarge      = "ImageTooLargeException"
	errCodeThrottling         = "ThrottlingException"
	errCodeThroughput         = "ProvisionedThroughputExceededException"

	// maxImageSize is the largest inline image DetectFaces accepts (5MB)
	maxImageSize = 5 * 1024 * 1024
)

// API is the subset of the Rekognition client used for detection
type API interface {
	DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

// Config holds configuration for the Rekognition detector
type Config struct {
	// Region is the AWS region of the Rekognition endpoint (e.g., "us-east-1")
	Region string

	// MinConfidence drops faces Rekognition is less sure about, in percent
	MinConfidence float64
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		Region:        "us-east-1",
		MinConfidence: 90,
	}
}

// Detector implements detection.Detector on top of Rekognition
type Detector struct {
	api    API
	config Config
	logger *slog.Logger
}

var _ detection.Detector = (*Detector)(nil)

// NewDetector creates a detector using the AWS default credential chain
func NewDetector(ctx context.Context, cfg Config, logger *slog.Logger) (*Detector, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewDetectorWithAPI(rekognition.NewFromConfig(awsCfg), cfg, logger), nil
}

// NewDetectorWithAPI creates a detector around an existing API client
func NewDetectorWithAPI(api API, cfg Config, logger *slog.Logger) *Detector {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Detector{api: api, config: cfg, logger: logger}
}

// Detect sends img as JPEG and returns the faces above the confidence threshold
func (d *Detector) Detect(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	if buf.Len() > maxImageSize {
		return nil, fmt.Errorf("%w: %d bytes, maximum %d", ErrImageTooLarge, buf.Len(), maxImageSize)
	}

	output, err := d.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      &rtypes.Image{Bytes: buf.Bytes()},
		Attributes: []rtypes.Attribute{rtypes.AttributeDefault},
	})
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", mapError(err))
	}

	boxes := FaceDetailsToBoxes(output.FaceDetails, img.Bounds(), d.config.MinConfidence)
	d.logger.Debug("rekognition detection",
		slog.Int("reported", len(output.FaceDetails)),
		slog.Int("kept", len(boxes)))

	return boxes, nil
}

// FaceDetailsToBoxes converts Rekognition's ratio boxes to pixel boxes
func FaceDetailsToBoxes(details []rtypes.FaceDetail, bounds image.Rectangle, minConfidence float64) []types.BoundingBox {
	faces := make([]types.FaceLocation, 0, len(details))
	for _, detail := range details {
		if detail.BoundingBox == nil {
			continue
		}
		confidence := float64(aws.ToFloat32(detail.Confidence))
		if confidence < minConfidence {
			continue
		}
		bb := detail.BoundingBox
		faces = append(faces, types.FaceLocation{
			Box: types.Box{
				X: float64(aws.ToFloat32(bb.Left)),
				Y: float64(aws.ToFloat32(bb.Top)),
				W: float64(aws.ToFloat32(bb.Width)),
				H: float64(aws.ToFloat32(bb.Height)),
			},
		})
	}
	return detection.FacesToBoxes(faces, bounds, 0)
}

// mapError translates AWS API error codes to package errors
func mapError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}

	switch apiErr.ErrorCode() {
	case errCodeAccessDenied:
		return ErrInvalidCredentials
	case errCodeInvalidParameter, errCodeInvalidImageFormat:
		return fmt.Errorf("%w: %s", ErrInvalidImage, apiErr.ErrorMessage())
	case errCodeImageTooLarge:
		return ErrImageTooLarge
	case errCodeThrottling, errCodeThroughput:
		return ErrThrottled
	}
	return err
}
