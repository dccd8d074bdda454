package rekognition

import "errors"

var (
	// ErrInvalidCredentials indicates that AWS credentials are invalid or missing
	ErrInvalidCredentials = errors.New("invalid or missing AWS credentials")

	// ErrInvalidImage indicates that Rekognition rejected the image data
	ErrInvalidImage = errors.New("invalid image for rekognition")

	// ErrImageTooLarge indicates the encoded image exceeds the API limit
	ErrImageTooLarge = errors.New("image too large for rekognition")

	// ErrThrottled indicates the request rate exceeded the account limits
	ErrThrottled = errors.New("rekognition request throttled")
)
