package server

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/compositor"
	"github.com/menta2k/emoji-faces/pkg/processing"
	"github.com/menta2k/emoji-faces/pkg/session"
)

// AppError is an error with a stable code and the HTTP status it maps to
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Err        error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// WithError returns a copy of e carrying err as the cause
func (e *AppError) WithError(err error) *AppError {
	return &AppError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Err:        err,
	}
}

var (
	ErrInternal = &AppError{
		Code:       "INTERNAL_ERROR",
		Message:    "An unexpected error occurred",
		StatusCode: fiber.StatusInternalServerError,
	}

	ErrBadRequest = &AppError{
		Code:       "BAD_REQUEST",
		Message:    "Invalid request",
		StatusCode: fiber.StatusBadRequest,
	}

	ErrSessionMissing = &AppError{
		Code:       "SESSION_NOT_FOUND",
		Message:    "Session not found or expired",
		StatusCode: fiber.StatusNotFound,
	}

	ErrCategoryNotFound = &AppError{
		Code:       "CATEGORY_NOT_FOUND",
		Message:    "Emoji category not found",
		StatusCode: fiber.StatusNotFound,
	}

	ErrRunConflict = &AppError{
		Code:       "STALE_RUN",
		Message:    "Faces were detected again, reload the session",
		StatusCode: fiber.StatusConflict,
	}

	ErrInvalidImage = &AppError{
		Code:       "INVALID_IMAGE",
		Message:    "Invalid image format or corrupted file",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrInvalidArchive = &AppError{
		Code:       "INVALID_ARCHIVE",
		Message:    "Emoji archive could not be read",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrArchiveTooLarge = &AppError{
		Code:       "ARCHIVE_TOO_LARGE",
		Message:    "Emoji archive expands beyond the allowed size",
		StatusCode: fiber.StatusRequestEntityTooLarge,
	}

	ErrRateLimitExceeded = &AppError{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    "Too many uploads, try again later",
		StatusCode: fiber.StatusTooManyRequests,
	}

	ErrNoFaceDetected = &AppError{
		Code:       "NO_FACE_DETECTED",
		Message:    "No face detected in the image",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrEmptyCategory = &AppError{
		Code:       "EMPTY_CATEGORY",
		Message:    "Emoji category has no images",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrInvalidSelection = &AppError{
		Code:       "INVALID_SELECTION",
		Message:    "Selected face index is out of range",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrValidationFailed = &AppError{
		Code:       "VALIDATION_FAILED",
		Message:    "Request validation failed",
		StatusCode: fiber.StatusUnprocessableEntity,
	}

	ErrDetectionFailed = &AppError{
		Code:       "DETECTION_FAILED",
		Message:    "Face detector is unavailable",
		StatusCode: fiber.StatusBadGateway,
	}

	ErrSessionLimit = &AppError{
		Code:       "SESSION_LIMIT",
		Message:    "Too many open sessions, try again later",
		StatusCode: fiber.StatusServiceUnavailable,
	}
)

// MapError translates domain errors into AppErrors. Errors that are already
// AppErrors pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return err
	}

	var (
		decodeErr    *processing.ImageDecodeError
		selectionErr *compositor.InvalidSelectionError
	)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrSessionMissing.WithError(err)
	case errors.Is(err, ErrStoreFull):
		return ErrSessionLimit.WithError(err)
	case errors.Is(err, catalog.ErrUnknownCategory):
		return ErrCategoryNotFound.WithError(err)
	case errors.Is(err, session.ErrStaleRun), errors.Is(err, session.ErrNotDetected):
		return ErrRunConflict.WithError(err)
	case errors.Is(err, session.ErrNoFaces):
		return ErrNoFaceDetected.WithError(err)
	case errors.Is(err, compositor.ErrEmptyCategory):
		return ErrEmptyCategory.WithError(err)
	case errors.As(err, &selectionErr):
		return ErrInvalidSelection.WithError(err)
	case errors.As(err, &decodeErr), errors.Is(err, processing.ErrImageTooSmall):
		return ErrInvalidImage.WithError(err)
	}
	return ErrInternal.WithError(err)
}
