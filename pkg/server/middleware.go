package server

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func errorBody(code, message string) fiber.Map {
	return fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": message,
		},
	}
}

// ErrorHandler writes every error as {"error":{"code","message"}}
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(errorBody("HTTP_ERROR", fiberErr.Message))
		}

		var appErr *AppError
		if !errors.As(MapError(err), &appErr) {
			appErr = ErrInternal.WithError(err)
		}

		if appErr.StatusCode >= 500 {
			logger.Error("request failed",
				slog.String("code", appErr.Code),
				slog.String("path", c.Path()),
				slog.Any("error", appErr.Err),
			)
		}

		return c.Status(appErr.StatusCode).JSON(errorBody(appErr.Code, appErr.Message))
	}
}

// Recover turns a panic in a handler into a 500 response
func Recover(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered",
					slog.Any("panic", r),
					slog.String("path", c.Path()),
					slog.String("method", c.Method()),
				)

				_ = c.Status(fiber.StatusInternalServerError).JSON(errorBody(ErrInternal.Code, ErrInternal.Message))
			}
		}()
		return c.Next()
	}
}

// Logger logs one line per request, at warn for 4xx and error for 5xx
func Logger(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		// The error handler has not run yet, so take the status from the error
		status := c.Response().StatusCode()
		if err != nil {
			var appErr *AppError
			var fiberErr *fiber.Error
			switch {
			case errors.As(err, &fiberErr):
				status = fiberErr.Code
			case errors.As(MapError(err), &appErr):
				status = appErr.StatusCode
			}
		}

		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}

		logger.Log(c.Context(), level, "http request",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.IP()),
			slog.String("request_id", c.GetRespHeader(fiber.HeaderXRequestID)),
		)

		return err
	}
}

// UploadLimiter allows perMinute requests per client IP, answering the rest
// with RATE_LIMIT_EXCEEDED
func UploadLimiter(perMinute int) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        perMinute,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, "60")
			return ErrRateLimitExceeded
		},
	})
}
