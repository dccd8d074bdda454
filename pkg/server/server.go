// Package server exposes a Studio over HTTP.
//
// A client uploads a photo to open a session, fetches a preview with face
// IDs drawn in, optionally narrows the face selection, and asks for a
// composite in an emoji category. Sessions are kept in memory and expire
// after a period without access.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/menta2k/emoji-faces/internal/config"
)

// Server owns the fiber app and the session store
type Server struct {
	app    *fiber.App
	store  *Store
	cfg    config.ServerConfig
	logger *slog.Logger
}

// New builds the app and registers every route
func New(studio Studio, cfg config.ServerConfig, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler:          ErrorHandler(logger),
		AppName:               "emoji-faces",
		BodyLimit:             bodyLimit(cfg.MaxUploadSize),
		DisableStartupMessage: cfg.IsProduction(),
		EnablePrintRoutes:     cfg.IsDevelopment(),
	})

	s := &Server{
		app:    app,
		store:  NewStore(cfg.SessionTTL, cfg.MaxSessions),
		cfg:    cfg,
		logger: logger,
	}
	s.routes(NewHandler(studio, s.store, cfg.MaxUploadSize, version, logger))
	return s
}

func (s *Server) routes(h *Handler) {
	s.app.Use(requestid.New())
	s.app.Use(Recover(s.logger))
	s.app.Use(Logger(s.logger))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Uploads decode images and archives, so they share one per-client budget
	var limit fiber.Handler
	if s.cfg.UploadRateLimit > 0 {
		limit = UploadLimiter(s.cfg.UploadRateLimit)
	}
	upload := func(h fiber.Handler) []fiber.Handler {
		if limit == nil {
			return []fiber.Handler{h}
		}
		return []fiber.Handler{limit, h}
	}

	s.app.Get("/health", h.Health)

	v1 := s.app.Group("/v1")
	v1.Get("/categories", h.ListCategories)
	v1.Post("/catalog", upload(h.UploadCatalog)...)

	sessions := v1.Group("/sessions")
	sessions.Post("", upload(h.CreateSession)...)
	sessions.Get("/:id", h.GetSession)
	sessions.Delete("/:id", h.DeleteSession)
	sessions.Get("/:id/preview", h.Preview)
	sessions.Put("/:id/selection", h.UpdateSelection)
	sessions.Post("/:id/composite", h.Composite)
}

// App returns the fiber app, for tests and embedding
func (s *Server) App() *fiber.App {
	return s.app
}

// Store returns the session store
func (s *Server) Store() *Store {
	return s.store
}

// Run serves on the configured port until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	s.store.StartJanitor(janitorInterval(s.cfg.SessionTTL))
	defer s.store.Stop()

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", s.cfg.Port)
		s.logger.Info("server starting", slog.String("addr", addr), slog.String("env", s.cfg.Environment))
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.app.ShutdownWithContext(shutdownCtx)
}

func bodyLimit(maxUpload int) int {
	// Leave room for the multipart envelope around the file
	if maxUpload <= 0 {
		return 4 * 1024 * 1024
	}
	return maxUpload + 1024*1024
}

func janitorInterval(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return time.Minute
	}
	if i := ttl / 4; i < time.Minute {
		return i
	}
	return time.Minute
}
