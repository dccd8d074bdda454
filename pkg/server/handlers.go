package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"

	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/processing"
	"github.com/menta2k/emoji-faces/pkg/session"
	"github.com/menta2k/emoji-faces/pkg/types"
)

var validImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

var validArchiveTypes = map[string]bool{
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/octet-stream":     true,
}

// Studio is what the handlers need from an emojifaces.Studio
type Studio interface {
	OpenBytes(ctx context.Context, data []byte) (*session.Session, session.Run, error)
	Categories() []catalog.Info
	MergeCatalog(c *catalog.Catalog)
	Composite(sess *session.Session, runID, category string) (*image.NRGBA, error)
	CompositeSelection(sess *session.Session, runID, category string, sel types.Selection) (*image.NRGBA, error)
	Preview(sess *session.Session) (image.Image, error)
	Encode(w io.Writer, img image.Image, opts types.OutputOptions) error
}

// Handler serves the emoji-faces API
type Handler struct {
	studio        Studio
	store         *Store
	maxUploadSize int
	version       string
	logger        *slog.Logger
}

// NewHandler creates a Handler
func NewHandler(studio Studio, store *Store, maxUploadSize int, version string, logger *slog.Logger) *Handler {
	return &Handler{
		studio:        studio,
		store:         store,
		maxUploadSize: maxUploadSize,
		version:       version,
		logger:        logger,
	}
}

// HealthResponse response for the health endpoint
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	Sessions int    `json:"sessions"`
}

// CategoriesResponse response for the categories endpoint
type CategoriesResponse struct {
	Categories []catalog.Info `json:"categories"`
}

// SessionResponse describes a session and its current detection run
type SessionResponse struct {
	SessionID string              `json:"session_id"`
	RunID     string              `json:"run_id"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Faces     []types.BoundingBox `json:"faces"`
	Selected  []int               `json:"selected"`
	NoFaces   bool                `json:"no_faces"`
}

// SelectionRequest body of the selection endpoint
type SelectionRequest struct {
	RunID    string `json:"run_id"`
	Selected []int  `json:"selected"`
}

// CompositeRequest body of the composite endpoint. A nil Selected uses the
// session's stored selection; a non-nil one applies to this request only.
type CompositeRequest struct {
	RunID    string `json:"run_id"`
	Category string `json:"category"`
	Selected *[]int `json:"selected,omitempty"`
	Format   string `json:"format,omitempty"`
	Quality  int    `json:"quality,omitempty"`
	Lossless bool   `json:"lossless,omitempty"`
}

func newSessionResponse(sess *session.Session, run session.Run) SessionResponse {
	b := sess.Image().Bounds()
	faces := run.Boxes
	if faces == nil {
		faces = []types.BoundingBox{}
	}
	selected := run.Selected
	if selected == nil {
		selected = []int{}
	}
	return SessionResponse{
		SessionID: sess.ID(),
		RunID:     run.ID,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Faces:     faces,
		Selected:  selected,
		NoFaces:   run.NoFaces(),
	}
}

// Health GET /health
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:   "ok",
		Version:  h.version,
		Sessions: h.store.Len(),
	})
}

// ListCategories GET /v1/categories
func (h *Handler) ListCategories(c *fiber.Ctx) error {
	return c.JSON(CategoriesResponse{Categories: h.studio.Categories()})
}

// CreateSession POST /v1/sessions - upload a photo and detect its faces
func (h *Handler) CreateSession(c *fiber.Ctx) error {
	data, err := h.readUpload(c, "image", validImageTypes, ErrInvalidImage)
	if err != nil {
		return err
	}

	sess, run, err := h.studio.OpenBytes(c.UserContext(), data)
	if err != nil {
		mapped := MapError(err)
		var appErr *AppError
		if errors.As(mapped, &appErr) && appErr.Code == ErrInternal.Code {
			// Decoding succeeded, so what is left is the detector
			return ErrDetectionFailed.WithError(err)
		}
		return mapped
	}

	if err := h.store.Put(sess); err != nil {
		return err
	}

	h.logger.Info("session created",
		slog.String("session_id", sess.ID()),
		slog.Int("faces", len(run.Boxes)),
	)

	return c.Status(fiber.StatusCreated).JSON(newSessionResponse(sess, run))
}

// GetSession GET /v1/sessions/:id
func (h *Handler) GetSession(c *fiber.Ctx) error {
	sess, err := h.store.Get(c.Params("id"))
	if err != nil {
		return err
	}
	run, err := sess.Run()
	if err != nil {
		return err
	}
	return c.JSON(newSessionResponse(sess, run))
}

// Preview GET /v1/sessions/:id/preview - PNG with face IDs drawn
func (h *Handler) Preview(c *fiber.Ctx) error {
	sess, err := h.store.Get(c.Params("id"))
	if err != nil {
		return err
	}

	img, err := h.studio.Preview(sess)
	if err != nil {
		return err
	}

	return h.sendImage(c, img, types.OutputOptions{Format: "png"})
}

// UpdateSelection PUT /v1/sessions/:id/selection
func (h *Handler) UpdateSelection(c *fiber.Ctx) error {
	sess, err := h.store.Get(c.Params("id"))
	if err != nil {
		return err
	}

	var req SelectionRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest.WithError(err)
	}
	if req.RunID == "" {
		return ErrValidationFailed.WithError(errors.New("run_id is required"))
	}

	run, err := sess.Select(req.RunID, req.Selected)
	if err != nil {
		return err
	}
	return c.JSON(newSessionResponse(sess, run))
}

// Composite POST /v1/sessions/:id/composite - returns the decorated image
func (h *Handler) Composite(c *fiber.Ctx) error {
	sess, err := h.store.Get(c.Params("id"))
	if err != nil {
		return err
	}

	var req CompositeRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest.WithError(err)
	}
	if req.RunID == "" || req.Category == "" {
		return ErrValidationFailed.WithError(errors.New("run_id and category are required"))
	}

	format := "png"
	if req.Format != "" {
		if format, err = processing.NormalizeFormat(req.Format); err != nil {
			return ErrValidationFailed.WithError(err)
		}
	}

	var out *image.NRGBA
	if req.Selected != nil {
		out, err = h.studio.CompositeSelection(sess, req.RunID, req.Category, types.NewSelection(*req.Selected...))
	} else {
		out, err = h.studio.Composite(sess, req.RunID, req.Category)
	}
	if err != nil {
		return err
	}

	return h.sendImage(c, out, types.OutputOptions{
		Format:   format,
		Quality:  req.Quality,
		Lossless: req.Lossless,
	})
}

// DeleteSession DELETE /v1/sessions/:id
func (h *Handler) DeleteSession(c *fiber.Ctx) error {
	if err := h.store.Delete(c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadCatalog POST /v1/catalog - merge a zip of category folders
func (h *Handler) UploadCatalog(c *fiber.Ctx) error {
	data, err := h.readUpload(c, "archive", validArchiveTypes, ErrInvalidArchive)
	if err != nil {
		return err
	}

	cat, err := catalog.LoadZip(data)
	if errors.Is(err, catalog.ErrArchiveTooLarge) {
		return ErrArchiveTooLarge.WithError(err)
	}
	if err != nil {
		return ErrInvalidArchive.WithError(err)
	}

	h.studio.MergeCatalog(cat)
	h.logger.Info("catalog merged", slog.Int("categories", cat.Len()))

	return c.JSON(CategoriesResponse{Categories: h.studio.Categories()})
}

func (h *Handler) sendImage(c *fiber.Ctx, img image.Image, opts types.OutputOptions) error {
	var buf bytes.Buffer
	if err := h.studio.Encode(&buf, img, opts); err != nil {
		return ErrInternal.WithError(err)
	}
	c.Set(fiber.HeaderContentType, processing.ContentType(opts.Format))
	return c.Send(buf.Bytes())
}

func (h *Handler) readUpload(c *fiber.Ctx, field string, allowed map[string]bool, invalid *AppError) ([]byte, error) {
	file, err := c.FormFile(field)
	if err != nil {
		return nil, ErrValidationFailed.WithError(err)
	}

	if file.Size == 0 || (h.maxUploadSize > 0 && file.Size > int64(h.maxUploadSize)) {
		return nil, invalid.WithError(nil)
	}

	if ct := file.Header.Get(fiber.HeaderContentType); ct != "" && !allowed[ct] {
		return nil, invalid.WithError(nil)
	}

	return readFormFile(file, invalid)
}

func readFormFile(file *multipart.FileHeader, invalid *AppError) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, invalid.WithError(err)
	}
	defer func() {
		_ = f.Close()
	}()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, invalid.WithError(err)
	}
	return data, nil
}
