// Package emojifaces hides the faces in a photo behind randomly chosen emojis.
//
// A Studio ties together the pieces: a face detector, an emoji catalog and
// the compositor. Opening a photo starts a session holding the detected face
// boxes; the caller may narrow the selection and then composite with an
// emoji category.
//
// Basic usage:
//
//	cat, err := catalog.Load("./emojis")
//	if err != nil {
//		log.Fatal(err)
//	}
//	studio := emojifaces.New(detector, cat)
//
//	sess, run, err := studio.OpenSource(ctx, "party.jpg")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if run.NoFaces() {
//		log.Fatal("no faces detected")
//	}
//
//	out, err := studio.Composite(sess, run.ID, "animals")
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = studio.Save(out, "party_emojis.png", types.OutputOptions{Format: "png"})
//
// Every selected face gets one emoji. Within a category, emojis are drawn
// without repetition until the category is exhausted, then reshuffled.
package emojifaces

import (
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"

	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/compositor"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/processing"
	"github.com/menta2k/emoji-faces/pkg/session"
	"github.com/menta2k/emoji-faces/pkg/types"
)

// Version of the emoji-faces library
const Version = "1.0.0"

// Studio opens sessions on photos and composites emojis over their faces.
// It is safe for concurrent use.
type Studio struct {
	processor    *processing.Processor
	detector     detection.Detector
	compositor   session.Compositor
	logger       *slog.Logger
	maxHeight    int
	previewWidth int

	mu      sync.RWMutex
	catalog *catalog.Catalog
}

// Option configures a Studio
type Option func(*Studio)

// WithMaxHeight sets the height photos are reduced to before detection.
// Zero keeps the original size.
func WithMaxHeight(h int) Option {
	return func(s *Studio) {
		s.maxHeight = h
	}
}

// WithPreviewWidth sets the width of preview images
func WithPreviewWidth(w int) Option {
	return func(s *Studio) {
		s.previewWidth = w
	}
}

// WithCompositor replaces the default compositor
func WithCompositor(c session.Compositor) Option {
	return func(s *Studio) {
		s.compositor = c
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Studio) {
		s.logger = logger
	}
}

// New creates a Studio. A nil catalog starts empty.
func New(detector detection.Detector, cat *catalog.Catalog, opts ...Option) *Studio {
	if cat == nil {
		cat = catalog.New()
	}
	s := &Studio{
		processor:    processing.NewProcessor(),
		detector:     detector,
		logger:       slog.New(slog.DiscardHandler),
		maxHeight:    processing.DefaultMaxHeight,
		previewWidth: processing.DefaultPreviewWidth,
		catalog:      cat,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.compositor == nil {
		s.compositor = compositor.New(compositor.WithLogger(s.logger))
	}
	return s
}

// Open downscales img, starts a session and runs the first detection
func (s *Studio) Open(ctx context.Context, img image.Image) (*session.Session, session.Run, error) {
	if err := s.processor.ValidateImage(img, 1); err != nil {
		return nil, session.Run{}, err
	}

	img = s.processor.LimitHeight(img, s.maxHeight)
	sess := session.New(img, s.detector)

	run, err := sess.Detect(ctx)
	if err != nil {
		return nil, session.Run{}, err
	}

	info := s.processor.GetImageInfo(img)
	s.logger.Info("session opened",
		slog.String("session", sess.ID()),
		slog.String("run", run.ID),
		slog.Int("width", info.Width),
		slog.Int("height", info.Height),
		slog.Int("faces", len(run.Boxes)))

	return sess, run, nil
}

// OpenBytes decodes JPEG, PNG or WebP data and opens a session on it
func (s *Studio) OpenBytes(ctx context.Context, data []byte) (*session.Session, session.Run, error) {
	img, err := s.processor.DecodeImage(data)
	if err != nil {
		return nil, session.Run{}, err
	}
	return s.Open(ctx, img)
}

// OpenSource loads a photo from a file path or http(s) URL and opens a session on it
func (s *Studio) OpenSource(ctx context.Context, source string) (*session.Session, session.Run, error) {
	img, err := s.processor.LoadImageSmart(source)
	if err != nil {
		return nil, session.Run{}, err
	}
	return s.Open(ctx, img)
}

// Categories lists the emoji categories with their sizes
func (s *Studio) Categories() []catalog.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.Info()
}

// Pool returns the emojis of a category
func (s *Studio) Pool(category string) ([]types.ImageRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog.MustPool(category)
}

// MergeCatalog adds the categories and emojis of c to the served catalog.
// Existing emojis win over duplicates in c.
func (s *Studio) MergeCatalog(c *catalog.Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = s.catalog.Merge(c)
}

// Composite decorates the selected faces of run runID with emojis of category
func (s *Studio) Composite(sess *session.Session, runID, category string) (*image.NRGBA, error) {
	pool, err := s.Pool(category)
	if err != nil {
		return nil, err
	}

	out, err := sess.Composite(runID, pool, s.compositor)
	if err != nil {
		return nil, fmt.Errorf("composite session %s: %w", sess.ID(), err)
	}
	return out, nil
}

// CompositeSelection is Composite for the faces in sel, leaving the
// session's stored selection as it is.
func (s *Studio) CompositeSelection(sess *session.Session, runID, category string, sel types.Selection) (*image.NRGBA, error) {
	pool, err := s.Pool(category)
	if err != nil {
		return nil, err
	}

	out, err := sess.CompositeSelection(runID, sel, pool, s.compositor)
	if err != nil {
		return nil, fmt.Errorf("composite session %s: %w", sess.ID(), err)
	}
	return out, nil
}

// Annotate returns the session image with every face boxed and labelled
// with its index, at full size.
func (s *Studio) Annotate(sess *session.Session) (image.Image, error) {
	return sess.Annotated(s.processor.AnnotateFaces)
}

// Preview returns the annotated session image resized to the preview width
func (s *Studio) Preview(sess *session.Session) (image.Image, error) {
	annotated, err := s.Annotate(sess)
	if err != nil {
		return nil, err
	}
	return s.processor.Preview(annotated, s.previewWidth), nil
}

// Encode writes img to w in the requested format
func (s *Studio) Encode(w io.Writer, img image.Image, opts types.OutputOptions) error {
	return s.processor.Encode(w, img, opts)
}

// Save writes img to path in the requested format
func (s *Studio) Save(img image.Image, path string, opts types.OutputOptions) error {
	return s.processor.SaveImage(img, path, opts)
}
