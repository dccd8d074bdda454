// Package session tracks one photo through detection, face selection and
// compositing.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/menta2k/emoji-faces/pkg/compositor"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/types"
)

var (
	// ErrNotDetected is returned when faces are used before any detection ran
	ErrNotDetected = errors.New("faces have not been detected yet")

	// ErrStaleRun is returned when a request names a run that is not the current one
	ErrStaleRun = errors.New("detection run is no longer current")

	// ErrNoFaces is returned when compositing is requested for a run without faces
	ErrNoFaces = errors.New("no faces detected")
)

// Compositor pastes emojis over the selected boxes of an image
type Compositor interface {
	Composite(base image.Image, boxes []types.BoundingBox, selected types.Selection, pool []types.ImageRef) (*image.NRGBA, error)
}

var _ Compositor = (*compositor.Compositor)(nil)

// Run is a snapshot of the current detection run
type Run struct {
	ID       string              `json:"run_id"`
	Boxes    []types.BoundingBox `json:"faces"`
	Selected []int               `json:"selected"`
}

// NoFaces reports whether the run found nothing to decorate
func (r Run) NoFaces() bool {
	return len(r.Boxes) == 0
}

// Session holds one image and the state of its latest detection run.
// It is safe for concurrent use.
type Session struct {
	id        string
	image     image.Image
	detector  detection.Detector
	createdAt time.Time

	mu        sync.Mutex
	runID     string
	boxes     []types.BoundingBox
	selection types.Selection
	lastUsed  time.Time
}

// New creates a session for img. Images whose bounds do not start at the
// origin are copied so that box coordinates and pixel offsets agree.
func New(img image.Image, detector detection.Detector) *Session {
	if img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}
	now := time.Now()
	return &Session{
		id:        uuid.NewString(),
		image:     img,
		detector:  detector,
		createdAt: now,
		lastUsed:  now,
	}
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// Image returns the session's base image. Callers must not modify it.
func (s *Session) Image() image.Image {
	return s.image
}

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// LastUsed returns when the session was last touched by an operation
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Detect runs the detector and starts a new run. The selection is reset to
// every detected face. Zero faces is a valid run.
func (s *Session) Detect(ctx context.Context) (Run, error) {
	boxes, err := s.detector.Detect(ctx, s.image)
	if err != nil {
		return Run{}, fmt.Errorf("detect faces: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runID = uuid.NewString()
	s.boxes = boxes
	s.selection = types.SelectAll(len(boxes))
	s.lastUsed = time.Now()

	return s.snapshot(), nil
}

// Run returns the current run
func (s *Session) Run() (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runID == "" {
		return Run{}, ErrNotDetected
	}
	return s.snapshot(), nil
}

// Select replaces the selection of run runID. Every index must be valid for
// that run's boxes.
func (s *Session) Select(runID string, indices []int) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRun(runID); err != nil {
		return Run{}, err
	}

	sel := types.NewSelection(indices...)
	if err := compositor.ValidateSelection(sel, len(s.boxes)); err != nil {
		return Run{}, err
	}

	s.selection = sel
	s.lastUsed = time.Now()
	return s.snapshot(), nil
}

// Composite decorates the selected faces of run runID with emojis from pool
func (s *Session) Composite(runID string, pool []types.ImageRef, c Compositor) (*image.NRGBA, error) {
	return s.composite(runID, nil, pool, c)
}

// CompositeSelection decorates the faces in sel instead of the stored
// selection, which is left untouched. Indices are checked against the run's
// boxes by the compositor.
func (s *Session) CompositeSelection(runID string, sel types.Selection, pool []types.ImageRef, c Compositor) (*image.NRGBA, error) {
	if sel == nil {
		sel = types.Selection{}
	}
	return s.composite(runID, sel, pool, c)
}

// composite uses sel, or the stored selection when sel is nil
func (s *Session) composite(runID string, sel types.Selection, pool []types.ImageRef, c Compositor) (*image.NRGBA, error) {
	s.mu.Lock()
	if err := s.checkRun(runID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(s.boxes) == 0 {
		s.mu.Unlock()
		return nil, ErrNoFaces
	}
	if sel == nil {
		sel = s.selection
	}
	boxes := s.boxes
	selected := make(types.Selection, len(sel))
	for i := range sel {
		selected[i] = struct{}{}
	}
	s.lastUsed = time.Now()
	s.mu.Unlock()

	// A run's boxes slice is replaced by Detect, never written in place
	return c.Composite(s.image, boxes, selected, pool)
}

// Annotated returns the base image with every face of the current run
// outlined and labelled by index.
func (s *Session) Annotated(annotate func(image.Image, []types.BoundingBox) image.Image) (image.Image, error) {
	run, err := s.Run()
	if err != nil {
		return nil, err
	}
	return annotate(s.image, run.Boxes), nil
}

func (s *Session) checkRun(runID string) error {
	if s.runID == "" {
		return ErrNotDetected
	}
	if runID != s.runID {
		return fmt.Errorf("%w: %s", ErrStaleRun, runID)
	}
	return nil
}

func (s *Session) snapshot() Run {
	boxes := make([]types.BoundingBox, len(s.boxes))
	copy(boxes, s.boxes)
	return Run{
		ID:       s.runID,
		Boxes:    boxes,
		Selected: s.selection.Indices(),
	}
}
