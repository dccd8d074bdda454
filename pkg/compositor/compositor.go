// Package compositor pastes emoji images over detected faces.
//
// Emojis are drawn from a category pool in shuffled passes so that no emoji
// repeats until the whole pool has been used. Each emoji is scaled to a square
// of side round(1.5 × face height), centred horizontally over the face and
// lifted by a fifth of its side so it sits mostly above the face box.
package compositor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/disintegration/imaging"

	"github.com/menta2k/emoji-faces/pkg/rotation"
	"github.com/menta2k/emoji-faces/pkg/types"
)

const (
	// ScaleFactor is the emoji side length relative to the face box height
	ScaleFactor = 1.5
	// LiftDivisor sets how far above the face top the emoji starts (side / LiftDivisor)
	LiftDivisor = 5
)

// ErrEmptyCategory is returned when the emoji pool has no usable files
var ErrEmptyCategory = errors.New("emoji category is empty")

// EmojiLoadError reports an emoji file that could not be opened or decoded
type EmojiLoadError struct {
	Path string
	Err  error
}

func (e *EmojiLoadError) Error() string {
	return fmt.Sprintf("failed to load emoji %s: %v", e.Path, e.Err)
}

func (e *EmojiLoadError) Unwrap() error {
	return e.Err
}

// InvalidSelectionError reports a selected index outside the detected boxes
type InvalidSelectionError struct {
	Index int
	Count int
}

func (e *InvalidSelectionError) Error() string {
	return fmt.Sprintf("face index %d out of range [0, %d)", e.Index, e.Count)
}

// Loader decodes an emoji reference into an image with an alpha channel
type Loader interface {
	Load(ref types.ImageRef) (image.Image, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(ref types.ImageRef) (image.Image, error)

// Load calls f(ref)
func (f LoaderFunc) Load(ref types.ImageRef) (image.Image, error) {
	return f(ref)
}

// Placement is where and how large an emoji is pasted for one face
type Placement struct {
	Side int
	At   image.Point
}

// Compositor overlays emojis on faces. It holds no per-call state; every
// Composite call gets its own rotation pool and its own image copy.
type Compositor struct {
	loader Loader
	seed   func() *rand.Rand
	logger *slog.Logger
}

// Option configures a Compositor
type Option func(*Compositor)

// WithLoader replaces the default file/bytes emoji loader
func WithLoader(l Loader) Option {
	return func(c *Compositor) {
		c.loader = l
	}
}

// WithRand makes each Composite call draw from rng
func WithRand(rng *rand.Rand) Option {
	return func(c *Compositor) {
		c.seed = func() *rand.Rand { return rng }
	}
}

// WithLogger sets the logger used for per-paste debug output
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compositor) {
		c.logger = logger
	}
}

// New creates a Compositor
func New(opts ...Option) *Compositor {
	c := &Compositor{
		loader: LoaderFunc(LoadEmoji),
		seed:   func() *rand.Rand { return nil },
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Composite returns a copy of base with one emoji pasted over every selected
// box. base is never modified. On any error no image is returned.
func (c *Compositor) Composite(base image.Image, boxes []types.BoundingBox, selected types.Selection, pool []types.ImageRef) (*image.NRGBA, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyCategory
	}
	if err := ValidateSelection(selected, len(boxes)); err != nil {
		return nil, err
	}

	draws := rotation.New(pool, c.seed())
	out := imaging.Clone(base)

	for i, box := range boxes {
		if !selected.Has(i) {
			continue
		}

		ref, err := draws.Next()
		if err != nil {
			return nil, err
		}

		p := PlacementFor(box)
		if p.Side <= 0 {
			continue
		}

		emoji, err := c.loader.Load(ref)
		if err != nil {
			return nil, &EmojiLoadError{Path: ref.Source(), Err: err}
		}

		scaled := imaging.Resize(emoji, p.Side, p.Side, imaging.Lanczos)
		out = imaging.Overlay(out, scaled, p.At, 1.0)

		c.logger.Debug("pasted emoji",
			slog.Int("face", i),
			slog.String("emoji", ref.Name),
			slog.Int("side", p.Side),
			slog.Int("x", p.At.X),
			slog.Int("y", p.At.Y),
		)
	}

	return out, nil
}

// PlacementFor computes the emoji side length and paste anchor for a face box.
// Only the top edge is clamped; the anchor may lie left of, right of or below
// the canvas.
func PlacementFor(box types.BoundingBox) Placement {
	side := int(math.Round(float64(box.Height()) * ScaleFactor))
	x := box.X1 + floorDiv(box.Width()-side, 2)
	y := box.Y1 - floorDiv(side, LiftDivisor)
	if y < 0 {
		y = 0
	}
	return Placement{Side: side, At: image.Pt(x, y)}
}

// ValidateSelection checks every selected index against the number of boxes
func ValidateSelection(selected types.Selection, count int) error {
	for _, i := range selected.Indices() {
		if i < 0 || i >= count {
			return &InvalidSelectionError{Index: i, Count: count}
		}
	}
	return nil
}

// LoadEmoji decodes an emoji from its in-memory bytes or from disk
func LoadEmoji(ref types.ImageRef) (image.Image, error) {
	if ref.Data != nil {
		return imaging.Decode(bytes.NewReader(ref.Data))
	}
	if ref.Path == "" {
		return nil, errors.New("emoji has neither path nor data")
	}
	return imaging.Open(ref.Path)
}

// floorDiv divides rounding toward negative infinity
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
