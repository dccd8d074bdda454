package types

import (
	"fmt"
	"image"
	"sort"
	"strconv"
	"strings"
)

// Box represents a normalized bounding box with coordinates in [0,1] range
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// ToPixels converts a normalized box to pixel coordinates of a w x h image.
// Coordinates are clamped to the image bounds.
func (b Box) ToPixels(w, h int) BoundingBox {
	fw, fh := float64(w), float64(h)
	x1 := int(clamp(b.X, 0, 1)*fw + 0.5)
	y1 := int(clamp(b.Y, 0, 1)*fh + 0.5)
	x2 := int(clamp(b.X+b.W, 0, 1)*fw + 0.5)
	y2 := int(clamp(b.Y+b.H, 0, 1)*fh + 0.5)
	return NewBoundingBox(x1, y1, x2, y2)
}

// BoundingBox is an axis-aligned face region in pixel coordinates.
// X1 <= X2 and Y1 <= Y2 always hold for values built with NewBoundingBox.
type BoundingBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// NewBoundingBox builds a box from two corners in any order
func NewBoundingBox(x1, y1, x2, y2 int) BoundingBox {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}
	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// FromRect converts an image.Rectangle to a BoundingBox
func FromRect(r image.Rectangle) BoundingBox {
	r = r.Canon()
	return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Max.X, Y2: r.Max.Y}
}

// Width returns the horizontal extent of the box
func (b BoundingBox) Width() int {
	return b.X2 - b.X1
}

// Height returns the vertical extent of the box
func (b BoundingBox) Height() int {
	return b.Y2 - b.Y1
}

// Rect returns the box as an image.Rectangle
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X1, b.Y1, b.X2, b.Y2)
}

// ClampTo restricts the box to the given bounds
func (b BoundingBox) ClampTo(bounds image.Rectangle) BoundingBox {
	r := b.Rect().Intersect(bounds)
	if r.Empty() {
		return BoundingBox{X1: r.Min.X, Y1: r.Min.Y, X2: r.Min.X, Y2: r.Min.Y}
	}
	return FromRect(r)
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%d,%d)-(%d,%d)", b.X1, b.Y1, b.X2, b.Y2)
}

// ImageRef points at an emoji image either on disk (Path) or in memory (Data).
// Name is the file name and is the de-duplication key inside a category.
type ImageRef struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"-"`
}

// Source returns a human readable location for error messages
func (r ImageRef) Source() string {
	if r.Path != "" {
		return r.Path
	}
	return r.Name
}

// Selection is a set of box indices chosen for decoration
type Selection map[int]struct{}

// SelectAll returns a selection holding every index in [0, n)
func SelectAll(n int) Selection {
	s := make(Selection, n)
	for i := 0; i < n; i++ {
		s[i] = struct{}{}
	}
	return s
}

// NewSelection builds a selection from a list of indices
func NewSelection(indices ...int) Selection {
	s := make(Selection, len(indices))
	for _, i := range indices {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether index i is selected
func (s Selection) Has(i int) bool {
	_, ok := s[i]
	return ok
}

// Indices returns the selected indices in ascending order
func (s Selection) Indices() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// ParseSelection parses "all", "" or a comma separated list like "0,2,5".
// "all" and the empty string select every index in [0, n).
func ParseSelection(expr string, n int) (Selection, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "all") {
		return SelectAll(n), nil
	}
	s := Selection{}
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid face index %q: %w", part, err)
		}
		s[i] = struct{}{}
	}
	return s, nil
}

// FaceLocation is a face reported by a vision model in normalized coordinates
type FaceLocation struct {
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence"`
}

// FaceAnalysis contains the faces a vision model located in an image
type FaceAnalysis struct {
	Faces       []FaceLocation `json:"faces"`
	Description string         `json:"description"`
}

// OutputOptions controls how composited images are exported
type OutputOptions struct {
	Format   string
	Quality  int
	Lossless bool
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
