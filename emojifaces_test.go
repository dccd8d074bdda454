package emojifaces

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/emoji-faces/pkg/catalog"
	"github.com/menta2k/emoji-faces/pkg/compositor"
	"github.com/menta2k/emoji-faces/pkg/detection"
	"github.com/menta2k/emoji-faces/pkg/session"
	"github.com/menta2k/emoji-faces/pkg/types"
)

func solid(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testCatalog(t *testing.T) *catalog.Catalog {
	cat := catalog.New()
	cat.Add("red", types.ImageRef{Name: "red.png", Data: pngBytes(t, solid(8, 8, color.NRGBA{255, 0, 0, 255}))})
	cat.Add("empty")
	return cat
}

func TestNew(t *testing.T) {
	s := New(detection.Static{}, nil)
	require.NotNil(t, s)
	assert.Equal(t, 800, s.maxHeight)
	assert.Equal(t, 450, s.previewWidth)
	assert.NotNil(t, s.compositor)
	assert.Empty(t, s.Categories())
}

func TestOpenAndComposite(t *testing.T) {
	face := types.BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60}
	s := New(detection.Static{face}, testCatalog(t))

	sess, run, err := s.Open(context.Background(), solid(100, 100, color.White))
	require.NoError(t, err)
	require.Len(t, run.Boxes, 1)
	assert.Equal(t, []int{0}, run.Selected)

	out, err := s.Composite(sess, run.ID, "red")
	require.NoError(t, err)

	// side 30, anchored at (35, 34)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, out.NRGBAAt(50, 50))
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(5, 5))
}

func TestCompositeSelection(t *testing.T) {
	face := types.BoundingBox{X1: 40, Y1: 40, X2: 60, Y2: 60}
	s := New(detection.Static{face}, testCatalog(t))
	sess, run, err := s.Open(context.Background(), solid(100, 100, color.White))
	require.NoError(t, err)

	out, err := s.CompositeSelection(sess, run.ID, "red", types.NewSelection())
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 255, 255, 255}, out.NRGBAAt(50, 50))

	// The stored selection still covers the face
	out, err = s.Composite(sess, run.ID, "red")
	require.NoError(t, err)
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, out.NRGBAAt(50, 50))

	// An empty category wins over a bad index
	_, err = s.CompositeSelection(sess, run.ID, "empty", types.NewSelection(4))
	assert.ErrorIs(t, err, compositor.ErrEmptyCategory)
}

func TestOpenLimitsHeight(t *testing.T) {
	var seen image.Rectangle
	d := detection.Func(func(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
		seen = img.Bounds()
		return nil, nil
	})
	s := New(d, nil, WithMaxHeight(50))

	sess, run, err := s.Open(context.Background(), solid(200, 100, color.White))
	require.NoError(t, err)
	assert.True(t, run.NoFaces())
	assert.Equal(t, image.Rect(0, 0, 100, 50), seen)
	assert.Equal(t, seen, sess.Image().Bounds())
}

func TestOpenBytes(t *testing.T) {
	s := New(detection.Static{}, nil)

	_, _, err := s.OpenBytes(context.Background(), pngBytes(t, solid(10, 10, color.White)))
	assert.NoError(t, err)

	_, _, err = s.OpenBytes(context.Background(), []byte("not an image"))
	assert.Error(t, err)
}

func TestOpenDetectorError(t *testing.T) {
	boom := errors.New("backend down")
	d := detection.Func(func(ctx context.Context, img image.Image) ([]types.BoundingBox, error) {
		return nil, boom
	})
	_, _, err := New(d, nil).Open(context.Background(), solid(10, 10, color.White))
	assert.ErrorIs(t, err, boom)
}

func TestCompositeErrors(t *testing.T) {
	face := types.BoundingBox{X1: 10, Y1: 10, X2: 20, Y2: 20}
	s := New(detection.Static{face}, testCatalog(t))
	sess, run, err := s.Open(context.Background(), solid(50, 50, color.White))
	require.NoError(t, err)

	_, err = s.Composite(sess, run.ID, "missing")
	assert.ErrorIs(t, err, catalog.ErrUnknownCategory)

	_, err = s.Composite(sess, run.ID, "empty")
	assert.ErrorIs(t, err, compositor.ErrEmptyCategory)

	_, err = s.Composite(sess, "old-run", "red")
	assert.ErrorIs(t, err, session.ErrStaleRun)
}

func TestMergeCatalog(t *testing.T) {
	s := New(detection.Static{}, testCatalog(t))

	extra := catalog.New()
	extra.Add("blue", types.ImageRef{Name: "blue.png", Path: "/tmp/blue.png"})
	s.MergeCatalog(extra)

	assert.Equal(t, []catalog.Info{{Name: "blue", Count: 1}, {Name: "empty", Count: 0}, {Name: "red", Count: 1}}, s.Categories())

	pool, err := s.Pool("blue")
	require.NoError(t, err)
	assert.Equal(t, "blue.png", pool[0].Name)
}

func TestPreview(t *testing.T) {
	s := New(detection.Static{{X1: 10, Y1: 10, X2: 60, Y2: 60}}, nil, WithPreviewWidth(100))
	sess, _, err := s.Open(context.Background(), solid(400, 200, color.White))
	require.NoError(t, err)

	preview, err := s.Preview(sess)
	require.NoError(t, err)
	assert.Equal(t, 100, preview.Bounds().Dx())
	assert.Equal(t, 50, preview.Bounds().Dy())

	full, err := s.Annotate(sess)
	require.NoError(t, err)
	assert.Equal(t, 400, full.Bounds().Dx())
}

func TestEncode(t *testing.T) {
	s := New(detection.Static{}, nil)
	var buf bytes.Buffer
	require.NoError(t, s.Encode(&buf, solid(4, 4, color.Black), types.OutputOptions{Format: "png"}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}
