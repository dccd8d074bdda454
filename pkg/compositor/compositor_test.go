package compositor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/menta2k/emoji-faces/pkg/types"
)

// createTestImage creates an opaque gray canvas
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{100, 100, 100, 255})
		}
	}
	return img
}

func solid(c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// recordingLoader returns solid red emojis and remembers the draw order
type recordingLoader struct {
	calls []string
	color color.NRGBA
}

func (l *recordingLoader) Load(ref types.ImageRef) (image.Image, error) {
	l.calls = append(l.calls, ref.Name)
	return solid(l.color), nil
}

func refs(names ...string) []types.ImageRef {
	out := make([]types.ImageRef, len(names))
	for i, n := range names {
		out[i] = types.ImageRef{Name: n, Path: "/emojis/" + n}
	}
	return out
}

func faceRow(n int) []types.BoundingBox {
	boxes := make([]types.BoundingBox, n)
	for i := range boxes {
		boxes[i] = types.NewBoundingBox(20+i*60, 80, 60+i*60, 120)
	}
	return boxes
}

func newTestCompositor(l Loader, seed uint64) *Compositor {
	return New(WithLoader(l), WithRand(rand.New(rand.NewPCG(seed, seed))))
}

func TestPlacementFor(t *testing.T) {
	tests := []struct {
		name string
		box  types.BoundingBox
		want Placement
	}{
		{
			name: "centred and lifted",
			box:  types.NewBoundingBox(10, 100, 110, 140),
			want: Placement{Side: 60, At: image.Pt(30, 88)},
		},
		{
			name: "negative offset floors toward minus infinity",
			box:  types.NewBoundingBox(50, 100, 71, 140),
			want: Placement{Side: 60, At: image.Pt(30, 88)},
		},
		{
			name: "top edge clamps to zero",
			box:  types.NewBoundingBox(0, 5, 40, 45),
			want: Placement{Side: 60, At: image.Pt(-10, 0)},
		},
		{
			name: "half side rounds up",
			box:  types.NewBoundingBox(0, 10, 3, 13),
			want: Placement{Side: 5, At: image.Pt(-1, 9)},
		},
		{
			name: "zero height box",
			box:  types.NewBoundingBox(10, 10, 20, 10),
			want: Placement{Side: 0, At: image.Pt(15, 10)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlacementFor(tt.box)
			if got != tt.want {
				t.Errorf("PlacementFor(%v) = %+v, expected %+v", tt.box, got, tt.want)
			}
		})
	}
}

func TestSideIndependentOfWidth(t *testing.T) {
	for _, width := range []int{1, 10, 40, 400} {
		p := PlacementFor(types.NewBoundingBox(0, 50, width, 90))
		if p.Side != 60 {
			t.Errorf("width %d: expected side 60, got %d", width, p.Side)
		}
	}
}

func TestCompositeEmptyPool(t *testing.T) {
	c := newTestCompositor(&recordingLoader{}, 1)
	out, err := c.Composite(createTestImage(100, 100), faceRow(1), types.SelectAll(1), nil)
	if !errors.Is(err, ErrEmptyCategory) {
		t.Errorf("Expected ErrEmptyCategory, got %v", err)
	}
	if out != nil {
		t.Error("Expected no output image")
	}
}

func TestCompositeInvalidSelection(t *testing.T) {
	c := newTestCompositor(&recordingLoader{}, 1)
	_, err := c.Composite(createTestImage(300, 200), faceRow(2), types.NewSelection(0, 2), refs("a.png"))

	var selErr *InvalidSelectionError
	if !errors.As(err, &selErr) {
		t.Fatalf("Expected InvalidSelectionError, got %v", err)
	}
	if selErr.Index != 2 || selErr.Count != 2 {
		t.Errorf("Unexpected error fields: %+v", selErr)
	}

	_, err = c.Composite(createTestImage(300, 200), faceRow(2), types.NewSelection(-1), refs("a.png"))
	if !errors.As(err, &selErr) {
		t.Errorf("Expected InvalidSelectionError for negative index, got %v", err)
	}
}

func TestCompositeEmptySelectionIsNoop(t *testing.T) {
	loader := &recordingLoader{color: color.NRGBA{255, 0, 0, 255}}
	c := newTestCompositor(loader, 1)
	base := createTestImage(200, 150)

	out, err := c.Composite(base, faceRow(3), types.Selection{}, refs("a.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if len(loader.calls) != 0 {
		t.Errorf("Expected no emoji loads, got %v", loader.calls)
	}
	if !bytes.Equal(out.Pix, base.Pix) || out.Bounds() != base.Bounds() {
		t.Error("Expected output to be pixel-identical to input")
	}
}

func TestCompositeSingleEmojiRepeats(t *testing.T) {
	loader := &recordingLoader{color: color.NRGBA{255, 0, 0, 255}}
	c := newTestCompositor(loader, 3)

	_, err := c.Composite(createTestImage(300, 200), faceRow(3), types.SelectAll(3), refs("a.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if len(loader.calls) != 3 {
		t.Fatalf("Expected 3 loads, got %d", len(loader.calls))
	}
	for _, name := range loader.calls {
		if name != "a.png" {
			t.Errorf("Expected a.png, got %s", name)
		}
	}
}

func TestCompositeRotationLaw(t *testing.T) {
	pool := refs("a.png", "b.png", "c.png")

	for seed := uint64(0); seed < 10; seed++ {
		loader := &recordingLoader{color: color.NRGBA{255, 0, 0, 255}}
		c := newTestCompositor(loader, seed)

		_, err := c.Composite(createTestImage(600, 200), faceRow(8), types.SelectAll(8), pool)
		if err != nil {
			t.Fatalf("Composite failed: %v", err)
		}
		if len(loader.calls) != 8 {
			t.Fatalf("Expected 8 draws, got %d", len(loader.calls))
		}
		for start := 0; start+len(pool) <= len(loader.calls); start += len(pool) {
			chunk := append([]string(nil), loader.calls[start:start+len(pool)]...)
			sort.Strings(chunk)
			if chunk[0] != "a.png" || chunk[1] != "b.png" || chunk[2] != "c.png" {
				t.Fatalf("seed %d: chunk %v is not a full pass", seed, loader.calls[start:start+len(pool)])
			}
		}
	}
}

func TestCompositeSkipsUnselectedWithoutDrawing(t *testing.T) {
	loader := &recordingLoader{color: color.NRGBA{255, 0, 0, 255}}
	c := newTestCompositor(loader, 5)

	_, err := c.Composite(createTestImage(300, 200), faceRow(4), types.NewSelection(1, 3), refs("a.png", "b.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if len(loader.calls) != 2 {
		t.Fatalf("Expected 2 draws, got %v", loader.calls)
	}
	if loader.calls[0] == loader.calls[1] {
		t.Errorf("Expected two distinct emojis in one pass, got %v", loader.calls)
	}
}

func TestCompositePastesAndKeepsInput(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	c := newTestCompositor(&recordingLoader{color: red}, 1)
	base := createTestImage(200, 200)
	before := append([]uint8(nil), base.Pix...)

	box := types.NewBoundingBox(80, 100, 120, 140)
	out, err := c.Composite(base, []types.BoundingBox{box}, types.SelectAll(1), refs("a.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}

	if !bytes.Equal(base.Pix, before) {
		t.Error("Input image was modified")
	}

	// Side 60 at (70, 88): the centre of the paste is red
	if got := out.NRGBAAt(100, 118); got != red {
		t.Errorf("Expected red inside paste, got %v", got)
	}
	// Outside the paste the base is untouched
	if got := out.NRGBAAt(10, 10); got != (color.NRGBA{100, 100, 100, 255}) {
		t.Errorf("Expected base colour outside paste, got %v", got)
	}
	if got := out.NRGBAAt(69, 118); got != (color.NRGBA{100, 100, 100, 255}) {
		t.Errorf("Expected base colour left of paste, got %v", got)
	}
}

func TestCompositeTransparentEmojiLeavesBase(t *testing.T) {
	c := newTestCompositor(&recordingLoader{color: color.NRGBA{255, 0, 0, 0}}, 1)
	base := createTestImage(100, 100)

	out, err := c.Composite(base, []types.BoundingBox{types.NewBoundingBox(30, 40, 70, 80)}, types.SelectAll(1), refs("clear.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if !bytes.Equal(out.Pix, base.Pix) {
		t.Error("Fully transparent emoji should not change the base image")
	}
}

func TestCompositeOffCanvas(t *testing.T) {
	c := newTestCompositor(&recordingLoader{color: color.NRGBA{0, 0, 255, 255}}, 1)
	base := createTestImage(100, 100)
	boxes := []types.BoundingBox{
		types.NewBoundingBox(0, 0, 10, 60),
		types.NewBoundingBox(95, 80, 100, 100),
	}

	out, err := c.Composite(base, boxes, types.SelectAll(2), refs("a.png"))
	if err != nil {
		t.Fatalf("Composite failed: %v", err)
	}
	if out.Bounds() != base.Bounds() {
		t.Errorf("Expected bounds %v, got %v", base.Bounds(), out.Bounds())
	}
	if got := out.NRGBAAt(0, 0); got != (color.NRGBA{0, 0, 255, 255}) {
		t.Errorf("Expected top-left corner covered, got %v", got)
	}
}

func TestCompositeLoadErrorAborts(t *testing.T) {
	failing := LoaderFunc(func(ref types.ImageRef) (image.Image, error) {
		if ref.Name == "broken.png" {
			return nil, errors.New("corrupt")
		}
		return solid(color.NRGBA{255, 0, 0, 255}), nil
	})
	c := newTestCompositor(failing, 1)

	out, err := c.Composite(createTestImage(300, 200), faceRow(2), types.SelectAll(2), refs("ok.png", "broken.png"))
	var loadErr *EmojiLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected EmojiLoadError, got %v", err)
	}
	if loadErr.Path != "/emojis/broken.png" {
		t.Errorf("Expected failing path, got %s", loadErr.Path)
	}
	if out != nil {
		t.Error("Expected no partial result")
	}
}

func TestLoadEmoji(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, solid(color.NRGBA{1, 2, 3, 128})); err != nil {
		t.Fatal(err)
	}

	img, err := LoadEmoji(types.ImageRef{Name: "mem.png", Data: buf.Bytes()})
	if err != nil {
		t.Fatalf("LoadEmoji from bytes failed: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("Expected width 16, got %d", img.Bounds().Dx())
	}

	path := filepath.Join(t.TempDir(), "disk.png")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadEmoji(types.ImageRef{Name: "disk.png", Path: path}); err != nil {
		t.Errorf("LoadEmoji from disk failed: %v", err)
	}

	if _, err := LoadEmoji(types.ImageRef{Name: "nothing.png"}); err == nil {
		t.Error("Expected error for ref without path or data")
	}
	if _, err := LoadEmoji(types.ImageRef{Name: "missing.png", Path: filepath.Join(t.TempDir(), "missing.png")}); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestFloorDiv(t *testing.T) {
	tests := []struct{ a, b, want int }{
		{7, 2, 3},
		{-7, 2, -4},
		{-8, 2, -4},
		{0, 5, 0},
		{-1, 5, -1},
	}
	for _, tt := range tests {
		if got := floorDiv(tt.a, tt.b); got != tt.want {
			t.Errorf("floorDiv(%d, %d) = %d, expected %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func BenchmarkComposite(b *testing.B) {
	c := New(WithLoader(LoaderFunc(func(types.ImageRef) (image.Image, error) {
		return solid(color.NRGBA{255, 200, 0, 255}), nil
	})))
	base := createTestImage(1200, 800)
	boxes := faceRow(10)
	pool := refs("a.png", "b.png", "c.png")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Composite(base, boxes, types.SelectAll(len(boxes)), pool)
	}
}
