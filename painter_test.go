package viewport

import (
	"image"
	"image/color"
	"testing"

	xdraw "golang.org/x/image/draw"
)

func TestImagePainter_PaintsNewFrames(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(4, 4, WithRedraw(rec.redraw), WithPixelFormat(FormatBGRA8))
	t.Cleanup(func() { _ = vp.Close() })

	p := NewImagePainter(vp)
	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))

	if p.Paint(dst, dst.Bounds()) {
		t.Fatal("Paint before any frame reported a new frame")
	}

	c := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	renderFrame(t, vp, c)
	rec.wait(t)

	if !p.Paint(dst, dst.Bounds()) {
		t.Fatal("Paint did not draw the bridged frame")
	}
	if got := dst.RGBAAt(3, 3); got != c {
		t.Errorf("dst pixel = %v, want %v (BGRA frame swizzled)", got, c)
	}
	if p.Frames() != 1 {
		t.Errorf("Frames() = %d, want 1", p.Frames())
	}
	if p.Paint(dst, dst.Bounds()) {
		t.Error("ConsumeTake: second Paint should find nothing")
	}
}

func TestImagePainter_Scales(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(2, 2, WithRedraw(rec.redraw))
	t.Cleanup(func() { _ = vp.Close() })

	p := NewImagePainter(vp)
	p.Interpolator = xdraw.NearestNeighbor

	c := color.RGBA{G: 255, A: 255}
	renderFrame(t, vp, c)
	rec.wait(t)

	dst := image.NewRGBA(image.Rect(0, 0, 20, 20))
	if !p.Paint(dst, image.Rect(10, 10, 20, 20)) {
		t.Fatal("Paint did not draw")
	}
	if got := dst.RGBAAt(15, 15); got != c {
		t.Errorf("scaled pixel = %v, want %v", got, c)
	}
	if got := dst.RGBAAt(5, 5); got != (color.RGBA{}) {
		t.Errorf("pixel outside target rect = %v, want untouched", got)
	}
}

func TestImagePainter_ConsumeLatestRepaints(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(2, 2, WithRedraw(rec.redraw), WithConsumePolicy(ConsumeLatest))
	t.Cleanup(func() { _ = vp.Close() })

	p := NewImagePainter(vp)
	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))

	renderFrame(t, vp, color.RGBA{B: 255, A: 255})
	rec.wait(t)

	if !p.Paint(dst, dst.Bounds()) {
		t.Fatal("first Paint should be fresh")
	}
	dst.SetRGBA(0, 0, color.RGBA{})
	if p.Paint(dst, dst.Bounds()) {
		t.Error("repaint of the same frame reported fresh")
	}
	if got := dst.RGBAAt(0, 0); got.B != 255 {
		t.Errorf("repaint did not redraw the latest frame: %v", got)
	}
	if p.Repaints() != 1 {
		t.Errorf("Repaints() = %d, want 1", p.Repaints())
	}
}

func TestImagePainter_CountsEveryFrame(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(2, 2, WithRedraw(rec.redraw))
	t.Cleanup(func() { _ = vp.Close() })

	p := NewImagePainter(vp)
	dst := image.NewRGBA(image.Rect(0, 0, 2, 2))

	for i, r := range []uint8{10, 20, 30, 40} {
		renderFrame(t, vp, color.RGBA{R: r, A: 255})
		rec.wait(t)

		if !p.Paint(dst, dst.Bounds()) {
			t.Errorf("frame %d: Paint reported a stale frame", i+1)
		}
		if got := dst.RGBAAt(1, 1).R; got != r {
			t.Errorf("frame %d: R = %d, want %d", i+1, got, r)
		}
	}
	if p.Frames() != 4 || p.Repaints() != 0 {
		t.Errorf("Frames/Repaints = %d/%d, want 4/0", p.Frames(), p.Repaints())
	}
}
