package viewport

import (
	"image"

	xdraw "golang.org/x/image/draw"
)

// ImagePainter is a consumer helper for CPU user interfaces. Each Paint
// takes the ready texture from a viewport and scales it into a region of
// the UI surface.
//
// ImagePainter is meant to be used from the paint goroutine only.
type ImagePainter struct {
	vp *Viewport

	// Interpolator scales frames into the destination. Defaults to
	// xdraw.ApproxBiLinear.
	Interpolator xdraw.Interpolator

	// Op composes frames onto the destination. Defaults to xdraw.Src.
	Op xdraw.Op

	painted  bool
	lastGen  uint64
	frames   uint64
	repaints uint64
}

// NewImagePainter creates a painter for vp.
func NewImagePainter(vp *Viewport) *ImagePainter {
	return &ImagePainter{vp: vp, Interpolator: xdraw.ApproxBiLinear, Op: xdraw.Src}
}

// Paint draws the ready texture into r of dst. It reports whether a frame
// newer than the previous paint was drawn. Under ConsumeLatest a stale
// frame is redrawn and Paint reports false. Textures without CPU pixels
// (GPU textures) are skipped.
func (p *ImagePainter) Paint(dst xdraw.Image, r image.Rectangle) bool {
	tex, ok := p.vp.TakeReadyTexture()
	if !ok {
		return false
	}
	defer tex.Release()

	src := textureImage(tex)
	if src == nil {
		return false
	}
	if r.Empty() {
		r = dst.Bounds()
	}

	interp := p.Interpolator
	if interp == nil {
		interp = xdraw.ApproxBiLinear
	}
	if r.Size() == src.Bounds().Size() {
		xdraw.Copy(dst, r.Min, src, src.Bounds(), p.Op, nil)
	} else {
		interp.Scale(dst, r, src, src.Bounds(), p.Op, nil)
	}

	fresh := !p.painted || tex.Generation() != p.lastGen
	p.painted = true
	p.lastGen = tex.Generation()
	if fresh {
		p.frames++
	} else {
		p.repaints++
	}
	return fresh
}

// Frames returns how many new frames were painted.
func (p *ImagePainter) Frames() uint64 { return p.frames }

// Repaints returns how many stale frames were painted again.
func (p *ImagePainter) Repaints() uint64 { return p.repaints }

// textureImage returns an image view of a CPU texture, or nil.
func textureImage(t Texture) image.Image {
	if b, ok := t.(borrowed); ok {
		t = b.Unwrap()
	}
	if it, ok := t.(*ImageTexture); ok {
		return it.RGBA()
	}
	return nil
}
