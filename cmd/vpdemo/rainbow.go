package main

import (
	"image"
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/viewport"
)

// rainbowRenderer paints a scrolling HSV gradient with a status line.
// It runs on the producer thread only.
type rainbowRenderer struct {
	status func(frame uint64) string

	palette []colorful.Color
	hud     *image.RGBA
}

func newRainbowRenderer(status func(frame uint64) string) *rainbowRenderer {
	return &rainbowRenderer{status: status}
}

// RenderFrame implements viewport.FrameRenderer.
func (r *rainbowRenderer) RenderFrame(fb *viewport.Framebuffer, frame uint64) error {
	w, h := fb.Width(), fb.Height()
	if w == 0 || h == 0 {
		return nil
	}

	if len(r.palette) != w {
		r.palette = make([]colorful.Color, w)
	}
	shift := float64(frame%360) * 2
	for x := range r.palette {
		hue := math.Mod(float64(x)*360/float64(w)+shift, 360)
		r.palette[x] = colorful.Hsv(hue, 0.75, 1).Clamped()
	}

	pix := fb.Pix()
	stride := fb.Stride()
	bgra := fb.Format() == viewport.FormatBGRA8
	for y := range h {
		// Rows darken towards the bottom.
		shade := uint32(256 - y*154/h)
		row := pix[y*stride : (y+1)*stride]
		for x, c := range r.palette {
			cr, cg, cb := c.RGB255()
			if bgra {
				cr, cb = cb, cr
			}
			o := x * viewport.BytesPerPixel
			row[o] = uint8(uint32(cr) * shade >> 8)   //nolint:gosec // shade <= 256
			row[o+1] = uint8(uint32(cg) * shade >> 8) //nolint:gosec // shade <= 256
			row[o+2] = uint8(uint32(cb) * shade >> 8) //nolint:gosec // shade <= 256
			row[o+3] = 0xff
		}
	}

	if r.status != nil {
		r.drawStatus(fb, r.status(frame))
	}
	fb.MarkDirtyAll()
	return nil
}

// drawStatus draws text onto a transparent overlay and copies its opaque
// pixels into fb.
func (r *rainbowRenderer) drawStatus(fb *viewport.Framebuffer, text string) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 8
	height := face.Metrics().Height.Ceil() + 4
	bounds := image.Rect(0, 0, min(width, fb.Width()), min(height, fb.Height()))

	if r.hud == nil || r.hud.Bounds() != bounds {
		r.hud = image.NewRGBA(bounds)
	} else {
		clear(r.hud.Pix)
	}

	d := font.Drawer{
		Dst:  r.hud,
		Src:  image.NewUniform(color.RGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}),
		Face: face,
		Dot:  fixed.P(4, face.Metrics().Ascent.Ceil()+2),
	}
	d.DrawString(text)

	backdrop := color.RGBA{A: 0xff}
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := r.hud.RGBAAt(x, y)
			if c.A == 0 {
				fb.SetPixel(x, y, backdrop)
				continue
			}
			fb.SetPixel(x, y, c)
		}
	}
}
