// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import (
	"errors"
	"fmt"

	"github.com/gogpu/gpucontext"
)

// Presenter errors.
var (
	// ErrNoTextureCreator is returned when the draw context cannot create textures.
	ErrNoTextureCreator = errors.New("viewport: draw context has no texture creator")

	// ErrUnsupportedTexture is returned when the host texture cannot be drawn.
	ErrUnsupportedTexture = errors.New("viewport: host texture does not implement gpucontext.Texture")
)

// textureDestroyer is implemented by host textures that own GPU memory.
type textureDestroyer interface {
	Destroy()
}

// textureUpdater is implemented by host textures that accept new pixels in
// place (gpucontext.TextureUpdater).
type textureUpdater interface {
	UpdateData(data []byte) error
}

// Presenter draws viewport frames through a host's gpucontext.TextureDrawer,
// for UIs that composite on the GPU (gogpu windows).
//
// It keeps one host texture. A new frame of the same size is uploaded into
// it; a frame of a different size replaces it. Between frames the last
// texture is drawn again, so every repaint shows the latest frame.
//
// Presenter is meant to be used from the paint goroutine only.
type Presenter struct {
	vp *Viewport

	texture    any
	width      int
	height     int
	generation uint64
	uploads    uint64
}

// NewPresenter creates a presenter for vp. vp should use CPU textures
// (the default texture factory).
func NewPresenter(vp *Viewport) *Presenter {
	return &Presenter{vp: vp}
}

// RenderTo draws the latest frame at (0, 0).
//
//	app.OnDraw(func(dc *gogpu.Context) {
//	    presenter.RenderTo(dc.AsTextureDrawer())
//	})
func (p *Presenter) RenderTo(dc gpucontext.TextureDrawer) error {
	return p.RenderToPosition(dc, 0, 0)
}

// RenderToPosition draws the latest frame at (x, y).
func (p *Presenter) RenderToPosition(dc gpucontext.TextureDrawer, x, y float32) error {
	if p.vp.Closed() {
		return ErrViewportClosed
	}
	err := p.upload(func(w, h int, pix []byte) (any, error) {
		creator := dc.TextureCreator()
		if creator == nil {
			return nil, ErrNoTextureCreator
		}
		tex, err := creator.NewTextureFromRGBA(w, h, pix)
		if err != nil {
			return nil, fmt.Errorf("viewport: NewTextureFromRGBA failed: %w", err)
		}
		return tex, nil
	})
	if err != nil {
		return err
	}
	if p.texture == nil {
		return nil
	}

	gpuTex, ok := p.texture.(gpucontext.Texture)
	if !ok {
		return ErrUnsupportedTexture
	}
	return dc.DrawTexture(gpuTex, x, y)
}

// hostTextureFunc creates a host texture from RGBA pixels.
type hostTextureFunc func(width, height int, pix []byte) (any, error)

// upload moves a newly bridged frame into the host texture. Frames are told
// apart by their sequence number, so a frame is uploaded exactly once.
func (p *Presenter) upload(create hostTextureFunc) error {
	tex, ok := p.vp.TakeReadyTexture()
	if !ok {
		return nil
	}
	defer tex.Release()

	if p.texture != nil && tex.Generation() == p.generation {
		return nil
	}
	src := textureRGBA(tex)
	if src == nil {
		return nil
	}
	w, h := tex.Width(), tex.Height()

	if p.texture != nil && w == p.width && h == p.height {
		if updater, ok := p.texture.(textureUpdater); ok {
			if err := updater.UpdateData(src); err != nil {
				return fmt.Errorf("viewport: texture update failed: %w", err)
			}
			p.generation = tex.Generation()
			p.uploads++
			return nil
		}
	}

	created, err := create(w, h, src)
	if err != nil {
		return err
	}

	p.destroyTexture()
	p.texture = created
	p.width, p.height = w, h
	p.generation = tex.Generation()
	p.uploads++
	return nil
}

// Uploads returns the number of frames uploaded to the host.
func (p *Presenter) Uploads() uint64 { return p.uploads }

// Texture returns the current host texture, or nil before the first frame.
func (p *Presenter) Texture() any { return p.texture }

func (p *Presenter) destroyTexture() {
	if p.texture == nil {
		return
	}
	if d, ok := p.texture.(textureDestroyer); ok {
		d.Destroy()
	}
	p.texture = nil
}

// textureRGBA returns the pixels of a CPU texture in RGBA byte order, or nil.
func textureRGBA(t Texture) []byte {
	if b, ok := t.(borrowed); ok {
		t = b.Unwrap()
	}
	it, ok := t.(*ImageTexture)
	if !ok {
		return nil
	}
	if it.Format() == FormatRGBA8 {
		return it.Pix()
	}
	return it.RGBA().Pix
}

// Close destroys the host texture. Close is idempotent.
func (p *Presenter) Close() error {
	p.destroyTexture()
	return nil
}
