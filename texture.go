package viewport

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/viewport/internal/pixbuf"
	"github.com/gogpu/viewport/pool"
)

// ErrEmptyFramebuffer is returned by texture factories for zero-size input.
var ErrEmptyFramebuffer = errors.New("viewport: framebuffer is empty")

// Texture is a displayable snapshot of a front framebuffer.
//
// The consumer that takes a Texture owns it and must call Release once the
// texture has been painted. Release is idempotent.
type Texture interface {
	Width() int
	Height() int
	Format() PixelFormat

	// Generation is the frame sequence number of the published buffer the
	// texture was built from (Framebuffer.Frame). It grows with every swap,
	// so different frames of one viewport never share it.
	Generation() uint64

	Release()
}

// TextureFactory turns a locked front framebuffer into a Texture.
// NewTexture must not retain fb or its pixel slice after it returns.
type TextureFactory interface {
	NewTexture(fb *Framebuffer) (Texture, error)
}

// TextureFactoryFunc adapts a function to TextureFactory.
type TextureFactoryFunc func(fb *Framebuffer) (Texture, error)

// NewTexture calls f(fb).
func (f TextureFactoryFunc) NewTexture(fb *Framebuffer) (Texture, error) { return f(fb) }

// =============================================================================
// CPU textures
// =============================================================================

// ImageTexture is a CPU texture holding the framebuffer bytes unchanged.
type ImageTexture struct {
	pix        []byte
	width      int
	height     int
	format     PixelFormat
	generation uint64

	released atomic.Bool
	recycle  func(pix []byte, width, height int)
}

// Width returns the width in pixels.
func (t *ImageTexture) Width() int { return t.width }

// Height returns the height in pixels.
func (t *ImageTexture) Height() int { return t.height }

// Format returns the pixel layout.
func (t *ImageTexture) Format() PixelFormat { return t.format }

// Generation returns the frame sequence number of the source buffer.
func (t *ImageTexture) Generation() uint64 { return t.generation }

// Pix returns the pixel bytes. They are invalid after Release.
func (t *ImageTexture) Pix() []byte { return t.pix }

// Stride returns the number of bytes per row.
func (t *ImageTexture) Stride() int { return t.width * BytesPerPixel }

// At returns the color of one pixel, regardless of layout.
func (t *ImageTexture) At(x, y int) (r, g, b, a uint8) {
	if x < 0 || y < 0 || x >= t.width || y >= t.height {
		return 0, 0, 0, 0
	}
	p := t.pix[y*t.Stride()+x*BytesPerPixel:]
	if t.format == FormatBGRA8 {
		return p[2], p[1], p[0], p[3]
	}
	return p[0], p[1], p[2], p[3]
}

// RGBA returns an *image.RGBA over the texture bytes. For FormatBGRA8 the
// bytes are swizzled into a new image.
func (t *ImageTexture) RGBA() *image.RGBA {
	rect := image.Rect(0, 0, t.width, t.height)
	if t.format == FormatRGBA8 {
		return &image.RGBA{Pix: t.pix, Stride: t.Stride(), Rect: rect}
	}
	img := image.NewRGBA(rect)
	for i := 0; i+3 < len(t.pix); i += BytesPerPixel {
		img.Pix[i+0] = t.pix[i+2]
		img.Pix[i+1] = t.pix[i+1]
		img.Pix[i+2] = t.pix[i+0]
		img.Pix[i+3] = t.pix[i+3]
	}
	return img
}

// Release returns the pixel storage for reuse.
func (t *ImageTexture) Release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.recycle != nil {
		t.recycle(t.pix, t.width, t.height)
	}
	t.pix = nil
}

// ImageTextureFactory builds CPU textures, recycling pixel storage of
// released textures with the same dimensions.
type ImageTextureFactory struct {
	buffers *pixbuf.Pool
}

// NewImageTextureFactory returns a factory that keeps up to two spare
// buffers per size.
func NewImageTextureFactory() *ImageTextureFactory {
	return &ImageTextureFactory{buffers: pixbuf.NewPool(2)}
}

// NewTexture copies the framebuffer bytes without conversion.
func (f *ImageTextureFactory) NewTexture(fb *Framebuffer) (Texture, error) {
	if fb.Empty() {
		return nil, ErrEmptyFramebuffer
	}
	w, h := fb.Width(), fb.Height()
	pix := f.buffers.Get(w, h)
	fb.CopyTo(pix)
	return &ImageTexture{
		pix:        pix,
		width:      w,
		height:     h,
		format:     fb.Format(),
		generation: fb.Frame(),
		recycle:    f.buffers.Put,
	}, nil
}

// Stats reports buffer reuse.
func (f *ImageTextureFactory) Stats() pixbuf.Stats { return f.buffers.Stats() }

// =============================================================================
// GPU textures
// =============================================================================

// GPUTexture is a pooled hal texture holding an uploaded frame, together
// with a view and the display sampler.
//
// Frames of the same size share one pooled texture, so a later upload
// replaces the pixels of an earlier, still displayed frame.
type GPUTexture struct {
	texture    *pool.Texture
	view       *pool.TextureView
	sampler    *pool.Sampler
	format     PixelFormat
	generation uint64

	once sync.Once
}

// Width returns the width in pixels.
func (t *GPUTexture) Width() int { return int(t.texture.Width()) }

// Height returns the height in pixels.
func (t *GPUTexture) Height() int { return int(t.texture.Height()) }

// Format returns the pixel layout.
func (t *GPUTexture) Format() PixelFormat { return t.format }

// Generation returns the frame sequence number of the source buffer.
func (t *GPUTexture) Generation() uint64 { return t.generation }

// Texture returns the pooled texture handle.
func (t *GPUTexture) Texture() *pool.Texture { return t.texture }

// View returns the hal view used for sampling.
func (t *GPUTexture) View() hal.TextureView { return t.view.Raw() }

// Sampler returns the hal sampler used for display.
func (t *GPUTexture) Sampler() hal.Sampler { return t.sampler.Raw() }

// Release drops the handles held by this frame.
func (t *GPUTexture) Release() {
	t.once.Do(func() {
		t.sampler.Release()
		t.view.Release()
		t.texture.Release()
	})
}

// GPUTextureFactory uploads frames into textures from a pool.TexturePool.
type GPUTextureFactory struct {
	queue    hal.Queue
	textures *pool.TexturePool
	owned    bool
	uploads  atomic.Uint64
}

// NewGPUTextureFactory creates a factory on device/queue. A nil textures
// pool makes the factory create and own one.
func NewGPUTextureFactory(device hal.Device, queue hal.Queue, textures *pool.TexturePool) (*GPUTextureFactory, error) {
	if device == nil || queue == nil {
		return nil, pool.ErrNilDevice
	}
	owned := false
	if textures == nil {
		var err error
		textures, err = pool.NewTexturePool(device, pool.TexturePoolConfig{MaxCached: 8})
		if err != nil {
			return nil, err
		}
		owned = true
	}
	return &GPUTextureFactory{queue: queue, textures: textures, owned: owned}, nil
}

// NewTexture uploads the framebuffer bytes into a pooled texture.
func (f *GPUTextureFactory) NewTexture(fb *Framebuffer) (Texture, error) {
	if fb.Empty() {
		return nil, ErrEmptyFramebuffer
	}
	w, h := uint32(fb.Width()), uint32(fb.Height()) //nolint:gosec // framebuffer dimensions are non-negative

	tex, err := f.textures.GetTexture(pool.TextureDescriptor{
		Label:  "viewport_frame",
		Width:  w,
		Height: h,
		Format: fb.Format().TextureFormat(),
		Usage:  gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("viewport: frame texture: %w", err)
	}
	view, err := f.textures.GetTextureView(tex, pool.ViewDescriptor{})
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("viewport: frame view: %w", err)
	}
	sampler, err := f.textures.GetSampler(pool.LinearClampSampler)
	if err != nil {
		view.Release()
		tex.Release()
		return nil, fmt.Errorf("viewport: frame sampler: %w", err)
	}

	f.queue.WriteTexture(
		&hal.ImageCopyTexture{Texture: tex.Raw(), MipLevel: 0},
		fb.Pix(),
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(fb.Stride()), //nolint:gosec // framebuffer dimensions are non-negative
			RowsPerImage: h,
		},
		&hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1},
	)
	f.uploads.Add(1)

	return &GPUTexture{
		texture:    tex,
		view:       view,
		sampler:    sampler,
		format:     fb.Format(),
		generation: fb.Frame(),
	}, nil
}

// Uploads returns the number of frames uploaded.
func (f *GPUTextureFactory) Uploads() uint64 { return f.uploads.Load() }

// Pool returns the texture pool backing the factory.
func (f *GPUTextureFactory) Pool() *pool.TexturePool { return f.textures }

// Close closes the texture pool if the factory created it.
func (f *GPUTextureFactory) Close() {
	if f.owned {
		f.textures.Close()
	}
}
