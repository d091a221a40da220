package viewport

import (
	"image"
	"image/color"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
)

// BytesPerPixel is the size of one framebuffer pixel in every layout.
const BytesPerPixel = 4

// PixelFormat is the byte order of framebuffer pixels.
// Producers write in this order so the bridge never converts.
type PixelFormat uint8

// Supported pixel formats.
const (
	// FormatRGBA8 stores R, G, B, A bytes (the image.RGBA layout).
	FormatRGBA8 PixelFormat = iota

	// FormatBGRA8 stores B, G, R, A bytes, the usual swapchain layout.
	FormatBGRA8
)

// String returns the format name.
func (f PixelFormat) String() string {
	if f == FormatBGRA8 {
		return "bgra8"
	}
	return "rgba8"
}

// TextureFormat returns the matching GPU texture format.
func (f PixelFormat) TextureFormat() gputypes.TextureFormat {
	if f == FormatBGRA8 {
		return gputypes.TextureFormatBGRA8Unorm
	}
	return gputypes.TextureFormatRGBA8Unorm
}

// PixelFormatOf maps a surface format onto a framebuffer layout.
// Anything that is not a BGRA variant uses RGBA.
func PixelFormatOf(f gputypes.TextureFormat) PixelFormat {
	switch f {
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		return FormatBGRA8
	default:
		return FormatRGBA8
	}
}

// Framebuffer is a CPU pixel buffer in a fixed 4-byte layout.
//
// A Framebuffer is not safe for concurrent use on its own. Writers hold
// Lock (or a successful TryLock) for the whole frame, and readers hold it
// while copying pixels out. All methods other than Lock, TryLock and Unlock
// expect the caller to hold the lock.
//
// Every mutation increments Generation. Dirty accumulates the bounding box
// of all writes since the last ClearDirty. Frame is the sequence number the
// owning DoubleBuffer stamped when it last published the buffer.
type Framebuffer struct {
	mu sync.Mutex

	width      int
	height     int
	format     PixelFormat
	pix        []byte
	dirty      image.Rectangle
	generation uint64
	frame      atomic.Uint64
}

// NewFramebuffer allocates a zeroed, fully dirty framebuffer.
// Negative dimensions are treated as zero.
func NewFramebuffer(width, height int, format PixelFormat) *Framebuffer {
	width, height = max(width, 0), max(height, 0)
	return &Framebuffer{
		width:  width,
		height: height,
		format: format,
		pix:    make([]byte, width*height*BytesPerPixel),
		dirty:  image.Rect(0, 0, width, height),
	}
}

// Lock acquires exclusive access to the framebuffer.
func (fb *Framebuffer) Lock() { fb.mu.Lock() }

// TryLock acquires the framebuffer without blocking.
// It reports false when another goroutine holds it.
func (fb *Framebuffer) TryLock() bool { return fb.mu.TryLock() }

// Unlock releases the framebuffer.
func (fb *Framebuffer) Unlock() { fb.mu.Unlock() }

// Width returns the width in pixels.
func (fb *Framebuffer) Width() int { return fb.width }

// Height returns the height in pixels.
func (fb *Framebuffer) Height() int { return fb.height }

// Stride returns the number of bytes per row.
func (fb *Framebuffer) Stride() int { return fb.width * BytesPerPixel }

// Format returns the pixel layout.
func (fb *Framebuffer) Format() PixelFormat { return fb.format }

// Bounds returns the framebuffer rectangle.
func (fb *Framebuffer) Bounds() image.Rectangle { return image.Rect(0, 0, fb.width, fb.height) }

// Empty reports whether the framebuffer has no pixels.
func (fb *Framebuffer) Empty() bool { return fb.width == 0 || fb.height == 0 }

// Pix returns the pixel bytes, row-major with Stride bytes per row.
// Producers may write into it directly and then call MarkDirty or
// MarkDirtyAll.
func (fb *Framebuffer) Pix() []byte { return fb.pix }

// Generation returns the mutation counter.
func (fb *Framebuffer) Generation() uint64 { return fb.generation }

// Frame returns the publish sequence number, or zero if the buffer was
// never published by DoubleBuffer.Swap. Unlike Generation it increases
// across both buffers of a pair, so two published frames never share it.
// Frame may be called without holding the lock.
func (fb *Framebuffer) Frame() uint64 { return fb.frame.Load() }

// Dirty returns the bounding box of writes since the last ClearDirty.
func (fb *Framebuffer) Dirty() image.Rectangle { return fb.dirty }

// IsDirty reports whether any pixel changed since the last ClearDirty.
func (fb *Framebuffer) IsDirty() bool { return !fb.dirty.Empty() }

// MarkDirty adds r to the dirty region and counts as a mutation.
func (fb *Framebuffer) MarkDirty(r image.Rectangle) {
	r = r.Intersect(fb.Bounds())
	if r.Empty() {
		return
	}
	fb.dirty = fb.dirty.Union(r)
	fb.generation++
}

// MarkDirtyAll marks the whole framebuffer dirty and counts as a mutation.
func (fb *Framebuffer) MarkDirtyAll() {
	fb.dirty = fb.Bounds()
	fb.generation++
}

// ClearDirty resets the dirty region.
func (fb *Framebuffer) ClearDirty() { fb.dirty = image.Rectangle{} }

func (fb *Framebuffer) offset(x, y int) int {
	return y*fb.Stride() + x*BytesPerPixel
}

func (fb *Framebuffer) encode(c color.RGBA) [4]byte {
	if fb.format == FormatBGRA8 {
		return [4]byte{c.B, c.G, c.R, c.A}
	}
	return [4]byte{c.R, c.G, c.B, c.A}
}

// SetPixel writes one pixel. Out-of-bounds writes are ignored.
func (fb *Framebuffer) SetPixel(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return
	}
	px := fb.encode(c)
	copy(fb.pix[fb.offset(x, y):], px[:])
	fb.MarkDirty(image.Rect(x, y, x+1, y+1))
}

// Pixel reads one pixel. Out-of-bounds reads return the zero color.
func (fb *Framebuffer) Pixel(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return color.RGBA{}
	}
	p := fb.pix[fb.offset(x, y):]
	if fb.format == FormatBGRA8 {
		return color.RGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	}
	return color.RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
}

// Fill paints r with c. r is clipped to the framebuffer.
func (fb *Framebuffer) Fill(r image.Rectangle, c color.RGBA) {
	r = r.Intersect(fb.Bounds())
	if r.Empty() {
		return
	}
	px := fb.encode(c)
	row := fb.pix[fb.offset(r.Min.X, r.Min.Y):fb.offset(r.Max.X, r.Min.Y)]
	for i := 0; i < len(row); i += BytesPerPixel {
		copy(row[i:], px[:])
	}
	for y := r.Min.Y + 1; y < r.Max.Y; y++ {
		copy(fb.pix[fb.offset(r.Min.X, y):], row)
	}
	fb.MarkDirty(r)
}

// Clear fills the whole framebuffer with c.
func (fb *Framebuffer) Clear(c color.RGBA) {
	fb.Fill(fb.Bounds(), c)
}

// Resize reallocates the framebuffer. Old pixel content is not preserved.
// It is a no-op when the size is unchanged; otherwise the framebuffer
// becomes fully dirty.
func (fb *Framebuffer) Resize(width, height int) {
	width, height = max(width, 0), max(height, 0)
	if width == fb.width && height == fb.height {
		return
	}
	fb.width = width
	fb.height = height
	if n := width * height * BytesPerPixel; cap(fb.pix) >= n {
		fb.pix = fb.pix[:n]
		clear(fb.pix)
	} else {
		fb.pix = make([]byte, n)
	}
	fb.MarkDirtyAll()
}

// Image returns an *image.RGBA sharing the framebuffer's pixels.
// It returns nil for FormatBGRA8, whose byte order image.RGBA cannot express.
func (fb *Framebuffer) Image() *image.RGBA {
	if fb.format != FormatRGBA8 {
		return nil
	}
	return &image.RGBA{Pix: fb.pix, Stride: fb.Stride(), Rect: fb.Bounds()}
}

// CopyTo copies the pixels into dst, which must hold at least
// Width*Height*4 bytes. It returns the number of bytes copied.
func (fb *Framebuffer) CopyTo(dst []byte) int {
	return copy(dst, fb.pix)
}
