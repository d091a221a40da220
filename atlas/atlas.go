package atlas

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// Atlas-related errors.
var (
	// ErrAtlasFull is returned when the atlas cannot fit the requested region.
	ErrAtlasFull = errors.New("atlas: texture atlas is full")

	// ErrAtlasClosed is returned when operating on a closed atlas.
	ErrAtlasClosed = errors.New("atlas: texture atlas is closed")

	// ErrRegionOutOfBounds is returned when a region is outside atlas bounds.
	ErrRegionOutOfBounds = errors.New("atlas: region is outside atlas bounds")

	// ErrDataSizeMismatch is returned when pixel data does not match the region size.
	ErrDataSizeMismatch = errors.New("atlas: pixel data size does not match region")

	// ErrNilDevice is returned when no device or queue is supplied.
	ErrNilDevice = errors.New("atlas: device and queue are required")

	// ErrUnsupportedFormat is returned for texture formats the atlas cannot upload.
	ErrUnsupportedFormat = errors.New("atlas: unsupported texture format")
)

// Default atlas settings.
const (
	// DefaultAtlasSize is the default atlas dimension (2048x2048).
	DefaultAtlasSize = 2048

	// MinAtlasSize is the minimum atlas dimension (256x256).
	MinAtlasSize = 256
)

// Config holds configuration for creating a TextureAtlas.
type Config struct {
	// Width is the atlas width in pixels. Defaults to DefaultAtlasSize.
	Width int

	// Height is the atlas height in pixels. Defaults to DefaultAtlasSize.
	Height int

	// Format is the texel format. Defaults to RGBA8Unorm.
	Format gputypes.TextureFormat

	// Label is an optional debug label.
	Label string
}

// BytesPerTexel returns the upload stride of the formats the atlas accepts.
// It returns 0 for anything else.
func BytesPerTexel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatBGRA8Unorm:
		return 4
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 0
	}
}

// TextureAtlas combines many small images into one GPU texture to reduce
// texture binding changes.
//
// TextureAtlas is safe for concurrent use.
type TextureAtlas struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue

	texture hal.Texture
	view    hal.TextureView
	format  gputypes.TextureFormat
	bpp     int

	alloc *Allocator

	uploads uint64
	closed  bool
}

// NewTextureAtlas creates the atlas texture and its view on device.
func NewTextureAtlas(device hal.Device, queue hal.Queue, cfg Config) (*TextureAtlas, error) {
	if device == nil || queue == nil {
		return nil, ErrNilDevice
	}

	width := cfg.Width
	if width < MinAtlasSize {
		width = DefaultAtlasSize
	}
	height := cfg.Height
	if height < MinAtlasSize {
		height = DefaultAtlasSize
	}
	format := cfg.Format
	if format == gputypes.TextureFormatUndefined {
		format = gputypes.TextureFormatRGBA8Unorm
	}
	bpp := BytesPerTexel(format)
	if bpp == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, format)
	}
	label := cfg.Label
	if label == "" {
		label = "viewport_atlas"
	}

	tex, err := device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1}, //nolint:gosec // clamped above
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        format,
		Usage:         gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("atlas: create texture: %w", err)
	}

	view, err := device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         label + "_view",
		Format:        format,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		device.DestroyTexture(tex)
		return nil, fmt.Errorf("atlas: create texture view: %w", err)
	}

	slogger().Debug("atlas: created", "width", width, "height", height, "format", format)

	return &TextureAtlas{
		device:  device,
		queue:   queue,
		texture: tex,
		view:    view,
		format:  format,
		bpp:     bpp,
		alloc:   NewAllocator(width, height),
	}, nil
}

// Allocate reserves a region for owner, or returns ErrAtlasFull.
func (a *TextureAtlas) Allocate(width, height int, owner AssetID) (Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return Region{}, ErrAtlasClosed
	}
	r, ok := a.alloc.Allocate(width, height, owner)
	if !ok {
		return Region{}, fmt.Errorf("%w: %dx%d", ErrAtlasFull, width, height)
	}
	return r, nil
}

// Upload copies tightly packed texel rows into region.
// len(pix) must equal Width*Height*BytesPerTexel(Format()).
func (a *TextureAtlas) Upload(region Region, pix []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAtlasClosed
	}
	if region.X < 0 || region.Y < 0 || !region.IsValid() ||
		region.X+region.Width > a.alloc.Width() ||
		region.Y+region.Height > a.alloc.Height() {
		return ErrRegionOutOfBounds
	}
	if want := region.Width * region.Height * a.bpp; len(pix) != want {
		return fmt.Errorf("%w: region %dx%d needs %d bytes, got %d",
			ErrDataSizeMismatch, region.Width, region.Height, want, len(pix))
	}

	a.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture:  a.texture,
			MipLevel: 0,
			Origin:   hal.Origin3D{X: uint32(region.X), Y: uint32(region.Y), Z: 0}, //nolint:gosec // bounds checked above
		},
		pix,
		&hal.ImageDataLayout{
			Offset:       0,
			BytesPerRow:  uint32(region.Width * a.bpp), //nolint:gosec // bounds checked above
			RowsPerImage: uint32(region.Height),        //nolint:gosec // bounds checked above
		},
		&hal.Extent3D{Width: uint32(region.Width), Height: uint32(region.Height), DepthOrArrayLayers: 1}, //nolint:gosec // bounds checked above
	)
	a.uploads++
	return nil
}

// AllocateAndUpload reserves a region and uploads pix into it.
// The region is released again if the upload fails.
func (a *TextureAtlas) AllocateAndUpload(width, height int, owner AssetID, pix []byte) (Region, error) {
	r, err := a.Allocate(width, height, owner)
	if err != nil {
		return Region{}, err
	}
	if err := a.Upload(r, pix); err != nil {
		_ = a.alloc.Deallocate(r)
		return Region{}, err
	}
	return r, nil
}

// Deallocate returns region to the free set.
func (a *TextureAtlas) Deallocate(region Region) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrAtlasClosed
	}
	return a.alloc.Deallocate(region)
}

// Reset drops every allocation so the atlas can be rebuilt.
// Texture contents are left as they are; callers upload live assets again.
func (a *TextureAtlas) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alloc.Reset()
	slogger().Debug("atlas: reset")
}

// Stats returns allocator statistics.
func (a *TextureAtlas) Stats() Stats {
	return a.alloc.Stats()
}

// Uploads returns the number of successful region uploads.
func (a *TextureAtlas) Uploads() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploads
}

// Width returns the atlas width.
func (a *TextureAtlas) Width() int { return a.alloc.Width() }

// Height returns the atlas height.
func (a *TextureAtlas) Height() int { return a.alloc.Height() }

// Format returns the texel format.
func (a *TextureAtlas) Format() gputypes.TextureFormat { return a.format }

// Texture returns the backing texture, or nil after Close.
func (a *TextureAtlas) Texture() hal.Texture {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.texture
}

// View returns the texture view for binding, or nil after Close.
func (a *TextureAtlas) View() hal.TextureView {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view
}

// IsClosed reports whether Close has been called.
func (a *TextureAtlas) IsClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close destroys the GPU texture. It is safe to call more than once.
func (a *TextureAtlas) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true
	if a.view != nil {
		a.device.DestroyTextureView(a.view)
		a.view = nil
	}
	if a.texture != nil {
		a.device.DestroyTexture(a.texture)
		a.texture = nil
	}
}
