package pool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/viewport/internal/cache"
)

// Texture errors.
var (
	// ErrNilTexture is returned when a view is requested for a nil texture.
	ErrNilTexture = errors.New("pool: nil texture")

	// ErrTextureDestroyed is returned when a view is requested for a released texture.
	ErrTextureDestroyed = errors.New("pool: texture already destroyed")
)

// TextureClass is the usage class a texture is cached under.
type TextureClass uint8

// Texture usage classes.
const (
	TextureSampled TextureClass = iota
	TextureRenderTarget
)

// String returns the class name.
func (c TextureClass) String() string {
	if c == TextureRenderTarget {
		return "render-target"
	}
	return "sampled"
}

// TextureClassOf derives the class from usage flags.
func TextureClassOf(usage gputypes.TextureUsage) TextureClass {
	if usage&gputypes.TextureUsageRenderAttachment != 0 {
		return TextureRenderTarget
	}
	return TextureSampled
}

// TextureDescriptor describes a pooled 2D texture.
// Label is not part of the cache key.
type TextureDescriptor struct {
	Label              string
	Width              uint32
	Height             uint32
	DepthOrArrayLayers uint32
	MipLevelCount      uint32
	Format             gputypes.TextureFormat
	Usage              gputypes.TextureUsage
}

type textureKey struct {
	width, height, layers, mips uint32
	format                      gputypes.TextureFormat
	usage                       gputypes.TextureUsage
}

func (d TextureDescriptor) normalized() TextureDescriptor {
	if d.DepthOrArrayLayers == 0 {
		d.DepthOrArrayLayers = 1
	}
	if d.MipLevelCount == 0 {
		d.MipLevelCount = 1
	}
	if d.Format == gputypes.TextureFormatUndefined {
		d.Format = gputypes.TextureFormatRGBA8Unorm
	}
	return d
}

func (d TextureDescriptor) key() textureKey {
	return textureKey{
		width: d.Width, height: d.Height, layers: d.DepthOrArrayLayers, mips: d.MipLevelCount,
		format: d.Format, usage: d.Usage,
	}
}

// ByteSize estimates the texture memory from its descriptor.
// Mip levels beyond the first are not counted.
func (d TextureDescriptor) ByteSize() uint64 {
	d = d.normalized()
	return uint64(d.Width) * uint64(d.Height) * uint64(d.DepthOrArrayLayers) * uint64(BytesPerPixel(d.Format))
}

// BytesPerPixel returns the texel size used for memory estimates.
// Unknown formats count as 4 bytes.
func BytesPerPixel(f gputypes.TextureFormat) int {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	default:
		return 4
	}
}

// Texture is a shared handle to a pooled hal texture.
type Texture struct {
	refCount

	raw   hal.Texture
	desc  TextureDescriptor
	chunk Chunk
}

// Raw returns the underlying hal texture.
func (t *Texture) Raw() hal.Texture { return t.raw }

// Descriptor returns the descriptor the texture was created with.
func (t *Texture) Descriptor() TextureDescriptor { return t.desc }

// Width returns the texture width.
func (t *Texture) Width() uint32 { return t.desc.Width }

// Height returns the texture height.
func (t *Texture) Height() uint32 { return t.desc.Height }

// Format returns the texel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.desc.Format }

// ViewDescriptor selects a view of a pooled texture.
// The zero value means "same format, 2D".
type ViewDescriptor struct {
	Format    gputypes.TextureFormat
	Dimension gputypes.TextureViewDimension
}

// TextureView is a shared handle to a cached texture view.
// A view keeps its texture alive until the view itself is destroyed.
type TextureView struct {
	refCount

	raw     hal.TextureView
	texture *Texture
}

// Raw returns the underlying hal view.
func (v *TextureView) Raw() hal.TextureView { return v.raw }

// Texture returns the texture the view was created from.
func (v *TextureView) Texture() *Texture { return v.texture }

// SamplerDescriptor is the cache key for samplers.
type SamplerDescriptor struct {
	AddressModeU gputypes.AddressMode
	AddressModeV gputypes.AddressMode
	AddressModeW gputypes.AddressMode
	MagFilter    gputypes.FilterMode
	MinFilter    gputypes.FilterMode
	MipmapFilter gputypes.FilterMode
}

// LinearClampSampler is the sampler used to display frames.
var LinearClampSampler = SamplerDescriptor{
	AddressModeU: gputypes.AddressModeClampToEdge,
	AddressModeV: gputypes.AddressModeClampToEdge,
	AddressModeW: gputypes.AddressModeClampToEdge,
	MagFilter:    gputypes.FilterModeLinear,
	MinFilter:    gputypes.FilterModeLinear,
	MipmapFilter: gputypes.FilterModeLinear,
}

// Sampler is a shared handle to a cached sampler.
type Sampler struct {
	refCount

	raw  hal.Sampler
	desc SamplerDescriptor
}

// Raw returns the underlying hal sampler.
func (s *Sampler) Raw() hal.Sampler { return s.raw }

// Descriptor returns the sampler descriptor.
func (s *Sampler) Descriptor() SamplerDescriptor { return s.desc }

type viewKey struct {
	texture   *Texture
	format    gputypes.TextureFormat
	dimension gputypes.TextureViewDimension
}

// TexturePoolConfig configures a TexturePool.
type TexturePoolConfig struct {
	// MaxCached bounds the number of cached textures. Defaults to DefaultMaxCached.
	// Views and samplers are not counted.
	MaxCached int

	// Memory is the byte budget charged for created textures.
	// Defaults to a private pool of DefaultMemoryCapacity.
	Memory *MemoryPool
}

// TexturePool caches textures by descriptor, plus views and samplers.
//
// TexturePool is safe for concurrent use.
type TexturePool struct {
	mu sync.Mutex

	device hal.Device
	memory *MemoryPool

	index    *cache.Index[textureKey, TextureClass, *Texture]
	views    map[viewKey]*TextureView
	samplers map[SamplerDescriptor]*Sampler

	cachedBytes uint64
	stats       Stats
	destroyed   atomic.Uint64

	closed bool
}

// NewTexturePool creates a texture pool on device.
func NewTexturePool(device hal.Device, cfg TexturePoolConfig) (*TexturePool, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	maxCached := cfg.MaxCached
	if maxCached <= 0 {
		maxCached = DefaultMaxCached
	}
	memory := cfg.Memory
	if memory == nil {
		memory = NewMemoryPool(DefaultMemoryCapacity)
	}
	return &TexturePool{
		device:   device,
		memory:   memory,
		index:    cache.NewIndex[textureKey, TextureClass, *Texture](maxCached),
		views:    make(map[viewKey]*TextureView),
		samplers: make(map[SamplerDescriptor]*Sampler),
	}, nil
}

// GetTexture returns a shared texture matching desc, creating it on a miss.
func (p *TexturePool) GetTexture(desc TextureDescriptor) (*Texture, error) {
	desc = desc.normalized()
	if desc.Width == 0 || desc.Height == 0 {
		return nil, ErrInvalidSize
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	key := desc.key()
	class := TextureClassOf(desc.Usage)
	if tex, ok := p.index.Get(key); ok && tex.acquire() {
		p.stats.Hits++
		return tex, nil
	}
	p.stats.Misses++

	if limit := p.index.Capacity(); limit > 0 {
		for p.index.Len() >= limit {
			p.evictOldestLocked()
		}
	}

	size := desc.ByteSize()
	chunk, ok := p.memory.Allocate(size)
	for !ok && p.index.Len() > 0 {
		p.evictOldestLocked()
		chunk, ok = p.memory.Allocate(size)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %dx%d texture (%d bytes)", ErrPoolExhausted, desc.Width, desc.Height, size)
	}

	label := desc.Label
	if label == "" {
		label = fmt.Sprintf("viewport_%s_%dx%d", class, desc.Width, desc.Height)
	}
	raw, err := p.device.CreateTexture(&hal.TextureDescriptor{
		Label:         label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: desc.DepthOrArrayLayers},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		_ = p.memory.Deallocate(chunk)
		return nil, fmt.Errorf("pool: create texture: %w", err)
	}

	tex := &Texture{raw: raw, desc: desc, chunk: chunk}
	tex.init(func() { p.destroyTexture(tex) })
	tex.acquire()

	p.index.Put(key, class, tex)
	p.cachedBytes += size
	p.stats.Created++
	return tex, nil
}

// evictOldestLocked drops the least recently used texture and the pool's
// references to its cached views.
func (p *TexturePool) evictOldestLocked() {
	ev, ok := p.index.RemoveOldest()
	if !ok {
		return
	}
	p.stats.Evictions++
	p.cachedBytes -= ev.Value.desc.ByteSize()
	p.dropViewsLocked(ev.Value)
	if ev.Value.Refs() > 1 {
		slogger().Debug("pool: evicted texture still referenced",
			"class", ev.Class, "width", ev.Value.desc.Width, "height", ev.Value.desc.Height)
	}
	ev.Value.Release()
}

func (p *TexturePool) dropViewsLocked(tex *Texture) {
	for k, v := range p.views {
		if k.texture == tex {
			delete(p.views, k)
			v.Release()
		}
	}
}

func (p *TexturePool) destroyTexture(t *Texture) {
	p.device.DestroyTexture(t.raw)
	if err := p.memory.Deallocate(t.chunk); err != nil {
		slogger().Warn("pool: texture chunk release failed", "bytes", t.chunk.Size, "err", err)
	}
	p.destroyed.Add(1)
}

// GetTextureView returns a cached view of tex.
// The view holds its own reference to tex.
func (p *TexturePool) GetTextureView(tex *Texture, desc ViewDescriptor) (*TextureView, error) {
	if tex == nil {
		return nil, ErrNilTexture
	}
	if desc.Format == gputypes.TextureFormatUndefined {
		desc.Format = tex.desc.Format
	}
	var undefinedDimension gputypes.TextureViewDimension
	if desc.Dimension == undefinedDimension {
		desc.Dimension = gputypes.TextureViewDimension2D
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	key := viewKey{texture: tex, format: desc.Format, dimension: desc.Dimension}
	if v, ok := p.views[key]; ok && v.acquire() {
		return v, nil
	}

	if !tex.acquire() {
		return nil, ErrTextureDestroyed
	}
	raw, err := p.device.CreateTextureView(tex.raw, &hal.TextureViewDescriptor{
		Label:         "viewport_texture_view",
		Format:        desc.Format,
		Dimension:     desc.Dimension,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: tex.desc.MipLevelCount,
	})
	if err != nil {
		tex.Release()
		return nil, fmt.Errorf("pool: create texture view: %w", err)
	}

	v := &TextureView{raw: raw, texture: tex}
	v.init(func() {
		p.device.DestroyTextureView(raw)
		tex.Release()
	})

	// Only views of textures the pool still tracks are cached, so that
	// eviction can find and drop them.
	if cached, ok := p.index.Peek(tex.desc.key()); ok && cached == tex {
		v.acquire()
		p.views[key] = v
	}
	return v, nil
}

// GetSampler returns a cached sampler. Samplers are never evicted.
func (p *TexturePool) GetSampler(desc SamplerDescriptor) (*Sampler, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if s, ok := p.samplers[desc]; ok && s.acquire() {
		return s, nil
	}

	raw, err := p.device.CreateSampler(&hal.SamplerDescriptor{
		Label:        "viewport_sampler",
		AddressModeU: desc.AddressModeU,
		AddressModeV: desc.AddressModeV,
		AddressModeW: desc.AddressModeW,
		MagFilter:    desc.MagFilter,
		MinFilter:    desc.MinFilter,
		MipmapFilter: desc.MipmapFilter,
	})
	if err != nil {
		return nil, fmt.Errorf("pool: create sampler: %w", err)
	}

	s := &Sampler{raw: raw, desc: desc}
	s.init(func() { p.device.DestroySampler(raw) })
	s.acquire()
	p.samplers[desc] = s
	return s, nil
}

// Contains reports whether a texture matching desc is cached,
// without touching its recency.
func (p *TexturePool) Contains(desc TextureDescriptor) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.Contains(desc.normalized().key())
}

// Len returns the number of cached textures.
func (p *TexturePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.Len()
}

// ClassLen returns the number of cached textures in one class.
func (p *TexturePool) ClassLen(class TextureClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.ClassLen(class)
}

// Stats returns pool counters.
func (p *TexturePool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Entries = p.index.Len()
	s.Destroyed = p.destroyed.Load()
	return s
}

// MemoryUsageEstimate returns the descriptor-derived size of every cached texture.
func (p *TexturePool) MemoryUsageEstimate() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cachedBytes
}

// Memory returns the byte budget the pool charges.
func (p *TexturePool) Memory() *MemoryPool {
	return p.memory
}

// Clear drops the pool's references to all textures, views and samplers.
func (p *TexturePool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, v := range p.views {
		delete(p.views, k)
		v.Release()
	}
	for _, ev := range p.index.Clear() {
		ev.Value.Release()
	}
	for k, s := range p.samplers {
		delete(p.samplers, k)
		s.Release()
	}
	p.cachedBytes = 0
}

// Close clears the pool and rejects further requests.
func (p *TexturePool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}
