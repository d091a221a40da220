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

// Pool errors.
var (
	// ErrPoolClosed is returned when using a pool after Close.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrPoolExhausted is returned when the memory budget cannot fit a new resource
	// even after evicting every cached entry.
	ErrPoolExhausted = errors.New("pool: memory budget exhausted")

	// ErrInvalidSize is returned for zero-sized requests.
	ErrInvalidSize = errors.New("pool: invalid resource size")

	// ErrNilDevice is returned when no device is supplied.
	ErrNilDevice = errors.New("pool: device is required")

	// ErrDataTooLarge is returned when initial data exceeds the buffer size.
	ErrDataTooLarge = errors.New("pool: initial data larger than buffer")
)

const (
	// DefaultMaxCached is the default entry limit of buffer and texture pools.
	DefaultMaxCached = 256

	// NominalBufferBytes is the per-entry size used by BufferPool.MemoryUsageEstimate.
	NominalBufferBytes = 1024
)

// BufferClass is the usage class a buffer is cached under.
type BufferClass uint8

// Buffer usage classes.
const (
	BufferVertex BufferClass = iota
	BufferIndex
	BufferUniform
	BufferStorage
)

// String returns the class name.
func (c BufferClass) String() string {
	switch c {
	case BufferVertex:
		return "vertex"
	case BufferIndex:
		return "index"
	case BufferUniform:
		return "uniform"
	case BufferStorage:
		return "storage"
	default:
		return fmt.Sprintf("BufferClass(%d)", uint8(c))
	}
}

// Usage returns the hal usage flags for buffers of this class.
// Every class is a copy destination so initial data can be written.
func (c BufferClass) Usage() gputypes.BufferUsage {
	switch c {
	case BufferVertex:
		return gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst
	case BufferIndex:
		return gputypes.BufferUsageIndex | gputypes.BufferUsageCopyDst
	case BufferUniform:
		return gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst
	default:
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc
	}
}

// Buffer is a shared handle to a pooled hal buffer.
// Call Release when done with it.
type Buffer struct {
	refCount

	raw   hal.Buffer
	size  uint64
	class BufferClass
	chunk Chunk
}

// Raw returns the underlying hal buffer.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Class returns the usage class the buffer was created for.
func (b *Buffer) Class() BufferClass { return b.class }

// Usage returns the hal usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.class.Usage() }

type bufferKey struct {
	size  uint64
	usage gputypes.BufferUsage
}

// Stats counts pool activity.
type Stats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Created   uint64
	Destroyed uint64
}

// BufferPoolConfig configures a BufferPool.
type BufferPoolConfig struct {
	// MaxCached bounds the number of cached buffers. Defaults to DefaultMaxCached.
	MaxCached int

	// Memory is the byte budget charged for created buffers.
	// Defaults to a private pool of DefaultMemoryCapacity.
	Memory *MemoryPool

	// Label prefixes hal debug labels.
	Label string
}

// BufferPool caches buffers by (size, usage).
//
// BufferPool is safe for concurrent use.
type BufferPool struct {
	mu sync.Mutex

	device hal.Device
	queue  hal.Queue
	memory *MemoryPool
	label  string

	index *cache.Index[bufferKey, BufferClass, *Buffer]
	stats Stats

	// destroyed is atomic: the last Release may run with or without mu held.
	destroyed atomic.Uint64

	closed bool
}

// NewBufferPool creates a buffer pool on device. queue may be nil if no
// initial data is ever supplied.
func NewBufferPool(device hal.Device, queue hal.Queue, cfg BufferPoolConfig) (*BufferPool, error) {
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
	label := cfg.Label
	if label == "" {
		label = "viewport_buffer"
	}
	return &BufferPool{
		device: device,
		queue:  queue,
		memory: memory,
		label:  label,
		index:  cache.NewIndex[bufferKey, BufferClass, *Buffer](maxCached),
	}, nil
}

// GetBuffer returns a shared buffer of the given size and class.
//
// A cached buffer with the same size and usage is returned on a hit. On a
// miss a new buffer is created, evicting the least recently used entry first
// if the pool is full. When data is non-nil it is written at offset 0 on
// every call, hit or miss.
func (p *BufferPool) GetBuffer(size uint64, class BufferClass, data []byte) (*Buffer, error) {
	if size == 0 {
		return nil, ErrInvalidSize
	}
	if uint64(len(data)) > size {
		return nil, fmt.Errorf("%w: %d > %d", ErrDataTooLarge, len(data), size)
	}

	p.mu.Lock()
	buf, err := p.getLocked(size, class)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if len(data) > 0 && p.queue != nil {
		p.queue.WriteBuffer(buf.raw, 0, data)
	}
	return buf, nil
}

func (p *BufferPool) getLocked(size uint64, class BufferClass) (*Buffer, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}

	key := bufferKey{size: size, usage: class.Usage()}
	if buf, ok := p.index.Get(key); ok && buf.acquire() {
		p.stats.Hits++
		return buf, nil
	}
	p.stats.Misses++

	// Make room before creating, so capacity holds at every instant.
	if limit := p.index.Capacity(); limit > 0 {
		for p.index.Len() >= limit {
			p.evictOldestLocked()
		}
	}

	chunk, ok := p.memory.Allocate(size)
	for !ok && p.index.Len() > 0 {
		p.evictOldestLocked()
		chunk, ok = p.memory.Allocate(size)
	}
	if !ok {
		return nil, fmt.Errorf("%w: buffer of %d bytes", ErrPoolExhausted, size)
	}

	raw, err := p.device.CreateBuffer(&hal.BufferDescriptor{
		Label: fmt.Sprintf("%s_%s_%d", p.label, class, size),
		Size:  size,
		Usage: key.usage,
	})
	if err != nil {
		_ = p.memory.Deallocate(chunk)
		return nil, fmt.Errorf("pool: create buffer: %w", err)
	}

	buf := &Buffer{raw: raw, size: size, class: class, chunk: chunk}
	buf.init(func() { p.destroyBuffer(buf) })
	buf.acquire() // caller's reference; the pool keeps the initial one

	p.index.Put(key, class, buf)
	p.stats.Created++
	return buf, nil
}

func (p *BufferPool) evictOldestLocked() {
	ev, ok := p.index.RemoveOldest()
	if !ok {
		return
	}
	p.stats.Evictions++
	if ev.Value.Refs() > 1 {
		slogger().Debug("pool: evicted buffer still referenced",
			"class", ev.Class, "size", ev.Key.size, "refs", ev.Value.Refs()-1)
	}
	ev.Value.Release()
}

func (p *BufferPool) destroyBuffer(b *Buffer) {
	p.device.DestroyBuffer(b.raw)
	if err := p.memory.Deallocate(b.chunk); err != nil {
		slogger().Warn("pool: buffer chunk release failed", "size", b.size, "err", err)
	}
	p.destroyed.Add(1)
}

// Contains reports whether a buffer of this size and class is cached,
// without touching its recency.
func (p *BufferPool) Contains(size uint64, class BufferClass) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.Contains(bufferKey{size: size, usage: class.Usage()})
}

// Len returns the number of cached buffers.
func (p *BufferPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.Len()
}

// ClassLen returns the number of cached buffers in one class.
func (p *BufferPool) ClassLen(class BufferClass) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index.ClassLen(class)
}

// Stats returns pool counters.
func (p *BufferPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	s.Entries = p.index.Len()
	s.Destroyed = p.destroyed.Load()
	return s
}

// MemoryUsageEstimate returns cached entries times NominalBufferBytes.
// It is an estimate, not byte-exact accounting; see Memory for the latter.
func (p *BufferPool) MemoryUsageEstimate() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return uint64(p.index.Len()) * NominalBufferBytes
}

// Memory returns the byte budget the pool charges.
func (p *BufferPool) Memory() *MemoryPool {
	return p.memory
}

// Clear drops the pool's reference to every cached buffer.
func (p *BufferPool) Clear() {
	p.mu.Lock()
	evicted := p.index.Clear()
	p.mu.Unlock()

	for _, ev := range evicted {
		ev.Value.Release()
	}
}

// Close clears the pool and rejects further requests.
func (p *BufferPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
}
