package pool

import (
	"errors"
	"sync"
	"time"
)

// ErrChunkNotAllocated is returned when releasing a chunk the pool does not
// consider live.
var ErrChunkNotAllocated = errors.New("pool: chunk is not allocated")

// Size class boundaries.
const (
	// SmallChunkLimit is the exclusive upper bound of the small class.
	SmallChunkLimit = 1 << 10

	// MediumChunkLimit is the exclusive upper bound of the medium class.
	MediumChunkLimit = 64 << 10

	// DefaultMemoryCapacity is the default byte budget (256 MiB).
	DefaultMemoryCapacity = 256 << 20
)

// SizeClass buckets chunks by size.
type SizeClass uint8

// Size classes.
const (
	ClassSmall SizeClass = iota
	ClassMedium
	ClassLarge

	numSizeClasses
)

// String returns the class name.
func (c SizeClass) String() string {
	switch c {
	case ClassSmall:
		return "small"
	case ClassMedium:
		return "medium"
	case ClassLarge:
		return "large"
	default:
		return "unknown"
	}
}

// SizeClassOf returns the class a request of size bytes falls into.
func SizeClassOf(size uint64) SizeClass {
	switch {
	case size < SmallChunkLimit:
		return ClassSmall
	case size < MediumChunkLimit:
		return ClassMedium
	default:
		return ClassLarge
	}
}

// Chunk is a reserved byte range within a MemoryPool.
type Chunk struct {
	Offset     uint64
	Size       uint64
	Class      SizeClass
	Free       bool
	LastUsed   time.Time
	UsageCount uint32
}

// MemoryStats is a snapshot of MemoryPool accounting.
type MemoryStats struct {
	// Capacity is the configured budget in bytes.
	Capacity uint64
	// Used is the number of bytes in live chunks.
	Used uint64
	// Reserved is the high-water mark: bytes ever carved out of the budget.
	Reserved uint64
	// Recycled is the number of bytes sitting in free lists.
	Recycled uint64
	// Allocations counts successful Allocate calls.
	Allocations uint64
	// Reuses counts allocations served from a free list.
	Reuses uint64
	// Failures counts allocations rejected for lack of budget.
	Failures uint64
	// LiveChunks is the number of chunks currently handed out.
	LiveChunks int
	// FreeChunks is the number of chunks waiting for reuse.
	FreeChunks int
	// Fragmentation is Recycled/Reserved, the share of reserved bytes idle.
	Fragmentation float64
}

// MemoryPool is a size-classed chunk allocator over a fixed byte budget.
//
// Released chunks go to the free list of their class and are reused by any
// later request of that class they are large enough for. Chunks are never
// returned to the budget while the pool lives.
//
// MemoryPool is safe for concurrent use.
type MemoryPool struct {
	mu sync.Mutex

	capacity  uint64
	highWater uint64
	used      uint64

	free [numSizeClasses][]Chunk
	live map[uint64]Chunk

	allocations uint64
	reuses      uint64
	failures    uint64

	now func() time.Time
}

// NewMemoryPool creates a pool with the given byte budget.
// A capacity of 0 selects DefaultMemoryCapacity.
func NewMemoryPool(capacity uint64) *MemoryPool {
	if capacity == 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryPool{
		capacity: capacity,
		live:     make(map[uint64]Chunk),
		now:      time.Now,
	}
}

// Capacity returns the byte budget.
func (p *MemoryPool) Capacity() uint64 {
	return p.capacity
}

// Allocate reserves a chunk of at least size bytes.
// It returns false when size is zero or the budget is exhausted.
func (p *MemoryPool) Allocate(size uint64) (Chunk, bool) {
	if size == 0 {
		return Chunk{}, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	class := SizeClassOf(size)
	now := p.now()

	list := p.free[class]
	for i, c := range list {
		if c.Size < size {
			continue
		}
		p.free[class] = append(list[:i], list[i+1:]...)
		c.Free = false
		c.LastUsed = now
		c.UsageCount++
		p.live[c.Offset] = c
		p.used += c.Size
		p.allocations++
		p.reuses++
		return c, true
	}

	if size > p.capacity-p.highWater {
		p.failures++
		slogger().Debug("pool: memory budget exhausted",
			"size", size, "class", class, "reserved", p.highWater, "capacity", p.capacity)
		return Chunk{}, false
	}

	c := Chunk{
		Offset:     p.highWater,
		Size:       size,
		Class:      class,
		LastUsed:   now,
		UsageCount: 1,
	}
	p.highWater += size
	p.live[c.Offset] = c
	p.used += size
	p.allocations++
	return c, true
}

// Deallocate moves a live chunk to the free list of its class.
func (p *MemoryPool) Deallocate(c Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	live, ok := p.live[c.Offset]
	if !ok || live.Size != c.Size {
		return ErrChunkNotAllocated
	}
	delete(p.live, c.Offset)

	live.Free = true
	live.LastUsed = p.now()
	p.free[live.Class] = append(p.free[live.Class], live)
	p.used -= live.Size
	return nil
}

// Stats returns a snapshot of the pool accounting.
func (p *MemoryPool) Stats() MemoryStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := MemoryStats{
		Capacity:    p.capacity,
		Used:        p.used,
		Reserved:    p.highWater,
		Allocations: p.allocations,
		Reuses:      p.reuses,
		Failures:    p.failures,
		LiveChunks:  len(p.live),
	}
	for _, list := range p.free {
		s.FreeChunks += len(list)
		for _, c := range list {
			s.Recycled += c.Size
		}
	}
	if s.Reserved > 0 {
		s.Fragmentation = float64(s.Recycled) / float64(s.Reserved)
	}
	return s
}

// Reset forgets every chunk, live or free, and restores the full budget.
// Chunks handed out before Reset must not be released afterwards.
func (p *MemoryPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.highWater = 0
	p.used = 0
	p.live = make(map[uint64]Chunk)
	for i := range p.free {
		p.free[i] = nil
	}
}
