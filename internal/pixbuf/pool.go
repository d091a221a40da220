// Package pixbuf recycles 4-byte-per-pixel staging buffers.
package pixbuf

import "sync"

// BytesPerPixel is the pixel size of every buffer handed out.
const BytesPerPixel = 4

// Pool groups pixel buffers by dimensions so that textures of the same
// size reuse one allocation instead of churning the GC every frame.
//
// All methods are safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[key][][]byte
	maxSize int // max buffers per bucket

	hits   uint64
	misses uint64
}

type key struct {
	width  int
	height int
}

// Stats reports pool effectiveness.
type Stats struct {
	Hits     uint64
	Misses   uint64
	Retained int
}

// NewPool creates a pool that retains at most maxPerBucket buffers of each
// size. A maxPerBucket of 0 or less means unlimited.
func NewPool(maxPerBucket int) *Pool {
	return &Pool{
		buckets: make(map[key][][]byte),
		maxSize: maxPerBucket,
	}
}

// Get returns a buffer of width*height*4 bytes. Reused buffers keep their
// previous content; callers overwrite it completely.
// Non-positive dimensions yield an empty slice.
func (p *Pool) Get(width, height int) []byte {
	if width <= 0 || height <= 0 {
		return nil
	}
	k := key{width: width, height: height}

	p.mu.Lock()
	bucket := p.buckets[k]
	if n := len(bucket); n > 0 {
		buf := bucket[n-1]
		bucket[n-1] = nil
		p.buckets[k] = bucket[:n-1]
		p.hits++
		p.mu.Unlock()
		return buf
	}
	p.misses++
	p.mu.Unlock()

	return make([]byte, width*height*BytesPerPixel)
}

// Put returns buf to the pool. Buffers whose length does not match the
// dimensions, and buffers beyond the bucket limit, are discarded.
func (p *Pool) Put(buf []byte, width, height int) {
	if width <= 0 || height <= 0 || len(buf) != width*height*BytesPerPixel {
		return
	}
	k := key{width: width, height: height}

	p.mu.Lock()
	defer p.mu.Unlock()

	bucket := p.buckets[k]
	if p.maxSize > 0 && len(bucket) >= p.maxSize {
		return
	}
	p.buckets[k] = append(bucket, buf)
}

// Stats returns hit/miss counts and the number of retained buffers.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{Hits: p.hits, Misses: p.misses}
	for _, b := range p.buckets {
		s.Retained += len(b)
	}
	return s
}

// Clear drops every retained buffer.
func (p *Pool) Clear() {
	p.mu.Lock()
	clear(p.buckets)
	p.mu.Unlock()
}
