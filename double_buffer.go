// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import "sync/atomic"

// DoubleBuffer pairs two framebuffers with an atomic front index.
//
// The producer writes the back buffer and publishes it with Swap, a single
// atomic store. A reader that loads the new front index sees every byte
// written to that buffer before the swap. Readers never lock the back buffer.
type DoubleBuffer struct {
	buffers [2]*Framebuffer
	front   atomic.Uint32
	swaps   atomic.Uint64
	seq     atomic.Uint64
}

// NewDoubleBuffer creates two framebuffers of the given size. Buffer 0 starts
// as the front buffer.
func NewDoubleBuffer(width, height int, format PixelFormat) *DoubleBuffer {
	return &DoubleBuffer{
		buffers: [2]*Framebuffer{
			NewFramebuffer(width, height, format),
			NewFramebuffer(width, height, format),
		},
	}
}

// FrontIndex returns the index of the front buffer, 0 or 1.
func (d *DoubleBuffer) FrontIndex() int { return int(d.front.Load()) }

// Buffer returns framebuffer i (0 or 1).
func (d *DoubleBuffer) Buffer(i int) *Framebuffer { return d.buffers[i&1] }

// FrontBuffer returns the buffer readers consume.
func (d *DoubleBuffer) FrontBuffer() *Framebuffer { return d.buffers[d.front.Load()] }

// BackBuffer returns the buffer the producer writes.
func (d *DoubleBuffer) BackBuffer() *Framebuffer { return d.buffers[1-d.front.Load()] }

// Swap publishes the back buffer and returns the new front index.
// The caller must have finished writing (and unlocked) the back buffer.
// The published buffer is stamped with the next frame sequence number.
func (d *DoubleBuffer) Swap() int {
	for {
		f := d.front.Load()
		d.buffers[1-f].frame.Store(d.seq.Add(1))
		if d.front.CompareAndSwap(f, 1-f) {
			d.swaps.Add(1)
			return int(1 - f)
		}
	}
}

// Swaps returns the number of completed swaps.
func (d *DoubleBuffer) Swaps() uint64 { return d.swaps.Load() }

// Resize resizes both buffers under their locks. Content is discarded and
// both buffers become fully dirty. Buffers are locked in index order.
func (d *DoubleBuffer) Resize(width, height int) {
	for _, fb := range d.buffers {
		fb.Lock()
	}
	for _, fb := range d.buffers {
		fb.Resize(width, height)
	}
	for _, fb := range d.buffers {
		fb.Unlock()
	}
}

// Size returns the dimensions of the front buffer.
func (d *DoubleBuffer) Size() (width, height int) {
	fb := d.FrontBuffer()
	fb.Lock()
	defer fb.Unlock()
	return fb.Width(), fb.Height()
}
