// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Viewport errors.
var (
	// ErrViewportClosed is returned by operations on a closed viewport.
	ErrViewportClosed = errors.New("viewport: closed")

	// ErrTargetReleased is returned by a redraw callback whose UI target is
	// gone. The bridge goroutine exits quietly when it sees it.
	ErrTargetReleased = errors.New("viewport: redraw target released")

	// ErrInvalidDimensions is returned for negative sizes.
	ErrInvalidDimensions = errors.New("viewport: invalid dimensions")
)

// Metrics is a snapshot of viewport counters.
type Metrics struct {
	Swaps                uint64
	NotificationsSent    uint64
	NotificationsDropped uint64 // debounced: a notification was already pending
	NotificationsDrained uint64 // coalesced by the bridge after waking
	FramesBridged        uint64
	TexturesReplaced     uint64 // bridged but never consumed
	TexturesTaken        uint64
	BridgeErrors         uint64
	LastBridgeDuration   time.Duration
}

// Viewport is a double-buffered frame pipeline between a producer thread
// and a UI consumer.
//
// The producer renders into BackBuffer, calls SwapBuffers, then Notify.
// A background goroutine (the bridge) wakes on the notification, turns the
// front buffer into a Texture, stores it in a single-slot holder and calls
// the redraw callback. The UI calls TakeReadyTexture on each paint.
//
// All methods are safe for concurrent use.
type Viewport struct {
	buffers *DoubleBuffer
	slot    TextureSlot
	factory TextureFactory
	owned   interface{ Close() }
	redraw  func() error
	policy  ConsumePolicy

	notify   chan struct{}
	shutdown chan struct{}
	done     chan struct{}

	closeTimeout time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool

	// lastMu guards last, the texture ConsumeLatest redisplays.
	lastMu sync.Mutex
	last   Texture

	sent         atomic.Uint64
	dropped      atomic.Uint64
	drained      atomic.Uint64
	bridged      atomic.Uint64
	replaced     atomic.Uint64
	taken        atomic.Uint64
	bridgeErrors atomic.Uint64
	lastBridge   atomic.Int64
}

// New creates a viewport of the given size and starts its bridge goroutine.
// Negative dimensions are treated as zero; a zero-size viewport bridges
// nothing until it is resized.
//
// Example:
//
//	vp := viewport.New(800, 600, viewport.WithRedraw(requestRedraw))
//	defer vp.Close()
func New(width, height int, opts ...Option) *Viewport {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	v := &Viewport{
		redraw:       o.redraw,
		policy:       o.policy,
		notify:       make(chan struct{}, 1),
		shutdown:     make(chan struct{}, 1),
		done:         make(chan struct{}),
		closeTimeout: o.closeTimeout,
		factory:      o.factory,
	}

	format := o.format
	if o.provider != nil {
		format = PixelFormatOf(o.provider.SurfaceFormat())
		if v.factory == nil {
			if device, queue, ok := halFromProvider(o.provider); ok {
				f, err := NewGPUTextureFactory(device, queue, nil)
				if err != nil {
					Logger().Warn("viewport: gpu texture factory unavailable, using cpu textures", "err", err)
				} else {
					v.factory = f
					v.owned = f
				}
			}
		}
	}
	if v.factory == nil {
		v.factory = NewImageTextureFactory()
	}

	v.buffers = NewDoubleBuffer(width, height, format)

	go v.bridge(o.ctx)

	Logger().Info("viewport: created",
		"width", max(width, 0), "height", max(height, 0),
		"format", format, "policy", o.policy)
	return v
}

// Buffers returns the underlying double buffer.
func (v *Viewport) Buffers() *DoubleBuffer { return v.buffers }

// BackBuffer returns the framebuffer the producer writes next.
// Lock it (or TryLock) while writing.
func (v *Viewport) BackBuffer() *Framebuffer { return v.buffers.BackBuffer() }

// FrontBuffer returns the most recently published framebuffer.
func (v *Viewport) FrontBuffer() *Framebuffer { return v.buffers.FrontBuffer() }

// SwapBuffers publishes the back buffer. It never blocks.
func (v *Viewport) SwapBuffers() {
	if v.closed.Load() {
		return
	}
	v.buffers.Swap()
}

// Notify signals the bridge that a new front buffer is ready. If a
// notification is already pending the call is dropped and Notify returns
// false; the pending one covers this frame too.
func (v *Viewport) Notify() bool {
	if v.closed.Load() {
		return false
	}
	select {
	case v.notify <- struct{}{}:
		v.sent.Add(1)
		return true
	default:
		v.dropped.Add(1)
		return false
	}
}

// RefreshHook returns a fire-and-forget notification function for
// producers that only know how to call a hook.
func (v *Viewport) RefreshHook() func() {
	return func() { v.Notify() }
}

// Present swaps the buffers and notifies the bridge.
// It reports whether the notification was delivered.
func (v *Viewport) Present() bool {
	v.SwapBuffers()
	return v.Notify()
}

// TakeReadyTexture returns the latest bridged texture.
//
// Under ConsumeTake the slot is emptied and the caller owns the texture; it
// must Release it after painting. Under ConsumeLatest the viewport keeps
// ownership: the texture stays valid until the next TakeReadyTexture or
// Close, and calling Release on it does nothing.
func (v *Viewport) TakeReadyTexture() (Texture, bool) {
	if v.closed.Load() {
		return nil, false
	}
	t, ok := v.slot.Take()
	if ok {
		v.taken.Add(1)
	}
	if v.policy != ConsumeLatest {
		return t, ok
	}

	v.lastMu.Lock()
	defer v.lastMu.Unlock()
	if ok {
		if v.last != nil {
			v.last.Release()
		}
		v.last = t
	}
	if v.last == nil {
		return nil, false
	}
	return borrowed{v.last}, true
}

// HasReadyTexture reports whether a bridged texture is waiting.
func (v *Viewport) HasReadyTexture() bool {
	_, ok := v.slot.Peek()
	return ok
}

// borrowed hides Release from consumers of viewport-owned textures.
type borrowed struct{ Texture }

func (borrowed) Release() {}

// Unwrap returns the texture a borrowed handle refers to.
func (b borrowed) Unwrap() Texture { return b.Texture }

// Resize resizes both framebuffers. Their content is discarded and both
// become fully dirty.
func (v *Viewport) Resize(width, height int) error {
	if v.closed.Load() {
		return ErrViewportClosed
	}
	if width < 0 || height < 0 {
		return fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	v.buffers.Resize(width, height)
	Logger().Debug("viewport: resized", "width", width, "height", height)
	return nil
}

// Size returns the framebuffer dimensions.
func (v *Viewport) Size() (width, height int) { return v.buffers.Size() }

// Metrics returns a snapshot of the viewport counters.
func (v *Viewport) Metrics() Metrics {
	return Metrics{
		Swaps:                v.buffers.Swaps(),
		NotificationsSent:    v.sent.Load(),
		NotificationsDropped: v.dropped.Load(),
		NotificationsDrained: v.drained.Load(),
		FramesBridged:        v.bridged.Load(),
		TexturesReplaced:     v.replaced.Load(),
		TexturesTaken:        v.taken.Load(),
		BridgeErrors:         v.bridgeErrors.Load(),
		LastBridgeDuration:   time.Duration(v.lastBridge.Load()),
	}
}

// Closed reports whether Close has been called.
func (v *Viewport) Closed() bool { return v.closed.Load() }

// Done is closed when the bridge goroutine has exited.
func (v *Viewport) Done() <-chan struct{} { return v.done }

// Close stops the bridge, waits for it to exit (bounded by the close
// timeout) and releases any texture still held. Close is idempotent.
func (v *Viewport) Close() error {
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.shutdown <- struct{}{}

		select {
		case <-v.done:
		case <-time.After(v.closeTimeout):
			Logger().Warn("viewport: bridge did not stop in time", "timeout", v.closeTimeout)
		}

		if t := v.slot.Clear(); t != nil {
			t.Release()
		}
		v.lastMu.Lock()
		if v.last != nil {
			v.last.Release()
			v.last = nil
		}
		v.lastMu.Unlock()

		if v.owned != nil {
			v.owned.Close()
		}
		Logger().Info("viewport: closed", "bridged", v.bridged.Load(), "swaps", v.buffers.Swaps())
	})
	return nil
}

// =============================================================================
// Bridge
// =============================================================================

// bridge waits for notifications and turns the front buffer into a texture.
func (v *Viewport) bridge(ctx context.Context) {
	defer close(v.done)

	for {
		select {
		case <-v.shutdown:
			return
		case <-ctx.Done():
			return
		case <-v.notify:
		}

		if n := v.drainNotifications(); n > 0 {
			v.drained.Add(uint64(n)) //nolint:gosec // n is non-negative
			Logger().Debug("viewport: coalesced notifications", "count", n)
		}

		if err := v.bridgeFrame(); err != nil {
			if errors.Is(err, ErrTargetReleased) {
				Logger().Debug("viewport: redraw target released, bridge exiting")
				return
			}
			v.bridgeErrors.Add(1)
			Logger().Warn("viewport: bridge failed", "err", err)
		}
	}
}

// drainNotifications consumes notifications that arrived while the bridge
// was waking so only the latest frame is processed.
func (v *Viewport) drainNotifications() int {
	n := 0
	for {
		select {
		case <-v.notify:
			n++
		default:
			return n
		}
	}
}

// bridgeFrame builds a texture from the front buffer, stores it and asks
// the UI to redraw.
func (v *Viewport) bridgeFrame() error {
	if v.closed.Load() {
		return ErrTargetReleased
	}
	start := time.Now()

	fb := v.buffers.FrontBuffer()
	fb.Lock()
	if fb.Empty() {
		fb.Unlock()
		return nil
	}
	tex, err := v.factory.NewTexture(fb)
	fb.Unlock()
	if err != nil {
		return fmt.Errorf("viewport: build texture: %w", err)
	}

	if prev := v.slot.Store(tex); prev != nil {
		prev.Release()
		v.replaced.Add(1)
		Logger().Debug("viewport: replaced unconsumed texture", "generation", prev.Generation())
	}
	v.bridged.Add(1)
	v.lastBridge.Store(int64(time.Since(start)))

	if v.redraw == nil {
		return nil
	}
	return v.redraw()
}
