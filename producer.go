// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/viewport/internal/osthread"
)

// Producer errors.
var (
	// ErrNilRenderer is returned by NewProducer without a renderer.
	ErrNilRenderer = errors.New("viewport: nil frame renderer")

	// ErrProducerRunning is returned by Start on a running producer.
	ErrProducerRunning = errors.New("viewport: producer already running")
)

// FrameRenderer draws one frame into the locked back buffer.
// frame counts rendered frames starting at 1.
type FrameRenderer interface {
	RenderFrame(fb *Framebuffer, frame uint64) error
}

// FrameRendererFunc adapts a function to FrameRenderer.
type FrameRendererFunc func(fb *Framebuffer, frame uint64) error

// RenderFrame calls f(fb, frame).
func (f FrameRendererFunc) RenderFrame(fb *Framebuffer, frame uint64) error { return f(fb, frame) }

// ProducerConfig configures a Producer.
type ProducerConfig struct {
	Pacing PacingConfig

	// Pin binds the producer's OS thread to CPU. A negative CPU selects
	// the last core.
	Pin bool
	CPU int

	// Priority lowers the thread's nice value by this much. Zero leaves it.
	Priority int

	// TimingLogEvery frames a debug record with frame timings is logged.
	// Defaults to 60.
	TimingLogEvery uint64

	// PausePoll is how often a paused producer checks for resume.
	// Defaults to 50ms.
	PausePoll time.Duration
}

// ProducerStats is a snapshot of producer counters.
type ProducerStats struct {
	Iterations           uint64
	Frames               uint64 // rendered and presented
	ContendedFrames      uint64 // back buffer busy, frame skipped
	RenderErrors         uint64
	DroppedNotifications uint64 // debounced by a pending notification
	CurrentInterval      time.Duration
	Pinned               bool
}

// Producer renders frames into a Viewport on a dedicated OS thread at an
// adaptively paced rate.
//
// Each iteration tries to lock the back buffer without blocking, renders,
// marks the buffer dirty, swaps and notifies. A busy back buffer skips the
// iteration; a pending notification absorbs the new one. Neither blocks.
type Producer struct {
	vp       *Viewport
	renderer FrameRenderer
	cfg      ProducerConfig

	pacing  atomic.Pointer[PacingConfig]
	enabled atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	iterations atomic.Uint64
	frames     atomic.Uint64
	contended  atomic.Uint64
	renderErrs atomic.Uint64
	dropped    atomic.Uint64
	interval   atomic.Int64
	pinned     atomic.Bool
}

// NewProducer creates a stopped producer for vp.
func NewProducer(vp *Viewport, renderer FrameRenderer, cfg ProducerConfig) (*Producer, error) {
	if vp == nil {
		return nil, ErrViewportClosed
	}
	if renderer == nil {
		return nil, ErrNilRenderer
	}
	if cfg.TimingLogEvery == 0 {
		cfg.TimingLogEvery = 60
	}
	if cfg.PausePoll <= 0 {
		cfg.PausePoll = 50 * time.Millisecond
	}
	cfg.Pacing = cfg.Pacing.withDefaults()

	p := &Producer{vp: vp, renderer: renderer, cfg: cfg}
	p.enabled.Store(true)
	p.interval.Store(int64(cfg.Pacing.Base))
	return p, nil
}

// Start launches the render loop. It runs until ctx is canceled, Stop is
// called or the viewport is closed.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.done != nil {
		select {
		case <-p.done:
		default:
			return ErrProducerRunning
		}
	}
	if p.vp.Closed() {
		return ErrViewportClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Stop asks the render loop to exit and waits for it.
func (p *Producer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.Wait()
}

// Wait blocks until the render loop has exited.
func (p *Producer) Wait() {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done != nil {
		<-done
	}
}

// SetPacing replaces the pacing configuration. The loop applies it before
// its next frame.
func (p *Producer) SetPacing(cfg PacingConfig) {
	cfg = cfg.withDefaults()
	p.pacing.Store(&cfg)
}

// SetEnabled pauses (false) or resumes (true) rendering without stopping
// the loop.
func (p *Producer) SetEnabled(on bool) { p.enabled.Store(on) }

// Enabled reports whether rendering is active.
func (p *Producer) Enabled() bool { return p.enabled.Load() }

// Stats returns a snapshot of the producer counters.
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{
		Iterations:           p.iterations.Load(),
		Frames:               p.frames.Load(),
		ContendedFrames:      p.contended.Load(),
		RenderErrors:         p.renderErrs.Load(),
		DroppedNotifications: p.dropped.Load(),
		CurrentInterval:      time.Duration(p.interval.Load()),
		Pinned:               p.pinned.Load(),
	}
}

func (p *Producer) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	p.setupThread()

	pacer := NewPacer(p.cfg.Pacing)
	Logger().Info("viewport: producer started", "base", pacer.Config().Base, "max", pacer.Config().Max)

	for iter := uint64(1); ; iter++ {
		if ctx.Err() != nil || p.vp.Closed() {
			break
		}
		if cfg := p.pacing.Swap(nil); cfg != nil {
			pacer.Reconfigure(*cfg)
			Logger().Debug("viewport: pacing updated", "base", cfg.Base, "max", cfg.Max, "cpu", cfg.MaxCPUPercent)
		}
		if !p.enabled.Load() {
			if !sleepCtx(ctx, p.cfg.PausePoll) {
				break
			}
			continue
		}
		p.iterations.Add(1)

		start := time.Now()
		rendered := p.renderOnce()
		renderTime := time.Since(start)

		var swapTime, refreshTime time.Duration
		if rendered {
			t := time.Now()
			p.vp.SwapBuffers()
			swapTime = time.Since(t)

			t = time.Now()
			if !p.vp.Notify() {
				p.dropped.Add(1)
			}
			refreshTime = time.Since(t)
			p.frames.Add(1)
		}

		work := time.Since(start)
		d := pacer.Next(work, iter)
		p.interval.Store(int64(d.Target))

		if iter%p.cfg.TimingLogEvery == 0 {
			Logger().Debug("viewport: frame timing",
				"frame", p.frames.Load(),
				"render_us", renderTime.Microseconds(),
				"swap_us", swapTime.Microseconds(),
				"refresh_us", refreshTime.Microseconds(),
				"sleep_ms", float64(d.Total())/float64(time.Millisecond),
				"target_ms", float64(d.Target)/float64(time.Millisecond))
		}

		if !p.wait(ctx, d) {
			break
		}
	}

	Logger().Info("viewport: producer stopped", "frames", p.frames.Load(), "contended", p.contended.Load())
}

// setupThread applies pinning and priority to the locked thread.
// Failures are logged; the producer runs unpinned.
func (p *Producer) setupThread() {
	if p.cfg.Pin {
		if err := osthread.Pin(p.cfg.CPU); err != nil {
			Logger().Warn("viewport: producer pinning failed", "cpu", p.cfg.CPU, "err", err)
		} else {
			p.pinned.Store(true)
			Logger().Info("viewport: producer pinned", "cpu", p.cfg.CPU)
		}
	}
	if p.cfg.Priority > 0 {
		if err := osthread.RaisePriority(p.cfg.Priority); err != nil {
			Logger().Warn("viewport: producer priority unchanged", "delta", p.cfg.Priority, "err", err)
		}
	}
}

// renderOnce renders into the back buffer if it can be locked right away.
func (p *Producer) renderOnce() bool {
	fb := p.vp.BackBuffer()
	if !fb.TryLock() {
		p.contended.Add(1)
		return false
	}
	defer fb.Unlock()

	if err := p.renderer.RenderFrame(fb, p.frames.Load()+1); err != nil {
		p.renderErrs.Add(1)
		Logger().Warn("viewport: render failed", "err", err)
		return false
	}
	fb.MarkDirtyAll()
	return true
}

// wait carries out a pacing decision. It returns false if ctx ended.
func (p *Producer) wait(ctx context.Context, d PaceDecision) bool {
	if !sleepCtx(ctx, d.Sleep) {
		return false
	}
	if d.Yield {
		runtime.Gosched()
		if !sleepCtx(ctx, d.YieldSleep) {
			return false
		}
	}
	return sleepCtx(ctx, d.SafetySleep)
}

// sleepCtx sleeps for d or until ctx ends, reporting whether ctx is still live.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
