// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import (
	"context"
	"errors"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

const waitTimeout = 2 * time.Second

// =============================================================================
// Helpers
// =============================================================================

// redrawRecorder signals every redraw on a buffered channel.
type redrawRecorder struct {
	calls chan struct{}
	err   atomic.Pointer[error]
}

func newRedrawRecorder() *redrawRecorder {
	return &redrawRecorder{calls: make(chan struct{}, 64)}
}

func (r *redrawRecorder) redraw() error {
	r.calls <- struct{}{}
	if p := r.err.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *redrawRecorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.calls:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for redraw")
	}
}

// countingFactory wraps a factory and counts texture releases.
type countingFactory struct {
	inner    TextureFactory
	created  atomic.Int32
	released atomic.Int32
	fail     atomic.Bool
}

var errFactory = errors.New("factory failure")

func (f *countingFactory) NewTexture(fb *Framebuffer) (Texture, error) {
	if f.fail.Load() {
		return nil, errFactory
	}
	tex, err := f.inner.NewTexture(fb)
	if err != nil {
		return nil, err
	}
	f.created.Add(1)
	return &countedTexture{Texture: tex, f: f}, nil
}

type countedTexture struct {
	Texture
	f    *countingFactory
	once atomic.Bool
}

func (t *countedTexture) Release() {
	if t.once.CompareAndSwap(false, true) {
		t.f.released.Add(1)
		t.Texture.Release()
	}
}

// renderFrame fills the back buffer with a solid color and presents it.
func renderFrame(t *testing.T, vp *Viewport, c color.RGBA) {
	t.Helper()
	fb := vp.BackBuffer()
	fb.Lock()
	fb.Clear(c)
	fb.Unlock()
	vp.SwapBuffers()
	vp.Notify()
}

// pixelOf returns pixel (0, 0) of a CPU texture.
func pixelOf(t *testing.T, tex Texture) color.RGBA {
	t.Helper()
	if b, ok := tex.(borrowed); ok {
		tex = b.Unwrap()
	}
	if ct, ok := tex.(*countedTexture); ok {
		tex = ct.Texture
	}
	it, ok := tex.(*ImageTexture)
	if !ok {
		t.Fatalf("texture is %T, want *ImageTexture", tex)
	}
	r, g, b, a := it.At(0, 0)
	return color.RGBA{R: r, G: g, B: b, A: a}
}

func waitDone(t *testing.T, vp *Viewport) {
	t.Helper()
	select {
	case <-vp.Done():
	case <-time.After(waitTimeout):
		t.Fatal("bridge did not exit")
	}
}

// =============================================================================
// Frame pipeline
// =============================================================================

func TestViewport_BridgeAndTake(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(4, 4, WithRedraw(rec.redraw))
	t.Cleanup(func() { _ = vp.Close() })

	green := color.RGBA{G: 200, A: 255}
	renderFrame(t, vp, green)
	rec.wait(t)

	tex, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("TakeReadyTexture() found nothing after redraw")
	}
	defer tex.Release()

	if tex.Width() != 4 || tex.Height() != 4 || tex.Format() != FormatRGBA8 {
		t.Errorf("texture = %dx%d %v", tex.Width(), tex.Height(), tex.Format())
	}
	if got := pixelOf(t, tex); got != green {
		t.Errorf("pixel = %v, want %v", got, green)
	}

	if _, ok := vp.TakeReadyTexture(); ok {
		t.Error("second TakeReadyTexture() should find an empty slot")
	}

	m := vp.Metrics()
	if m.FramesBridged != 1 || m.TexturesTaken != 1 || m.Swaps != 1 || m.NotificationsSent != 1 {
		t.Errorf("Metrics() = %+v", m)
	}
}

// TestViewport_Debounce holds the bridge inside a redraw while the producer
// publishes several frames, then checks that exactly one more pass runs
// and that it sees the latest frame.
func TestViewport_Debounce(t *testing.T) {
	const burst = 20

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	passes := make(chan struct{}, 64)
	var calls atomic.Int32

	vp := New(2, 2, WithRedraw(func() error {
		if calls.Add(1) == 1 {
			entered <- struct{}{}
			<-gate
		}
		passes <- struct{}{}
		return nil
	}))
	t.Cleanup(func() { _ = vp.Close() })

	renderFrame(t, vp, color.RGBA{R: 1, A: 255})
	select {
	case <-entered:
	case <-time.After(waitTimeout):
		t.Fatal("bridge never reached redraw")
	}
	if tex, ok := vp.TakeReadyTexture(); ok {
		tex.Release()
	}

	for i := 2; i <= burst+1; i++ {
		renderFrame(t, vp, color.RGBA{R: uint8(i), A: 255}) //nolint:gosec // i <= burst+1
	}

	m := vp.Metrics()
	if m.NotificationsSent != 2 {
		t.Errorf("NotificationsSent = %d, want 2", m.NotificationsSent)
	}
	if m.NotificationsDropped != burst-1 {
		t.Errorf("NotificationsDropped = %d, want %d", m.NotificationsDropped, burst-1)
	}

	close(gate)
	for range 2 {
		select {
		case <-passes:
		case <-time.After(waitTimeout):
			t.Fatal("timed out waiting for bridge passes")
		}
	}

	// Give a spurious third pass the chance to show up.
	time.Sleep(50 * time.Millisecond)
	if got := vp.Metrics().FramesBridged; got != 2 {
		t.Fatalf("FramesBridged = %d, want 2", got)
	}

	tex, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("no texture after the coalesced pass")
	}
	defer tex.Release()
	if got := pixelOf(t, tex); got.R != burst+1 {
		t.Errorf("coalesced pass bridged frame %d, want latest %d", got.R, burst+1)
	}
}

func TestViewport_UnconsumedTextureReplaced(t *testing.T) {
	rec := newRedrawRecorder()
	f := &countingFactory{inner: NewImageTextureFactory()}
	vp := New(2, 2, WithRedraw(rec.redraw), WithTextureFactory(f))
	t.Cleanup(func() { _ = vp.Close() })

	renderFrame(t, vp, color.RGBA{R: 1, A: 255})
	rec.wait(t)
	renderFrame(t, vp, color.RGBA{R: 2, A: 255})
	rec.wait(t)

	if got := vp.Metrics().TexturesReplaced; got != 1 {
		t.Errorf("TexturesReplaced = %d, want 1", got)
	}
	if got := f.released.Load(); got != 1 {
		t.Errorf("released = %d, want the replaced texture released", got)
	}

	tex, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("TakeReadyTexture() found nothing")
	}
	if got := pixelOf(t, tex); got.R != 2 {
		t.Errorf("slot holds frame %d, want 2", got.R)
	}
	tex.Release()
}

func TestViewport_ConsumeLatest(t *testing.T) {
	rec := newRedrawRecorder()
	f := &countingFactory{inner: NewImageTextureFactory()}
	vp := New(2, 2, WithRedraw(rec.redraw), WithTextureFactory(f), WithConsumePolicy(ConsumeLatest))

	if _, ok := vp.TakeReadyTexture(); ok {
		t.Fatal("TakeReadyTexture() before any frame should be empty")
	}

	renderFrame(t, vp, color.RGBA{R: 1, A: 255})
	rec.wait(t)

	first, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("no texture after first frame")
	}
	first.Release() // borrowed: must not release

	again, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("ConsumeLatest should redisplay the last texture")
	}
	if again.Generation() != first.Generation() {
		t.Errorf("redisplayed generation %d, want %d", again.Generation(), first.Generation())
	}
	if got := f.released.Load(); got != 0 {
		t.Fatalf("released = %d, borrowed textures must stay alive", got)
	}

	renderFrame(t, vp, color.RGBA{R: 2, A: 255})
	rec.wait(t)
	next, ok := vp.TakeReadyTexture()
	if !ok || pixelOf(t, next).R != 2 {
		t.Fatal("ConsumeLatest did not pick up the new frame")
	}
	if got := f.released.Load(); got != 1 {
		t.Errorf("released = %d, want the superseded texture released", got)
	}

	_ = vp.Close()
	if got := f.released.Load(); got != 2 {
		t.Errorf("released after Close = %d, want 2", got)
	}
}

func TestViewport_RefreshHook(t *testing.T) {
	rec := newRedrawRecorder()
	vp := New(2, 2, WithRedraw(rec.redraw))
	t.Cleanup(func() { _ = vp.Close() })

	hook := vp.RefreshHook()
	fb := vp.BackBuffer()
	fb.Lock()
	fb.Clear(color.RGBA{B: 9, A: 255})
	fb.Unlock()
	vp.SwapBuffers()
	hook()
	rec.wait(t)

	if !vp.HasReadyTexture() {
		t.Error("RefreshHook did not lead to a bridged texture")
	}
}

func TestViewport_FactoryErrorKeepsBridgeRunning(t *testing.T) {
	rec := newRedrawRecorder()
	f := &countingFactory{inner: NewImageTextureFactory()}
	f.fail.Store(true)
	vp := New(2, 2, WithRedraw(rec.redraw), WithTextureFactory(f))
	t.Cleanup(func() { _ = vp.Close() })

	renderFrame(t, vp, color.RGBA{A: 255})
	deadline := time.Now().Add(waitTimeout)
	for vp.Metrics().BridgeErrors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("factory error was not counted")
		}
		time.Sleep(time.Millisecond)
	}

	f.fail.Store(false)
	renderFrame(t, vp, color.RGBA{A: 255})
	rec.wait(t)
	if !vp.HasReadyTexture() {
		t.Error("bridge stopped after a factory error")
	}
}

func TestViewport_TargetReleasedStopsBridge(t *testing.T) {
	rec := newRedrawRecorder()
	err := ErrTargetReleased
	rec.err.Store(&err)

	vp := New(2, 2, WithRedraw(rec.redraw))
	renderFrame(t, vp, color.RGBA{A: 255})
	rec.wait(t)
	waitDone(t, vp)

	if got := vp.Metrics().BridgeErrors; got != 0 {
		t.Errorf("BridgeErrors = %d, ErrTargetReleased is not an error", got)
	}
	if err := vp.Close(); err != nil {
		t.Errorf("Close() after bridge exit = %v", err)
	}
}

func TestViewport_ContextCancelStopsBridge(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	vp := New(2, 2, WithContext(ctx))
	t.Cleanup(func() { _ = vp.Close() })

	cancel()
	waitDone(t, vp)
}

func TestViewport_ZeroSizeBridgesNothing(t *testing.T) {
	vp := New(0, 0)
	t.Cleanup(func() { _ = vp.Close() })

	vp.SwapBuffers()
	vp.Notify()

	time.Sleep(20 * time.Millisecond)
	if vp.HasReadyTexture() {
		t.Error("zero-size viewport produced a texture")
	}

	rec := newRedrawRecorder()
	vp2 := New(0, 0, WithRedraw(rec.redraw))
	t.Cleanup(func() { _ = vp2.Close() })
	if err := vp2.Resize(3, 2); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	renderFrame(t, vp2, color.RGBA{A: 255})
	rec.wait(t)
	tex, ok := vp2.TakeReadyTexture()
	if !ok || tex.Width() != 3 || tex.Height() != 2 {
		t.Fatal("resized viewport did not bridge a 3x2 frame")
	}
	tex.Release()
}

func TestViewport_Resize(t *testing.T) {
	vp := New(4, 4)
	t.Cleanup(func() { _ = vp.Close() })

	if err := vp.Resize(-1, 2); !errors.Is(err, ErrInvalidDimensions) {
		t.Errorf("Resize(-1, 2) = %v, want ErrInvalidDimensions", err)
	}
	if err := vp.Resize(6, 5); err != nil {
		t.Fatalf("Resize(6, 5) = %v", err)
	}
	if w, h := vp.Size(); w != 6 || h != 5 {
		t.Errorf("Size() = %dx%d, want 6x5", w, h)
	}
}

func TestViewport_Close(t *testing.T) {
	rec := newRedrawRecorder()
	f := &countingFactory{inner: NewImageTextureFactory()}
	vp := New(2, 2, WithRedraw(rec.redraw), WithTextureFactory(f))

	renderFrame(t, vp, color.RGBA{A: 255})
	rec.wait(t)

	if err := vp.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}
	waitDone(t, vp)

	if got := f.released.Load(); got != 1 {
		t.Errorf("released = %d, Close must release the pending texture", got)
	}
	if err := vp.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}
	if vp.Notify() {
		t.Error("Notify() succeeded on a closed viewport")
	}
	if _, ok := vp.TakeReadyTexture(); ok {
		t.Error("TakeReadyTexture() succeeded on a closed viewport")
	}
	if err := vp.Resize(1, 1); !errors.Is(err, ErrViewportClosed) {
		t.Errorf("Resize on closed viewport = %v, want ErrViewportClosed", err)
	}
	if !vp.Closed() {
		t.Error("Closed() = false")
	}
}

// =============================================================================
// Device provider
// =============================================================================

// testProvider satisfies gpucontext.DeviceProvider through embedding and
// overrides the methods the viewport uses.
type testProvider struct {
	gpucontext.DeviceProvider

	format gputypes.TextureFormat
	device hal.Device
	queue  hal.Queue
}

func (p *testProvider) SurfaceFormat() gputypes.TextureFormat { return p.format }

// halTestProvider additionally exposes hal objects.
type halTestProvider struct {
	testProvider
}

func (p *halTestProvider) HalDevice() any { return p.device }
func (p *halTestProvider) HalQueue() any  { return p.queue }

// createNoopDevice creates a noop device and queue for testing.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		openDev.Device.Destroy()
		instance.Destroy()
	})
	return openDev.Device, openDev.Queue
}

func TestViewport_DeviceProviderFormat(t *testing.T) {
	vp := New(2, 2, WithDeviceProvider(&testProvider{format: gputypes.TextureFormatBGRA8Unorm}))
	t.Cleanup(func() { _ = vp.Close() })

	if got := vp.BackBuffer().Format(); got != FormatBGRA8 {
		t.Errorf("framebuffer format = %v, want bgra8 from the surface", got)
	}
	if _, ok := vp.factory.(*ImageTextureFactory); !ok {
		t.Errorf("factory = %T, want CPU factory without hal access", vp.factory)
	}
}

func TestViewport_DeviceProviderGPU(t *testing.T) {
	device, queue := createNoopDevice(t)
	rec := newRedrawRecorder()
	vp := New(8, 4,
		WithRedraw(rec.redraw),
		WithDeviceProvider(&halTestProvider{testProvider{
			format: gputypes.TextureFormatRGBA8Unorm,
			device: device,
			queue:  queue,
		}}),
	)
	t.Cleanup(func() { _ = vp.Close() })

	factory, ok := vp.factory.(*GPUTextureFactory)
	if !ok {
		t.Fatalf("factory = %T, want *GPUTextureFactory", vp.factory)
	}

	renderFrame(t, vp, color.RGBA{R: 255, A: 255})
	rec.wait(t)

	tex, ok := vp.TakeReadyTexture()
	if !ok {
		t.Fatal("no GPU texture bridged")
	}
	gt, ok := tex.(*GPUTexture)
	if !ok {
		t.Fatalf("texture = %T, want *GPUTexture", tex)
	}
	if gt.Width() != 8 || gt.Height() != 4 || gt.View() == nil || gt.Sampler() == nil {
		t.Errorf("GPU texture = %dx%d view=%v sampler=%v", gt.Width(), gt.Height(), gt.View(), gt.Sampler())
	}
	tex.Release()

	if factory.Uploads() != 1 {
		t.Errorf("Uploads() = %d, want 1", factory.Uploads())
	}
}
