package viewport

import (
	"context"
	"time"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/wgpu/hal"
)

// ConsumePolicy decides what TakeReadyTexture returns when no new frame
// has been bridged since the last call.
type ConsumePolicy uint8

const (
	// ConsumeTake empties the slot on every call. A repaint that was not
	// triggered by the redraw callback finds nothing new and paints nothing.
	ConsumeTake ConsumePolicy = iota

	// ConsumeLatest keeps the last taken texture and returns it again while
	// the slot is empty, so UI-driven repaints redisplay the latest frame.
	// The viewport keeps ownership of textures returned in this mode.
	ConsumeLatest
)

// String returns the policy name.
func (p ConsumePolicy) String() string {
	if p == ConsumeLatest {
		return "latest"
	}
	return "take"
}

// DefaultCloseTimeout bounds how long Close waits for the bridge goroutine.
const DefaultCloseTimeout = time.Second

// Option configures a Viewport during creation.
//
// Example:
//
//	vp := viewport.New(800, 600,
//	    viewport.WithRedraw(window.RequestRedraw),
//	    viewport.WithConsumePolicy(viewport.ConsumeLatest),
//	)
type Option func(*options)

// options holds optional configuration for Viewport creation.
type options struct {
	factory      TextureFactory
	redraw       func() error
	policy       ConsumePolicy
	format       PixelFormat
	provider     gpucontext.DeviceProvider
	ctx          context.Context
	closeTimeout time.Duration
}

// defaultOptions returns the default viewport options.
func defaultOptions() options {
	return options{
		policy:       ConsumeTake,
		format:       FormatRGBA8,
		ctx:          context.Background(),
		closeTimeout: DefaultCloseTimeout,
	}
}

// WithTextureFactory sets how the bridge turns a front buffer into a
// texture. The default is an ImageTextureFactory, or a GPUTextureFactory
// when WithDeviceProvider supplies a hal device.
func WithTextureFactory(f TextureFactory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithRedraw sets the callback the bridge invokes after storing a texture.
// Returning ErrTargetReleased stops the bridge.
func WithRedraw(fn func() error) Option {
	return func(o *options) {
		o.redraw = fn
	}
}

// WithConsumePolicy sets the TakeReadyTexture policy. The default is ConsumeTake.
func WithConsumePolicy(p ConsumePolicy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// WithPixelFormat sets the framebuffer byte layout. The default is FormatRGBA8.
func WithPixelFormat(f PixelFormat) Option {
	return func(o *options) {
		o.format = f
	}
}

// WithDeviceProvider attaches the host's GPU context. The framebuffer
// layout follows the provider's surface format so frames upload without
// conversion. If the provider also exposes its hal device and queue, frames
// are uploaded into pooled GPU textures on that device.
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithContext bounds the bridge goroutine's lifetime by ctx in addition to Close.
func WithContext(ctx context.Context) Option {
	return func(o *options) {
		if ctx != nil {
			o.ctx = ctx
		}
	}
}

// WithCloseTimeout bounds how long Close waits for the bridge to exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.closeTimeout = d
		}
	}
}

// halProvider is implemented by device providers that expose their hal
// objects (gogpu's App does).
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// halFromProvider extracts the hal device and queue from p, if it has them.
func halFromProvider(p gpucontext.DeviceProvider) (hal.Device, hal.Queue, bool) {
	hp, ok := p.(halProvider)
	if !ok {
		return nil, nil, false
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, nil, false
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, nil, false
	}
	return device, queue, true
}
