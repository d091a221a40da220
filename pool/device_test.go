package pool

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

var errInjected = errors.New("injected failure")

// countingDevice wraps a noop device and counts resource lifetimes.
type countingDevice struct {
	hal.Device

	buffersCreated, buffersDestroyed   atomic.Int32
	texturesCreated, texturesDestroyed atomic.Int32
	viewsCreated, viewsDestroyed       atomic.Int32
	samplersCreated, samplersDestroyed atomic.Int32

	failCreate atomic.Bool
}

func (d *countingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if d.failCreate.Load() {
		return nil, errInjected
	}
	d.buffersCreated.Add(1)
	return d.Device.CreateBuffer(desc)
}

func (d *countingDevice) DestroyBuffer(b hal.Buffer) {
	d.buffersDestroyed.Add(1)
	d.Device.DestroyBuffer(b)
}

func (d *countingDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if d.failCreate.Load() {
		return nil, errInjected
	}
	d.texturesCreated.Add(1)
	return d.Device.CreateTexture(desc)
}

func (d *countingDevice) DestroyTexture(t hal.Texture) {
	d.texturesDestroyed.Add(1)
	d.Device.DestroyTexture(t)
}

func (d *countingDevice) CreateTextureView(t hal.Texture, desc *hal.TextureViewDescriptor) (hal.TextureView, error) {
	d.viewsCreated.Add(1)
	return d.Device.CreateTextureView(t, desc)
}

func (d *countingDevice) DestroyTextureView(v hal.TextureView) {
	d.viewsDestroyed.Add(1)
	d.Device.DestroyTextureView(v)
}

func (d *countingDevice) CreateSampler(desc *hal.SamplerDescriptor) (hal.Sampler, error) {
	d.samplersCreated.Add(1)
	return d.Device.CreateSampler(desc)
}

func (d *countingDevice) DestroySampler(s hal.Sampler) {
	d.samplersDestroyed.Add(1)
	d.Device.DestroySampler(s)
}

// createCountingDevice opens a noop device wrapped in a countingDevice.
func createCountingDevice(t *testing.T) (*countingDevice, hal.Queue) {
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
	return &countingDevice{Device: openDev.Device}, openDev.Queue
}
