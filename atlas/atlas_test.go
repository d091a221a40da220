package atlas

import (
	"errors"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

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

func newTestAtlas(t *testing.T, cfg Config) *TextureAtlas {
	t.Helper()
	device, queue := createNoopDevice(t)
	a, err := NewTextureAtlas(device, queue, cfg)
	if err != nil {
		t.Fatalf("NewTextureAtlas: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestTextureAtlas_Defaults(t *testing.T) {
	a := newTestAtlas(t, Config{})

	if a.Width() != DefaultAtlasSize || a.Height() != DefaultAtlasSize {
		t.Errorf("size = %dx%d, want default", a.Width(), a.Height())
	}
	if a.Format() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("format = %v, want RGBA8Unorm", a.Format())
	}
	if a.Texture() == nil || a.View() == nil {
		t.Error("texture and view should be created")
	}
}

func TestTextureAtlas_NilDevice(t *testing.T) {
	if _, err := NewTextureAtlas(nil, nil, Config{}); !errors.Is(err, ErrNilDevice) {
		t.Errorf("err = %v, want ErrNilDevice", err)
	}
}

func TestTextureAtlas_UnsupportedFormat(t *testing.T) {
	device, queue := createNoopDevice(t)
	_, err := NewTextureAtlas(device, queue, Config{Format: gputypes.TextureFormatDepth32Float})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestTextureAtlas_AllocateUpload(t *testing.T) {
	a := newTestAtlas(t, Config{Width: 256, Height: 256})

	pix := make([]byte, 16*8*4)
	r, err := a.AllocateAndUpload(16, 8, 42, pix)
	if err != nil {
		t.Fatalf("AllocateAndUpload: %v", err)
	}
	if owner, _ := r.Owner(); owner != 42 {
		t.Errorf("owner = %d, want 42", owner)
	}
	if a.Uploads() != 1 {
		t.Errorf("Uploads() = %d, want 1", a.Uploads())
	}

	if err := a.Upload(r, pix[:10]); !errors.Is(err, ErrDataSizeMismatch) {
		t.Errorf("short upload err = %v, want ErrDataSizeMismatch", err)
	}
	if err := a.Upload(Region{X: 250, Y: 0, Width: 16, Height: 8}, pix); !errors.Is(err, ErrRegionOutOfBounds) {
		t.Errorf("out of bounds err = %v, want ErrRegionOutOfBounds", err)
	}
}

func TestTextureAtlas_FailedUploadReleasesRegion(t *testing.T) {
	a := newTestAtlas(t, Config{Width: 256, Height: 256})

	if _, err := a.AllocateAndUpload(16, 16, 1, nil); !errors.Is(err, ErrDataSizeMismatch) {
		t.Fatalf("err = %v, want ErrDataSizeMismatch", err)
	}
	if s := a.Stats(); s.UsedArea != 0 {
		t.Errorf("used area = %d after failed upload, want 0", s.UsedArea)
	}
}

func TestTextureAtlas_FullAndReset(t *testing.T) {
	a := newTestAtlas(t, Config{Width: 256, Height: 256, Format: gputypes.TextureFormatR8Unorm})

	if _, err := a.Allocate(256, 256, 1); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if _, err := a.Allocate(1, 1, 2); !errors.Is(err, ErrAtlasFull) {
		t.Errorf("err = %v, want ErrAtlasFull", err)
	}

	a.Reset()
	r, err := a.AllocateAndUpload(4, 4, 3, make([]byte, 16))
	if err != nil {
		t.Fatalf("after Reset: %v", err)
	}
	if err := a.Deallocate(r); err != nil {
		t.Errorf("Deallocate: %v", err)
	}
}

func TestTextureAtlas_Close(t *testing.T) {
	a := newTestAtlas(t, Config{Width: 256, Height: 256})
	a.Close()
	a.Close()

	if !a.IsClosed() {
		t.Error("IsClosed() = false after Close")
	}
	if _, err := a.Allocate(1, 1, 1); !errors.Is(err, ErrAtlasClosed) {
		t.Errorf("Allocate after Close = %v, want ErrAtlasClosed", err)
	}
	if err := a.Upload(Region{Width: 1, Height: 1}, make([]byte, 4)); !errors.Is(err, ErrAtlasClosed) {
		t.Errorf("Upload after Close = %v, want ErrAtlasClosed", err)
	}
	if a.Texture() != nil {
		t.Error("Texture() should be nil after Close")
	}
}
