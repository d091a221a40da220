package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/gogpu/viewport/atlas"
	"github.com/gogpu/viewport/internal/config"
	"github.com/gogpu/viewport/pool"
	"github.com/gogpu/viewport/worker"
)

const (
	thumbAsset  atlas.AssetID = 0x10000
	thumbWidth                = 96
	thumbHeight               = 54
	submitWait                = time.Second
	quadBytes                 = 6 * 4 * 4 // six vertices of vec4
)

// device is an opened hal device with its instance.
type device struct {
	instance hal.Instance
	device   hal.Device
	queue    hal.Queue
}

// openNoopDevice opens the first adapter of the headless noop backend.
func openNoopDevice() (*device, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, errors.New("no adapters")
	}
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("open adapter: %w", err)
	}
	return &device{instance: instance, device: open.Device, queue: open.Queue}, nil
}

func (d *device) close() {
	d.device.Destroy()
	d.instance.Destroy()
}

// gpuStage mirrors every consumed frame on the GPU: the frame thumbnail and
// status glyphs live in a texture atlas, draws pull vertex and uniform
// buffers from the resource pools, render workers record the frame in
// chunks, and a compute job refreshes the frame uniform.
type gpuStage struct {
	dev *device
	log *slog.Logger

	memory   *pool.MemoryPool
	buffers  *pool.BufferPool
	textures *pool.TexturePool
	atlas    *atlas.TextureAtlas
	glyphs   map[rune]atlas.Region

	render  *worker.RenderWorkers
	compute *worker.ComputeWorkers

	target     *pool.Texture
	targetView *pool.TextureView

	thumb  *image.RGBA
	region atlas.Region

	mu      sync.Mutex
	pending []*pool.Buffer

	frames uint64
	failed uint64
}

func newGPUStage(dev *device, cfg *config.Config, log *slog.Logger) (*gpuStage, error) {
	s := &gpuStage{
		dev:    dev,
		log:    log,
		memory: cfg.MemoryPool(),
		glyphs: make(map[rune]atlas.Region),
		thumb:  image.NewRGBA(image.Rect(0, 0, thumbWidth, thumbHeight)),
	}

	var err error
	if s.buffers, err = pool.NewBufferPool(dev.device, dev.queue, cfg.BufferPoolConfig(s.memory)); err != nil {
		return nil, fmt.Errorf("buffer pool: %w", err)
	}
	if s.textures, err = pool.NewTexturePool(dev.device, cfg.TexturePoolConfig(s.memory)); err != nil {
		s.close()
		return nil, fmt.Errorf("texture pool: %w", err)
	}
	if s.atlas, err = atlas.NewTextureAtlas(dev.device, dev.queue, cfg.AtlasConfig()); err != nil {
		s.close()
		return nil, fmt.Errorf("atlas: %w", err)
	}
	if err := s.loadGlyphs(); err != nil {
		s.close()
		return nil, err
	}
	if s.render, err = worker.NewRenderWorkers(dev.device, s, cfg.RenderWorkers()); err != nil {
		s.close()
		return nil, fmt.Errorf("render workers: %w", err)
	}
	if s.compute, err = worker.NewComputeWorkers(dev.device, dev.queue, cfg.ComputeWorkers()); err != nil {
		s.close()
		return nil, fmt.Errorf("compute workers: %w", err)
	}

	log.Info("gpu stage ready",
		"render_workers", s.render.Workers(),
		"compute_workers", s.compute.Workers(),
		"atlas", fmt.Sprintf("%dx%d", s.atlas.Width(), s.atlas.Height()),
		"glyphs", len(s.glyphs))
	return s, nil
}

// loadGlyphs rasterizes printable ASCII with the basic font and packs each
// glyph into the atlas.
func (s *gpuStage) loadGlyphs() error {
	face := basicfont.Face7x13
	m := face.Metrics()
	h := m.Height.Ceil()
	for r := rune(0x20); r < 0x7f; r++ {
		adv, ok := face.GlyphAdvance(r)
		if !ok {
			continue
		}
		w := adv.Ceil()
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		d := font.Drawer{Dst: img, Src: image.White, Face: face, Dot: fixed.P(0, m.Ascent.Ceil())}
		d.DrawString(string(r))

		region, err := s.atlas.AllocateAndUpload(w, h, atlas.AssetID(r), img.Pix)
		if err != nil {
			return fmt.Errorf("glyph %q: %w", r, err)
		}
		s.glyphs[r] = region
	}
	return nil
}

// ensureTarget gets a render attachment matching the frame size from the
// texture pool.
func (s *gpuStage) ensureTarget(width, height int) error {
	w, h := uint32(width), uint32(height) //nolint:gosec // frame sizes are positive
	if s.target != nil && s.target.Width() == w && s.target.Height() == h {
		return nil
	}
	s.releaseTarget()

	tex, err := s.textures.GetTexture(pool.TextureDescriptor{
		Label:  "vpdemo_target",
		Width:  w,
		Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageRenderAttachment | gputypes.TextureUsageTextureBinding,
	})
	if err != nil {
		return err
	}
	view, err := s.textures.GetTextureView(tex, pool.ViewDescriptor{})
	if err != nil {
		tex.Release()
		return err
	}
	s.target, s.targetView = tex, view
	return nil
}

func (s *gpuStage) releaseTarget() {
	if s.targetView != nil {
		s.targetView.Release()
		s.targetView = nil
	}
	if s.target != nil {
		s.target.Release()
		s.target = nil
	}
}

// uploadThumbnail replaces the previous frame thumbnail in the atlas.
func (s *gpuStage) uploadThumbnail(frame image.Image) error {
	xdraw.NearestNeighbor.Scale(s.thumb, s.thumb.Bounds(), frame, frame.Bounds(), draw.Src, nil)

	if s.region.IsValid() {
		if err := s.atlas.Deallocate(s.region); err != nil {
			return err
		}
		s.region = atlas.Region{}
	}
	region, err := s.atlas.AllocateAndUpload(thumbWidth, thumbHeight, thumbAsset, s.thumb.Pix)
	if errors.Is(err, atlas.ErrAtlasFull) {
		// Rebuild: drop everything and repack.
		s.log.Warn("atlas full, rebuilding", "fragmentation", s.atlas.Stats().Fragmentation)
		s.atlas.Reset()
		clear(s.glyphs)
		if err := s.loadGlyphs(); err != nil {
			return err
		}
		region, err = s.atlas.AllocateAndUpload(thumbWidth, thumbHeight, thumbAsset, s.thumb.Pix)
	}
	if err != nil {
		return err
	}
	s.region = region
	return nil
}

// Frame records and submits the GPU mirror of one consumed frame.
func (s *gpuStage) Frame(ctx context.Context, frame uint64, img image.Image, status string) error {
	b := img.Bounds()
	if err := s.ensureTarget(b.Dx(), b.Dy()); err != nil {
		return s.fail(fmt.Errorf("render target: %w", err))
	}
	if err := s.uploadThumbnail(img); err != nil {
		return s.fail(fmt.Errorf("thumbnail: %w", err))
	}

	uniform := make([]byte, 16)
	binary.LittleEndian.PutUint64(uniform, frame)
	if err := s.compute.ExecuteCompute(func(_ hal.Device, q hal.Queue) {
		buf, err := s.buffers.GetBuffer(uint64(len(uniform)), pool.BufferUniform, nil)
		if err != nil {
			s.log.Warn("frame uniform", "err", err)
			return
		}
		q.WriteBuffer(buf.Raw(), 0, uniform)
		buf.Release()
	}); err != nil {
		return s.fail(err)
	}

	w, h := float32(b.Dx()), float32(b.Dy())
	cmds := []worker.Command{
		worker.BeginRenderPass(worker.RenderPass{Clear: true, ClearColor: gputypes.Color{A: 1}}),
		worker.DrawImage(worker.Image{Image: uint32(thumbAsset), Rect: worker.Rect{Width: w, Height: h}, Opacity: 1}),
		worker.DrawQuad(worker.Quad{
			Rect:  worker.Rect{X: 8, Y: h - 12, Width: float32(frame%100) / 100 * (w - 16), Height: 4},
			Color: [4]float32{1, 1, 1, 1},
		}),
		worker.DrawText(worker.Text{Text: status, X: 8, Y: 8, FontSize: 13, Color: [4]float32{1, 1, 1, 1}}),
		worker.EndRenderPass(),
	}

	join, err := s.render.ExecuteCommands(cmds, worker.FrameContext{
		Frame:  frame,
		Width:  b.Dx(),
		Height: b.Dy(),
		Target: s.targetView.Raw(),
	})
	if err != nil {
		return s.fail(err)
	}
	cbs, err := join.Wait(ctx)
	if err == nil {
		err = worker.SubmitFrame(s.dev.device, s.dev.queue, cbs, submitWait)
	}
	s.releasePending()
	if err != nil {
		return s.fail(err)
	}
	s.frames++
	return nil
}

func (s *gpuStage) fail(err error) error {
	s.failed++
	return err
}

// quad fetches a vertex buffer for r and issues a draw if a pass is open.
// The buffer is held until the frame is submitted.
func (s *gpuStage) quad(enc *worker.ChunkEncoder, r worker.Rect) error {
	data := make([]byte, quadBytes)
	corners := [6][2]float32{
		{r.X, r.Y}, {r.X + r.Width, r.Y}, {r.X, r.Y + r.Height},
		{r.X, r.Y + r.Height}, {r.X + r.Width, r.Y}, {r.X + r.Width, r.Y + r.Height},
	}
	for i, c := range corners {
		binary.LittleEndian.PutUint32(data[i*16:], math.Float32bits(c[0]))
		binary.LittleEndian.PutUint32(data[i*16+4:], math.Float32bits(c[1]))
	}

	buf, err := s.buffers.GetBuffer(quadBytes, pool.BufferVertex, data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.pending = append(s.pending, buf)
	s.mu.Unlock()

	if enc.Pass != nil {
		enc.Pass.SetVertexBuffer(0, buf.Raw(), 0)
		enc.Pass.Draw(6, 1, 0, 0)
	}
	return nil
}

func (s *gpuStage) releasePending() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, b := range pending {
		b.Release()
	}
}

// DrawQuad implements worker.Recorder.
func (s *gpuStage) DrawQuad(enc *worker.ChunkEncoder, q worker.Quad) error {
	return s.quad(enc, q.Rect)
}

// DrawImage implements worker.Recorder.
func (s *gpuStage) DrawImage(enc *worker.ChunkEncoder, img worker.Image) error {
	if atlas.AssetID(img.Image) != thumbAsset || !s.region.IsValid() {
		return fmt.Errorf("unknown image %d", img.Image)
	}
	return s.quad(enc, img.Rect)
}

// DrawText implements worker.Recorder. Each glyph is one atlas quad.
func (s *gpuStage) DrawText(enc *worker.ChunkEncoder, t worker.Text) error {
	x := t.X
	for _, r := range t.Text {
		g, ok := s.glyphs[r]
		if !ok {
			g = s.glyphs['?']
		}
		if err := s.quad(enc, worker.Rect{X: x, Y: t.Y, Width: float32(g.Width), Height: float32(g.Height)}); err != nil {
			return err
		}
		x += float32(g.Width)
	}
	return nil
}

// stats logs the resource pools and atlas.
func (s *gpuStage) stats() {
	as := s.atlas.Stats()
	bs := s.buffers.Stats()
	ts := s.textures.Stats()
	ms := s.memory.Stats()
	s.log.Info("gpu stage",
		"frames", s.frames,
		"failed", s.failed,
		"atlas_regions", as.AllocatedRegions,
		"atlas_fragmentation", fmt.Sprintf("%.3f", as.Fragmentation),
		"buffer_hits", bs.Hits,
		"buffer_misses", bs.Misses,
		"texture_hits", ts.Hits,
		"memory_used", ms.Used,
		"memory_estimate", s.buffers.MemoryUsageEstimate()+s.textures.MemoryUsageEstimate())
}

func (s *gpuStage) close() {
	if s.render != nil {
		s.render.Close()
	}
	if s.compute != nil {
		s.compute.Close()
	}
	s.releasePending()
	s.releaseTarget()
	if s.atlas != nil {
		s.atlas.Close()
	}
	if s.textures != nil {
		s.textures.Close()
	}
	if s.buffers != nil {
		s.buffers.Close()
	}
}

var _ worker.Recorder = (*gpuStage)(nil)
