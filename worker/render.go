package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/wgpu/hal"
)

// ErrNilDevice is returned when a GPU worker pool is created without a device.
var ErrNilDevice = errors.New("worker: device is required")

// ErrNilRecorder is returned when render workers are created without a Recorder.
var ErrNilRecorder = errors.New("worker: recorder is required")

// FrameContext describes the frame a command list belongs to.
type FrameContext struct {
	// Frame is the producer's frame number.
	Frame uint64

	// Width and Height are the target size in pixels.
	Width, Height int

	// Target is the default render pass attachment. Nil records headless.
	Target hal.TextureView

	// Label prefixes hal debug labels.
	Label string
}

func (f FrameContext) label() string {
	if f.Label != "" {
		return f.Label
	}
	return fmt.Sprintf("frame%d", f.Frame)
}

// SplitChunks cuts cmds into n contiguous chunks whose lengths differ by at
// most one. Fewer than n chunks are returned when len(cmds) < n; none when
// cmds is empty.
func SplitChunks(cmds []Command, n int) [][]Command {
	if len(cmds) == 0 {
		return nil
	}
	if n <= 0 {
		n = 1
	}
	if n > len(cmds) {
		n = len(cmds)
	}
	chunks := make([][]Command, 0, n)
	base, extra := len(cmds)/n, len(cmds)%n
	start := 0
	for i := range n {
		size := base
		if i < extra {
			size++
		}
		chunks = append(chunks, cmds[start:start+size:start+size])
		start += size
	}
	return chunks
}

// Join collects the command buffers of one frame's chunks.
type Join struct {
	device  hal.Device
	buffers []hal.CommandBuffer
	errs    []error
	wg      sync.WaitGroup
	done    chan struct{}
}

func newJoin(device hal.Device, chunks int) *Join {
	j := &Join{
		device:  device,
		buffers: make([]hal.CommandBuffer, chunks),
		errs:    make([]error, chunks),
		done:    make(chan struct{}),
	}
	j.wg.Add(chunks)
	go func() {
		j.wg.Wait()
		close(j.done)
	}()
	return j
}

func (j *Join) complete(chunk int, cb hal.CommandBuffer, err error) {
	j.buffers[chunk] = cb
	j.errs[chunk] = err
	j.wg.Done()
}

// Chunks returns the number of chunks in the frame.
func (j *Join) Chunks() int { return len(j.buffers) }

// Done is closed once every chunk has finished recording.
func (j *Join) Done() <-chan struct{} { return j.done }

// Wait blocks until every chunk has finished and returns the command buffers
// in chunk order.
//
// If any chunk failed, the buffers of the others are freed and the chunk
// errors are returned joined. If ctx ends first, Wait returns ctx.Err() and
// the buffers are freed once recording finishes.
func (j *Join) Wait(ctx context.Context) ([]hal.CommandBuffer, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		go func() {
			<-j.done
			j.free()
		}()
		return nil, ctx.Err()
	}

	if err := errors.Join(j.errs...); err != nil {
		j.free()
		return nil, err
	}
	return j.buffers, nil
}

func (j *Join) free() {
	for i, cb := range j.buffers {
		if cb != nil {
			j.device.FreeCommandBuffer(cb)
			j.buffers[i] = nil
		}
	}
}

type renderJob struct {
	cmds  []Command
	chunk int
	frame FrameContext
	join  *Join
}

// RenderWorkers record frame command lists in parallel.
//
// RenderWorkers is safe for concurrent use.
type RenderWorkers struct {
	device hal.Device
	rec    Recorder
	loop   *loop[renderJob]
}

// NewRenderWorkers starts render workers on device. Zero Config fields select
// min(GOMAXPROCS, MaxRenderWorkers) workers and DefaultGPUPollInterval.
func NewRenderWorkers(device hal.Device, rec Recorder, cfg Config) (*RenderWorkers, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	if rec == nil {
		return nil, ErrNilRecorder
	}
	cfg = cfg.withDefaults(min(defaultWorkers(), MaxRenderWorkers), DefaultGPUPollInterval, "render")

	w := &RenderWorkers{device: device, rec: rec}
	w.loop = newLoop(cfg, w.record)
	return w, nil
}

// ExecuteCommands fans cmds out into Workers() contiguous chunks, one job per
// chunk, and returns the frame's Join. Chunks may finish in any order.
func (w *RenderWorkers) ExecuteCommands(cmds []Command, frame FrameContext) (*Join, error) {
	chunks := SplitChunks(cmds, w.Workers())
	join := newJoin(w.device, len(chunks))
	for i, chunk := range chunks {
		job := renderJob{cmds: chunk, chunk: i, frame: frame, join: join}
		if err := w.loop.submit(job); err != nil {
			for k := i; k < len(chunks); k++ {
				join.complete(k, nil, err)
			}
			return join, err
		}
	}
	return join, nil
}

func (w *RenderWorkers) record(_ int, job renderJob) {
	cb, err := w.recordChunk(job)
	if err != nil {
		slogger().Warn("worker: chunk recording failed",
			"frame", job.frame.Frame, "chunk", job.chunk, "err", err)
	}
	job.join.complete(job.chunk, cb, err)
}

func (w *RenderWorkers) recordChunk(job renderJob) (hal.CommandBuffer, error) {
	label := fmt.Sprintf("%s_chunk%d", job.frame.label(), job.chunk)

	encoder, err := w.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("chunk %d: create command encoder: %w", job.chunk, err)
	}
	if err := encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("chunk %d: begin encoding: %w", job.chunk, err)
	}

	enc := &ChunkEncoder{Encoder: encoder, Frame: job.frame, Chunk: job.chunk}
	for i, cmd := range job.cmds {
		if err := Dispatch(w.rec, enc, cmd); err != nil {
			enc.endPass()
			encoder.DiscardEncoding()
			return nil, fmt.Errorf("chunk %d command %d (%v): %w", job.chunk, i, cmd.Kind, err)
		}
	}
	enc.endPass()

	cb, err := encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("chunk %d: end encoding: %w", job.chunk, err)
	}
	return cb, nil
}

// Workers returns the number of render workers.
func (w *RenderWorkers) Workers() int { return w.loop.cfg.Workers }

// Close stops the workers after the queued chunks are recorded.
func (w *RenderWorkers) Close() { w.loop.close() }

// SubmitFrame submits buffers in order, waits for the GPU with a fence, and
// frees the buffers.
func SubmitFrame(device hal.Device, queue hal.Queue, buffers []hal.CommandBuffer, timeout time.Duration) error {
	if len(buffers) == 0 {
		return nil
	}
	defer func() {
		for _, cb := range buffers {
			device.FreeCommandBuffer(cb)
		}
	}()

	fence, err := device.CreateFence()
	if err != nil {
		return fmt.Errorf("worker: create fence: %w", err)
	}
	defer device.DestroyFence(fence)

	if err := queue.Submit(buffers, fence, 1); err != nil {
		return fmt.Errorf("worker: submit: %w", err)
	}
	ok, err := device.Wait(fence, 1, timeout)
	if err != nil {
		return fmt.Errorf("worker: wait for GPU: %w", err)
	}
	if !ok {
		return fmt.Errorf("worker: wait for GPU: timed out after %v", timeout)
	}
	return nil
}
