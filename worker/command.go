package worker

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrUnknownCommand is returned when dispatching a command with an
// unrecognized kind.
var ErrUnknownCommand = errors.New("worker: unknown command kind")

// CommandKind tags a Command.
type CommandKind uint8

// Command kinds. The zero value is invalid.
const (
	CmdBeginRenderPass CommandKind = iota + 1
	CmdDrawQuad
	CmdDrawText
	CmdDrawImage
	CmdEndRenderPass
)

// String returns the kind name.
func (k CommandKind) String() string {
	switch k {
	case CmdBeginRenderPass:
		return "BeginRenderPass"
	case CmdDrawQuad:
		return "DrawQuad"
	case CmdDrawText:
		return "DrawText"
	case CmdDrawImage:
		return "DrawImage"
	case CmdEndRenderPass:
		return "EndRenderPass"
	default:
		return fmt.Sprintf("CommandKind(%d)", uint8(k))
	}
}

// Rect is a rectangle in target pixels.
type Rect struct {
	X, Y, Width, Height float32
}

// RenderPass opens a pass on Target, or on the frame target when Target is nil.
type RenderPass struct {
	Target     hal.TextureView
	Clear      bool
	ClearColor gputypes.Color
}

// Quad draws a solid or textured rectangle.
type Quad struct {
	Rect    Rect
	Texture uint32 // atlas asset, 0 for none
	Color   [4]float32
}

// Text draws a run of text. Shaping is the recorder's business.
type Text struct {
	Text     string
	X, Y     float32
	FontSize float32
	Color    [4]float32
}

// Image draws an image asset.
type Image struct {
	Image   uint32
	Rect    Rect
	Opacity float32
}

// Command is one entry of a frame's command list.
//
// Kind selects which payload field is meaningful. Build commands with the
// constructors below.
type Command struct {
	Kind  CommandKind
	Pass  RenderPass
	Quad  Quad
	Text  Text
	Image Image
}

// BeginRenderPass returns a command opening a render pass.
func BeginRenderPass(pass RenderPass) Command {
	return Command{Kind: CmdBeginRenderPass, Pass: pass}
}

// DrawQuad returns a quad command.
func DrawQuad(q Quad) Command {
	return Command{Kind: CmdDrawQuad, Quad: q}
}

// DrawText returns a text command.
func DrawText(t Text) Command {
	return Command{Kind: CmdDrawText, Text: t}
}

// DrawImage returns an image command.
func DrawImage(img Image) Command {
	return Command{Kind: CmdDrawImage, Image: img}
}

// EndRenderPass returns a command closing the open render pass.
func EndRenderPass() Command {
	return Command{Kind: CmdEndRenderPass}
}

// Recorder turns draw commands into GPU work. Implementations own the
// pipelines and bind groups; pass management is handled by ChunkEncoder.
//
// A Recorder is shared by all render workers and must be safe for
// concurrent use.
type Recorder interface {
	DrawQuad(enc *ChunkEncoder, q Quad) error
	DrawText(enc *ChunkEncoder, t Text) error
	DrawImage(enc *ChunkEncoder, img Image) error
}

// Dispatch routes cmd to the matching ChunkEncoder or Recorder method.
func Dispatch(rec Recorder, enc *ChunkEncoder, cmd Command) error {
	switch cmd.Kind {
	case CmdBeginRenderPass:
		return enc.beginPass(cmd.Pass, gputypes.LoadOpClear)
	case CmdEndRenderPass:
		enc.endPass()
		return nil
	case CmdDrawQuad:
		enc.ensurePass()
		return rec.DrawQuad(enc, cmd.Quad)
	case CmdDrawText:
		enc.ensurePass()
		return rec.DrawText(enc, cmd.Text)
	case CmdDrawImage:
		enc.ensurePass()
		return rec.DrawImage(enc, cmd.Image)
	default:
		return fmt.Errorf("%w: %v", ErrUnknownCommand, cmd.Kind)
	}
}

// ChunkEncoder is the recording state of one chunk.
type ChunkEncoder struct {
	// Encoder is the chunk's own command encoder.
	Encoder hal.CommandEncoder

	// Pass is the open render pass, or nil.
	Pass hal.RenderPassEncoder

	// Frame is the frame being recorded.
	Frame FrameContext

	// Chunk is the chunk index within the frame.
	Chunk int

	target hal.TextureView
	passes int
}

// Passes returns the number of hal render passes opened by this chunk.
func (e *ChunkEncoder) Passes() int { return e.passes }

func (e *ChunkEncoder) beginPass(p RenderPass, load gputypes.LoadOp) error {
	e.endPass()

	target := p.Target
	if target == nil {
		target = e.Frame.Target
	}
	e.target = target
	if target == nil {
		// Headless frame: nothing to attach, draws record without a pass.
		return nil
	}
	if !p.Clear {
		load = gputypes.LoadOpLoad
	}
	e.Pass = e.Encoder.BeginRenderPass(&hal.RenderPassDescriptor{
		Label: fmt.Sprintf("%s_chunk%d_pass%d", e.Frame.label(), e.Chunk, e.passes),
		ColorAttachments: []hal.RenderPassColorAttachment{{
			View:       target,
			LoadOp:     load,
			StoreOp:    gputypes.StoreOpStore,
			ClearValue: p.ClearColor,
		}},
	})
	e.passes++
	return nil
}

// ensurePass reopens the frame target with a load op when a chunk starts
// in the middle of a pass begun by an earlier chunk.
func (e *ChunkEncoder) ensurePass() {
	if e.Pass != nil || e.Frame.Target == nil {
		return
	}
	_ = e.beginPass(RenderPass{Target: e.target}, gputypes.LoadOpLoad)
}

func (e *ChunkEncoder) endPass() {
	if e.Pass != nil {
		e.Pass.End()
		e.Pass = nil
	}
}
