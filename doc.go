// Package viewport connects a GPU frame producer to a UI consumer without
// either side blocking the other.
//
// # Overview
//
// A producer goroutine, locked to its own OS thread, renders into the back
// buffer of a [DoubleBuffer] and publishes it with a single atomic swap. A
// notification on a capacity-1 channel wakes the bridge goroutine, which
// turns the front buffer into a [Texture], stores it in a take-once
// [TextureSlot] and asks the UI to redraw. The UI takes the texture on its
// next paint. Notifications sent while one is pending are dropped, so a
// burst of frames costs the bridge one pass over the latest frame.
//
// # Quick Start
//
//	vp := viewport.New(800, 600, viewport.WithRedraw(window.Invalidate))
//	defer vp.Close()
//
//	prod, _ := viewport.NewProducer(vp, renderer, viewport.ProducerConfig{})
//	_ = prod.Start(ctx)
//	defer prod.Stop()
//
//	// on the UI goroutine
//	painter := viewport.NewImagePainter(vp)
//	painter.Paint(surface, surface.Bounds())
//
// # Pixel Layout
//
// Framebuffers hold 4 bytes per pixel in the layout the display expects
// ([FormatRGBA8] or [FormatBGRA8]). With [WithDeviceProvider] the layout
// follows the host surface, so frames are uploaded without conversion.
//
// # Pacing
//
// [Producer] paces itself with a [Pacer]: the frame interval starts at a
// baseline, grows toward a ceiling while frames keep finishing early, and
// the sleep after each frame keeps the producer under a CPU share. Every
// 30th frame yields, every 120th takes a longer pause.
//
// # Sub-packages
//
//   - atlas: best-fit guillotine texture atlas
//   - pool: LRU-cached GPU buffers, textures, views and samplers over a
//     size-classed memory budget
//   - worker: fixed worker pools for closures, render command recording
//     and compute jobs
//
// # Logging
//
// Nothing is logged by default. See [SetLogger].
package viewport
