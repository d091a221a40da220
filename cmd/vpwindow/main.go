// Command vpwindow shows a viewport in a gogpu window.
//
// A paced producer renders a moving gradient on its own OS thread; the
// window presents the latest bridged frame at VSync through a Presenter.
// Space pauses and resumes the producer.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/gogpu/gogpu"
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/viewport"
	"github.com/gogpu/viewport/internal/config"
)

func main() {
	configPath := flag.String("config", "", "JSON configuration file")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	lvl, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	viewport.SetLogger(logger)

	app := gogpu.NewApp(gogpu.DefaultConfig().
		WithTitle("viewport").
		WithSize(cfg.Width, cfg.Height).
		WithContinuousRender(false))

	vp := viewport.New(cfg.Width, cfg.Height, cfg.ViewportOptions()...)
	producer, err := viewport.NewProducer(vp, viewport.FrameRendererFunc(gradient), cfg.ProducerConfig())
	if err != nil {
		log.Fatal(err)
	}
	if err := producer.Start(context.Background()); err != nil {
		log.Fatal(err)
	}
	presenter := viewport.NewPresenter(vp)

	var anim *gogpu.AnimationToken
	app.OnDraw(func(dc *gogpu.Context) {
		if anim == nil && producer.Enabled() {
			anim = app.StartAnimation()
		}
		if err := presenter.RenderTo(dc.AsTextureDrawer()); err != nil {
			logger.Warn("present failed", "err", err)
		}
	})

	app.EventSource().OnKeyPress(func(key gpucontext.Key, _ gpucontext.Modifiers) {
		if key != gpucontext.KeySpace {
			return
		}
		on := !producer.Enabled()
		producer.SetEnabled(on)
		if on {
			anim = app.StartAnimation()
		} else if anim != nil {
			anim.Stop()
			anim = nil
		}
		logger.Info("producer toggled", "enabled", on)
	})

	app.OnClose(func() {
		if anim != nil {
			anim.Stop()
		}
		producer.Stop()
		_ = presenter.Close()
		_ = vp.Close()
		m := vp.Metrics()
		logger.Info("closed", "swaps", m.Swaps, "bridged", m.FramesBridged, "uploads", presenter.Uploads())
	})

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

var start = time.Now()

// gradient fills the frame with a diagonal sine gradient.
func gradient(fb *viewport.Framebuffer, _ uint64) error {
	t := time.Since(start).Seconds()
	w, h := fb.Width(), fb.Height()
	pix := fb.Pix()
	stride := fb.Stride()
	bgra := fb.Format() == viewport.FormatBGRA8
	for y := range h {
		row := pix[y*stride:]
		for x := range w {
			v := float64(x+y) / float64(w+h)
			r := uint8(127 + 127*math.Sin(2*math.Pi*(v+t*0.2)))
			g := uint8(127 + 127*math.Sin(2*math.Pi*(v+t*0.2+1.0/3)))
			b := uint8(127 + 127*math.Sin(2*math.Pi*(v+t*0.2+2.0/3)))
			if bgra {
				r, b = b, r
			}
			o := x * viewport.BytesPerPixel
			row[o], row[o+1], row[o+2], row[o+3] = r, g, b, 0xff
		}
	}
	fb.MarkDirtyAll()
	return nil
}
