// Command vpdemo runs the viewport pipeline headlessly: a paced producer
// renders a rainbow into the back buffer, the bridge turns each swap into a
// texture, and a consumer loop paints it, mirrors it on a noop GPU device,
// and finally writes the last frame to a PNG file.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/png"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/gogpu/viewport"
	"github.com/gogpu/viewport/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "JSON configuration file (watched for changes)")
		frames     = flag.Uint64("frames", 300, "stop after consuming this many frames (0 = run until interrupted)")
		output     = flag.String("output", "viewport.png", "PNG snapshot of the last frame (empty to skip)")
		scale      = flag.Float64("scale", 1, "consumer surface scale relative to the framebuffer")
		noGPU      = flag.Bool("nogpu", false, "skip the GPU stage")
	)
	flag.Parse()

	if err := run(*configPath, *frames, *output, *scale, !*noGPU); err != nil {
		log.Fatalf("vpdemo: %v", err)
	}
}

func run(configPath string, frames uint64, output string, scale float64, useGPU bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	level := new(slog.LevelVar)
	lvl, _ := cfg.Level()
	level.Set(lvl)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	viewport.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var stage *gpuStage
	if useGPU {
		dev, err := openNoopDevice()
		if err != nil {
			return fmt.Errorf("gpu: %w", err)
		}
		defer dev.close()
		if stage, err = newGPUStage(dev, cfg, logger); err != nil {
			return fmt.Errorf("gpu: %w", err)
		}
		defer stage.close()
	}

	repaint := make(chan struct{}, 1)
	opts := append(cfg.ViewportOptions(),
		viewport.WithContext(ctx),
		viewport.WithRedraw(func() error {
			select {
			case repaint <- struct{}{}:
			default:
			}
			return nil
		}),
	)
	vp := viewport.New(cfg.Width, cfg.Height, opts...)
	defer func() { _ = vp.Close() }()

	var producer *viewport.Producer
	renderer := newRainbowRenderer(func(frame uint64) string {
		return fmt.Sprintf("frame %d  interval %v", frame, producer.Stats().CurrentInterval)
	})
	producer, err := viewport.NewProducer(vp, renderer, cfg.ProducerConfig())
	if err != nil {
		return err
	}
	if err := producer.Start(ctx); err != nil {
		return err
	}
	defer producer.Stop()

	var (
		changes <-chan *config.Config
		errs    <-chan error
	)
	if configPath != "" {
		w, err := config.NewWatcher(configPath)
		if err != nil {
			logger.Warn("config hot reload disabled", "err", err)
		} else {
			defer func() { _ = w.Close() }()
			changes, errs = w.Changes(), w.Errors()
		}
	}

	sw := max(1, int(float64(cfg.Width)*scale))
	sh := max(1, int(float64(cfg.Height)*scale))
	canvas := image.NewRGBA(image.Rect(0, 0, sw, sh))
	painter := viewport.NewImagePainter(vp)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	start := time.Now()

loop:
	for frames == 0 || painter.Frames() < frames {
		select {
		case <-ctx.Done():
			break loop
		case <-vp.Done():
			break loop
		case <-repaint:
			if !painter.Paint(canvas, canvas.Bounds()) {
				continue
			}
			if stage != nil {
				status := fmt.Sprintf("frame %d", painter.Frames())
				if err := stage.Frame(ctx, painter.Frames(), canvas, status); err != nil {
					logger.Warn("gpu frame failed", "err", err)
				}
			}
		case next := <-changes:
			lvl, _ := next.Level()
			level.Set(lvl)
			producer.SetPacing(next.PacingConfig())
			logger.Info("config reloaded", "pacing", next.PacingConfig().Base, "log_level", lvl)
		case err := <-errs:
			logger.Warn("config reload failed", "err", err)
		case <-ticker.C:
			logStats(logger, vp, producer, painter)
			if stage != nil {
				stage.stats()
			}
		}
	}

	producer.Stop()
	elapsed := time.Since(start)
	logStats(logger, vp, producer, painter)
	logger.Info("done",
		"frames", painter.Frames(),
		"elapsed", elapsed.Round(time.Millisecond),
		"fps", fmt.Sprintf("%.1f", float64(painter.Frames())/elapsed.Seconds()))

	if output == "" || painter.Frames() == 0 {
		return nil
	}
	if err := savePNG(output, canvas); err != nil {
		return err
	}
	logger.Info("snapshot written", "path", output)
	return nil
}

func logStats(logger *slog.Logger, vp *viewport.Viewport, p *viewport.Producer, painter *viewport.ImagePainter) {
	m := vp.Metrics()
	s := p.Stats()
	logger.Info("viewport",
		"swaps", m.Swaps,
		"bridged", m.FramesBridged,
		"replaced", m.TexturesReplaced,
		"dropped_notifications", m.NotificationsDropped,
		"drained", m.NotificationsDrained,
		"painted", painter.Frames(),
		"contended", s.ContendedFrames,
		"interval", s.CurrentInterval,
		"pinned", s.Pinned,
		"bridge", m.LastBridgeDuration)
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
