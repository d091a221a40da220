// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/viewport"
)

// =============================================================================
// Parse / Load
// =============================================================================

func TestParse_Full(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"width": 800,
		"height": 600,
		"format": "bgra8",
		"consume": "latest",
		"log_level": "debug",
		"pacing": {"base": "4ms", "max": 12000000, "max_cpu_percent": 50},
		"producer": {"pin": true, "cpu": 2, "priority": 5},
		"workers": {"render": 3, "compute": 1},
		"pools": {"max_buffers": 16, "max_textures": 8, "memory_budget": 1048576},
		"atlas": {"width": 512, "height": 256}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if f, _ := cfg.PixelFormat(); f != viewport.FormatBGRA8 {
		t.Errorf("PixelFormat() = %v, want bgra8", f)
	}
	if p, _ := cfg.ConsumePolicy(); p != viewport.ConsumeLatest {
		t.Errorf("ConsumePolicy() = %v, want latest", p)
	}
	if l, _ := cfg.Level(); l != slog.LevelDebug {
		t.Errorf("Level() = %v, want debug", l)
	}

	pc := cfg.ProducerConfig()
	if pc.Pacing.Base != 4*time.Millisecond || pc.Pacing.Max != 12*time.Millisecond || pc.Pacing.MaxCPUPercent != 50 {
		t.Errorf("Pacing = %+v", pc.Pacing)
	}
	if !pc.Pin || pc.CPU != 2 || pc.Priority != 5 {
		t.Errorf("ProducerConfig() = %+v", pc)
	}

	if w := cfg.RenderWorkers(); w.Workers != 3 || w.Name != "render" {
		t.Errorf("RenderWorkers() = %+v", w)
	}
	if w := cfg.ComputeWorkers(); w.Workers != 1 {
		t.Errorf("ComputeWorkers() = %+v", w)
	}

	mem := cfg.MemoryPool()
	if mem.Capacity() != 1<<20 {
		t.Errorf("MemoryPool capacity = %d, want 1 MiB", mem.Capacity())
	}
	if bc := cfg.BufferPoolConfig(mem); bc.MaxCached != 16 || bc.Memory != mem {
		t.Errorf("BufferPoolConfig() = %+v", bc)
	}
	if tc := cfg.TexturePoolConfig(mem); tc.MaxCached != 8 || tc.Memory != mem {
		t.Errorf("TexturePoolConfig() = %+v", tc)
	}
	if ac := cfg.AtlasConfig(); ac.Width != 512 || ac.Height != 256 {
		t.Errorf("AtlasConfig() = %+v", ac)
	}
	if got := len(cfg.ViewportOptions()); got != 2 {
		t.Errorf("ViewportOptions() returned %d options, want 2", got)
	}
}

func TestParse_KeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{"width": 32}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	def := Default()
	if cfg.Width != 32 || cfg.Height != def.Height {
		t.Errorf("size = %dx%d, want 32x%d", cfg.Width, cfg.Height, def.Height)
	}
	if cfg.Producer.CPU != -1 {
		t.Errorf("Producer.CPU = %d, want default -1", cfg.Producer.CPU)
	}
	if cfg.PacingConfig() != (viewport.PacingConfig{}) {
		t.Errorf("unset pacing should be zero so the producer applies its defaults")
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		invalid bool // wraps ErrInvalid; otherwise a decode error
	}{
		{"zero width", `{"width": 0}`, true},
		{"bad format", `{"format": "rgb565"}`, true},
		{"bad consume", `{"consume": "peek"}`, true},
		{"bad level", `{"log_level": "loud"}`, true},
		{"max below base", `{"pacing": {"base": "10ms", "max": "5ms"}}`, true},
		{"cpu over 100", `{"pacing": {"max_cpu_percent": 120}}`, true},
		{"negative workers", `{"workers": {"render": -1}}`, true},
		{"negative pool", `{"pools": {"max_textures": -2}}`, true},
		{"unknown field", `{"widht": 10}`, false},
		{"bad duration", `{"pacing": {"base": "fast"}}`, false},
		{"not json", `width=10`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			if got := errors.Is(err, ErrInvalid); got != tt.invalid {
				t.Errorf("errors.Is(err, ErrInvalid) = %v, want %v (err: %v)", got, tt.invalid, err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewport.json")
	if _, err := Load(path); err == nil {
		t.Error("Load of a missing file should fail")
	}

	writeConfig(t, path, `{"width": 10, "height": 20}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Width != 10 || cfg.Height != 20 {
		t.Errorf("size = %dx%d, want 10x20", cfg.Width, cfg.Height)
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := Duration(1500 * time.Microsecond).MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(b) != `"1.5ms"` {
		t.Errorf("MarshalJSON() = %s, want \"1.5ms\"", b)
	}
}

// =============================================================================
// Watcher
// =============================================================================

func TestWatcher_Reloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewport.json")
	writeConfig(t, path, `{"width": 10, "height": 10}`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	writeConfig(t, path, `{"width": 10, "height": 10, "pacing": {"base": "2ms"}}`)

	// A save may surface as several events, some seeing a truncated file.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-w.Changes():
			if cfg.PacingConfig().Base == 2*time.Millisecond {
				return
			}
		case <-w.Errors():
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}

func TestWatcher_ReportsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewport.json")
	writeConfig(t, path, `{}`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	writeConfig(t, path, `{"width": -5}`)

	select {
	case err := <-w.Errors():
		if err == nil {
			t.Error("nil error delivered")
		}
	case cfg := <-w.Changes():
		t.Errorf("invalid file delivered a config: %+v", cfg)
	case <-time.After(5 * time.Second):
		t.Fatal("no error observed")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "viewport.json")
	writeConfig(t, path, `{}`)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })

	writeConfig(t, filepath.Join(dir, "other.json"), `{"width": -1}`)

	select {
	case cfg := <-w.Changes():
		t.Errorf("sibling change delivered %+v", cfg)
	case err := <-w.Errors():
		t.Errorf("sibling change delivered error %v", err)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "viewport.json")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Path() != path {
		t.Errorf("Path() = %q, want %q", w.Path(), path)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewWatcher_MissingDir(t *testing.T) {
	if _, err := NewWatcher(filepath.Join(t.TempDir(), "missing", "viewport.json")); err == nil {
		t.Error("NewWatcher on a missing directory should fail")
	}
}

func writeConfig(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
