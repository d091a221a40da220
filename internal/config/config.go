// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package config loads the JSON configuration of the viewport demo and
// converts it into the option structs of the viewport packages.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/viewport"
	"github.com/gogpu/viewport/atlas"
	"github.com/gogpu/viewport/pool"
	"github.com/gogpu/viewport/worker"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid configuration")

// Duration is a time.Duration that reads JSON strings such as "8ms" as
// well as plain nanosecond numbers.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("config: duration %s: %w", b, err)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config is the demo configuration file.
type Config struct {
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Format   string   `json:"format"`  // "rgba8" or "bgra8"
	Consume  string   `json:"consume"` // "take" or "latest"
	LogLevel string   `json:"log_level"`
	Pacing   Pacing   `json:"pacing"`
	Producer Producer `json:"producer"`
	Workers  Workers  `json:"workers"`
	Pools    Pools    `json:"pools"`
	Atlas    Atlas    `json:"atlas"`
}

// Pacing holds the producer pacing knobs. Zero fields keep the defaults.
type Pacing struct {
	Base          Duration `json:"base"`
	Max           Duration `json:"max"`
	MaxCPUPercent int      `json:"max_cpu_percent"`
}

// Producer configures the producer thread.
type Producer struct {
	Pin      bool `json:"pin"`
	CPU      int  `json:"cpu"`
	Priority int  `json:"priority"`
}

// Workers holds worker pool sizes. Zero selects the pool default.
type Workers struct {
	Render  int `json:"render"`
	Compute int `json:"compute"`
}

// Pools holds resource pool capacities.
type Pools struct {
	MaxBuffers   int    `json:"max_buffers"`
	MaxTextures  int    `json:"max_textures"`
	MemoryBudget uint64 `json:"memory_budget"`
}

// Atlas holds the texture atlas size.
type Atlas struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Width:    640,
		Height:   360,
		Format:   "rgba8",
		Consume:  "take",
		LogLevel: "info",
		Producer: Producer{CPU: -1},
		Atlas:    Atlas{Width: atlas.DefaultAtlasSize, Height: atlas.DefaultAtlasSize},
	}
}

// Load reads and validates the file at path. Fields missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a JSON document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid field.
func (c *Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: size %dx%d", ErrInvalid, c.Width, c.Height)
	case c.Pacing.Base < 0 || c.Pacing.Max < 0:
		return fmt.Errorf("%w: negative pacing interval", ErrInvalid)
	case c.Pacing.Base > 0 && c.Pacing.Max > 0 && c.Pacing.Max < c.Pacing.Base:
		return fmt.Errorf("%w: pacing max %v below base %v", ErrInvalid,
			time.Duration(c.Pacing.Max), time.Duration(c.Pacing.Base))
	case c.Pacing.MaxCPUPercent < 0 || c.Pacing.MaxCPUPercent > 100:
		return fmt.Errorf("%w: max_cpu_percent %d", ErrInvalid, c.Pacing.MaxCPUPercent)
	case c.Workers.Render < 0 || c.Workers.Compute < 0:
		return fmt.Errorf("%w: negative worker count", ErrInvalid)
	case c.Pools.MaxBuffers < 0 || c.Pools.MaxTextures < 0:
		return fmt.Errorf("%w: negative pool capacity", ErrInvalid)
	case c.Atlas.Width < 0 || c.Atlas.Height < 0:
		return fmt.Errorf("%w: atlas size %dx%d", ErrInvalid, c.Atlas.Width, c.Atlas.Height)
	}
	if _, err := c.PixelFormat(); err != nil {
		return err
	}
	if _, err := c.ConsumePolicy(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// PixelFormat returns the framebuffer layout. An empty value means RGBA8.
func (c *Config) PixelFormat() (viewport.PixelFormat, error) {
	switch strings.ToLower(c.Format) {
	case "", "rgba8", "rgba":
		return viewport.FormatRGBA8, nil
	case "bgra8", "bgra":
		return viewport.FormatBGRA8, nil
	}
	return 0, fmt.Errorf("%w: format %q", ErrInvalid, c.Format)
}

// ConsumePolicy returns the viewport consume policy.
func (c *Config) ConsumePolicy() (viewport.ConsumePolicy, error) {
	switch strings.ToLower(c.Consume) {
	case "", "take":
		return viewport.ConsumeTake, nil
	case "latest":
		return viewport.ConsumeLatest, nil
	}
	return 0, fmt.Errorf("%w: consume %q", ErrInvalid, c.Consume)
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w: log_level %q", ErrInvalid, c.LogLevel)
	}
	return l, nil
}

// ViewportOptions returns the options for viewport.New.
func (c *Config) ViewportOptions() []viewport.Option {
	format, _ := c.PixelFormat()
	policy, _ := c.ConsumePolicy()
	return []viewport.Option{
		viewport.WithPixelFormat(format),
		viewport.WithConsumePolicy(policy),
	}
}

// PacingConfig returns the producer pacing. Unset fields keep defaults.
func (c *Config) PacingConfig() viewport.PacingConfig {
	return viewport.PacingConfig{
		Base:          time.Duration(c.Pacing.Base),
		Max:           time.Duration(c.Pacing.Max),
		MaxCPUPercent: c.Pacing.MaxCPUPercent,
	}
}

// ProducerConfig returns the producer thread configuration.
func (c *Config) ProducerConfig() viewport.ProducerConfig {
	return viewport.ProducerConfig{
		Pacing:   c.PacingConfig(),
		Pin:      c.Producer.Pin,
		CPU:      c.Producer.CPU,
		Priority: c.Producer.Priority,
	}
}

// RenderWorkers returns the render worker pool configuration.
func (c *Config) RenderWorkers() worker.Config {
	return worker.Config{Workers: c.Workers.Render, Name: "render"}
}

// ComputeWorkers returns the compute worker pool configuration.
func (c *Config) ComputeWorkers() worker.Config {
	return worker.Config{Workers: c.Workers.Compute, Name: "compute"}
}

// MemoryPool creates the byte budget shared by the resource pools.
func (c *Config) MemoryPool() *pool.MemoryPool {
	return pool.NewMemoryPool(c.Pools.MemoryBudget)
}

// BufferPoolConfig returns the buffer pool configuration charging mem.
func (c *Config) BufferPoolConfig(mem *pool.MemoryPool) pool.BufferPoolConfig {
	return pool.BufferPoolConfig{MaxCached: c.Pools.MaxBuffers, Memory: mem, Label: "vpdemo"}
}

// TexturePoolConfig returns the texture pool configuration charging mem.
func (c *Config) TexturePoolConfig(mem *pool.MemoryPool) pool.TexturePoolConfig {
	return pool.TexturePoolConfig{MaxCached: c.Pools.MaxTextures, Memory: mem}
}

// AtlasConfig returns the texture atlas configuration.
func (c *Config) AtlasConfig() atlas.Config {
	return atlas.Config{Width: c.Atlas.Width, Height: c.Atlas.Height, Label: "vpdemo_atlas"}
}
