// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package viewport

import "time"

// PacingConfig tunes the producer's adaptive frame pacing.
// Zero fields take the defaults from DefaultPacingConfig.
type PacingConfig struct {
	// Base is the baseline frame interval and the floor of the adaptive target.
	Base time.Duration

	// Max is the ceiling of the adaptive target.
	Max time.Duration

	// MaxCPUPercent caps the share of one core the producer may use.
	MaxCPUPercent int

	// FastRatio: a frame faster than FastRatio*target counts as fast.
	FastRatio float64

	// FastStreak is how many consecutive fast frames grow the target.
	FastStreak int

	// Grow multiplies the target after a fast streak.
	Grow float64

	// Relax multiplies the target after a frame that was not fast.
	Relax float64

	// MinSleep is the smallest sleep between frames.
	MinSleep time.Duration

	// YieldEvery frames the producer yields and sleeps YieldSleep.
	YieldEvery uint64
	YieldSleep time.Duration

	// SafetyEvery frames the producer sleeps SafetySleep regardless of timing.
	SafetyEvery uint64
	SafetySleep time.Duration
}

// DefaultPacingConfig returns pacing for a ~120 FPS producer that stays
// under 85% of its core.
func DefaultPacingConfig() PacingConfig {
	return PacingConfig{
		Base:          8 * time.Millisecond,
		Max:           16 * time.Millisecond,
		MaxCPUPercent: 85,
		FastRatio:     0.5,
		FastStreak:    10,
		Grow:          1.1,
		Relax:         0.99,
		MinSleep:      time.Millisecond,
		YieldEvery:    30,
		YieldSleep:    100 * time.Microsecond,
		SafetyEvery:   120,
		SafetySleep:   2 * time.Millisecond,
	}
}

// withDefaults fills zero fields and repairs inconsistent ones.
func (c PacingConfig) withDefaults() PacingConfig {
	d := DefaultPacingConfig()
	if c.Base <= 0 {
		c.Base = d.Base
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Max < c.Base {
		c.Max = c.Base
	}
	if c.MaxCPUPercent <= 0 || c.MaxCPUPercent > 100 {
		c.MaxCPUPercent = d.MaxCPUPercent
	}
	if c.FastRatio <= 0 {
		c.FastRatio = d.FastRatio
	}
	if c.FastStreak <= 0 {
		c.FastStreak = d.FastStreak
	}
	if c.Grow <= 1 {
		c.Grow = d.Grow
	}
	if c.Relax <= 0 || c.Relax >= 1 {
		c.Relax = d.Relax
	}
	if c.MinSleep <= 0 {
		c.MinSleep = d.MinSleep
	}
	if c.YieldEvery == 0 {
		c.YieldEvery = d.YieldEvery
	}
	if c.YieldSleep <= 0 {
		c.YieldSleep = d.YieldSleep
	}
	if c.SafetyEvery == 0 {
		c.SafetyEvery = d.SafetyEvery
	}
	if c.SafetySleep <= 0 {
		c.SafetySleep = d.SafetySleep
	}
	return c
}

// PaceDecision tells the producer how to wait after a frame.
type PaceDecision struct {
	// Sleep is the main pause before the next frame.
	Sleep time.Duration

	// Yield asks for a scheduler yield followed by YieldSleep.
	Yield      bool
	YieldSleep time.Duration

	// SafetySleep is an extra pause taken on safety frames, zero otherwise.
	SafetySleep time.Duration

	// Target is the adaptive frame interval after this frame.
	Target time.Duration
}

// Total returns the full time the decision asks the producer to wait.
func (d PaceDecision) Total() time.Duration {
	t := d.Sleep + d.SafetySleep
	if d.Yield {
		t += d.YieldSleep
	}
	return t
}

// Pacer adapts the producer's frame interval.
//
// Frames that finish well under the target for a sustained streak grow the
// target toward Max; any other frame relaxes it back toward Base. The sleep
// after a frame keeps work/(work+sleep) under MaxCPUPercent and tops the
// frame up to the target interval.
//
// A Pacer is not safe for concurrent use.
type Pacer struct {
	cfg    PacingConfig
	target time.Duration
	streak int
}

// NewPacer creates a pacer starting at the base interval.
func NewPacer(cfg PacingConfig) *Pacer {
	cfg = cfg.withDefaults()
	return &Pacer{cfg: cfg, target: cfg.Base}
}

// Config returns the effective configuration.
func (p *Pacer) Config() PacingConfig { return p.cfg }

// Target returns the current adaptive frame interval.
func (p *Pacer) Target() time.Duration { return p.target }

// Reconfigure replaces the configuration, clamping the current target into
// the new range.
func (p *Pacer) Reconfigure(cfg PacingConfig) {
	p.cfg = cfg.withDefaults()
	p.target = min(max(p.target, p.cfg.Base), p.cfg.Max)
	p.streak = 0
}

// Next records a frame that took work and returns how to wait before the
// next one. frame is the 1-based count of producer iterations.
func (p *Pacer) Next(work time.Duration, frame uint64) PaceDecision {
	cfg := p.cfg

	if float64(work) < float64(p.target)*cfg.FastRatio {
		p.streak++
		if p.streak > cfg.FastStreak {
			p.target = min(scale(p.target, cfg.Grow), cfg.Max)
			p.streak = 0
		}
	} else {
		p.streak = 0
		p.target = max(scale(p.target, cfg.Relax), cfg.Base)
	}

	// Sleep long enough that work stays under the CPU share, and at least
	// until the adaptive interval has elapsed.
	cpu := float64(cfg.MaxCPUPercent) / 100
	sleep := time.Duration(float64(work)/cpu) - work
	sleep = max(sleep, p.target-work, cfg.MinSleep)

	d := PaceDecision{Sleep: sleep, Target: p.target}
	if frame%cfg.YieldEvery == 0 {
		d.Yield = true
		d.YieldSleep = cfg.YieldSleep
	}
	if frame%cfg.SafetyEvery == 0 {
		d.SafetySleep = cfg.SafetySleep
	}
	return d
}

func scale(d time.Duration, f float64) time.Duration {
	return time.Duration(float64(d) * f)
}
