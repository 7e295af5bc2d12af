package scheduler

import "time"

// RateConfig tunes the adaptive analyze-rate controller. Field names
// mirror spec.md's fps_min/fps_max.
type RateConfig struct {
	FPSMin         float64
	FPSMax         float64
	StableRequired  int // consecutive Stable windows required before decreasing rate
	ChangedRequired int // consecutive Changed windows required before increasing rate
	IncreaseFactor  float64
	DecreaseFactor  float64
	Cooldown        time.Duration
}

// DefaultRateConfig returns conservative AIMD tuning: only step the rate up
// after a run of Changed windows (sustained motion, not a single noisy
// frame) and only step it down after a run of Stable windows, so the rate
// doesn't oscillate every frame.
func DefaultRateConfig() RateConfig {
	return RateConfig{
		StableRequired:  2,
		ChangedRequired: 2,
		IncreaseFactor:  1.25,
		DecreaseFactor:  0.5,
		Cooldown:        2 * time.Second,
	}
}

// RateController is an AIMD controller over the analysis sampling rate,
// grounded on the pack's adaptive bitrate controller: multiplicative
// increase only after changedRequired consecutive Changed windows
// (sustained motion deserves closer attention), multiplicative decrease
// only after stableRequired consecutive Stable windows (a quiet scene can
// be sampled more sparsely), and a cooldown that prevents the rate from
// changing again immediately after a step — spec.md §4.6.
type RateController struct {
	cfg RateConfig

	current      float64
	stableCount  int
	changedCount int
	lastChange   time.Time
}

// NewRateController starts the controller at fps_max — optimistic until
// the scene proves it's mostly static, after which it backs off.
func NewRateController(cfg RateConfig) *RateController {
	if cfg.StableRequired < 1 {
		cfg.StableRequired = 1
	}
	if cfg.ChangedRequired < 1 {
		cfg.ChangedRequired = 1
	}
	return &RateController{cfg: cfg, current: cfg.FPSMax}
}

// FPS returns the current target analyze rate.
func (r *RateController) FPS() float64 {
	return r.current
}

// OnWindow reports one decision window's verdict: changed=true means the
// Motion Gate found real motion (the scene needs closer attention, so the
// rate should climb back toward fps_max); changed=false means the scene
// was stable (the rate can relax back toward fps_min).
func (r *RateController) OnWindow(now time.Time, changed bool) {
	if changed {
		r.stableCount = 0
		r.changedCount++
		if r.changedCount < r.cfg.ChangedRequired {
			return
		}
		r.changedCount = 0
		r.step(now, r.current*r.cfg.IncreaseFactor)
		return
	}

	r.changedCount = 0
	r.stableCount++
	if r.stableCount < r.cfg.StableRequired {
		return
	}
	r.stableCount = 0
	r.step(now, r.current*r.cfg.DecreaseFactor)
}

// ForceFloor immediately drops the analyze rate to fps_min, bypassing the
// cooldown. Used when the Vision Describer has degraded (too many
// consecutive failures) and the pipeline should shed load rather than keep
// requesting frames at the prior rate.
func (r *RateController) ForceFloor() {
	r.current = r.cfg.FPSMin
	r.stableCount = 0
	r.changedCount = 0
	r.lastChange = time.Time{}
}

func (r *RateController) step(now time.Time, target float64) {
	if !r.lastChange.IsZero() && now.Sub(r.lastChange) < r.cfg.Cooldown {
		return
	}
	r.current = clamp(target, r.cfg.FPSMin, r.cfg.FPSMax)
	r.lastChange = now
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
