package videosource

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/videocore/pipeline/internal/frame"
)

// ReconnectConfig tunes the backoff applied between reconnect attempts.
type ReconnectConfig struct {
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64
}

// DefaultReconnectConfig mirrors the backoff the pack uses for persistent
// network connections: short initial retries, capped exponential growth,
// jittered so many sources reconnecting at once don't thunder-herd a
// shared upstream.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// Reconnecting wraps a live Source with an open/read/reopen loop: when Read
// fails, it closes the underlying source, waits out a jittered backoff, and
// reopens before the next Read. File sources are never wrapped — EOF there
// is a terminal, not a transient, condition.
type Reconnecting struct {
	factory func() (Source, error)
	cfg     ReconnectConfig

	cur     Source
	delay   time.Duration
	hadGap  bool
	onGap   func()
}

// SetGapHandler registers fn to be called once a read resumes successfully
// after a reconnect-triggered gap. The Motion Gate uses this to invalidate
// its background reference, since frames lost to a reconnect make the old
// reference meaningless for change detection.
func (r *Reconnecting) SetGapHandler(fn func()) {
	r.onGap = fn
}

// NewReconnecting builds a reconnect wrapper around sources produced by
// factory (typically a closure over a fixed Config calling New).
func NewReconnecting(factory func() (Source, error), cfg ReconnectConfig) *Reconnecting {
	return &Reconnecting{factory: factory, cfg: cfg, delay: cfg.InitialDelay}
}

func (r *Reconnecting) Open(ctx context.Context) error {
	src, err := r.factory()
	if err != nil {
		return err
	}
	if err := src.Open(ctx); err != nil {
		return err
	}
	r.cur = src
	r.delay = r.cfg.InitialDelay
	return nil
}

// Read returns the next frame, transparently reconnecting on read failure
// until ctx is canceled. Each successful read resets the backoff so a
// single blip doesn't inflate the delay for a source that's otherwise
// healthy.
func (r *Reconnecting) Read(ctx context.Context) (frame.Frame, error) {
	for {
		if r.cur == nil {
			if err := r.reconnect(ctx); err != nil {
				return frame.Frame{}, err
			}
		}

		f, err := r.cur.Read(ctx)
		if err == nil {
			r.delay = r.cfg.InitialDelay
			if r.hadGap {
				r.hadGap = false
				if r.onGap != nil {
					r.onGap()
				}
			}
			return f, nil
		}
		if errors.Is(err, ErrEndOfStream) {
			return frame.Frame{}, err
		}

		log.Warn("source read failed, reconnecting", "error", err)
		r.cur.Close()
		r.cur = nil
		r.hadGap = true

		if err := r.waitBackoff(ctx); err != nil {
			return frame.Frame{}, err
		}
	}
}

func (r *Reconnecting) reconnect(ctx context.Context) error {
	src, err := r.factory()
	if err != nil {
		return err
	}
	if err := src.Open(ctx); err != nil {
		if err := r.waitBackoff(ctx); err != nil {
			return err
		}
		return r.reconnect(ctx)
	}
	r.cur = src
	return nil
}

func (r *Reconnecting) waitBackoff(ctx context.Context) error {
	jittered := applyJitter(r.delay, r.cfg.JitterFrac)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jittered):
	}

	r.delay = time.Duration(float64(r.delay) * r.cfg.BackoffFactor)
	if r.delay > r.cfg.MaxDelay {
		r.delay = r.cfg.MaxDelay
	}
	return nil
}

func (r *Reconnecting) Close() error {
	if r.cur != nil {
		return r.cur.Close()
	}
	return nil
}

func (r *Reconnecting) IsLive() bool { return true }

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
