// Package pacing throttles consecutive simulator runs so a sweep does not
// flood shared storage or a batch queue.
package pacing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nvandessel/stargal/internal/config"
	"github.com/nvandessel/stargal/internal/constants"
)

// Pacer blocks between jobs. Wait returns early with ctx.Err() when the
// context is cancelled.
type Pacer interface {
	Wait(ctx context.Context) error
}

// New returns the pacer selected by cfg.Mode.
func New(cfg config.ThrottleConfig) (Pacer, error) {
	switch cfg.Mode {
	case constants.ThrottleNone:
		return None{}, nil
	case constants.ThrottleFixed:
		return NewFixed(cfg.Delay), nil
	case constants.ThrottleTokenBucket:
		if cfg.Rate <= 0 || cfg.Burst < 1 {
			return nil, fmt.Errorf("token bucket needs rate > 0 and burst >= 1, got rate=%f burst=%d", cfg.Rate, cfg.Burst)
		}
		return NewBucket(cfg.Rate, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("unknown throttle mode: %s", cfg.Mode)
	}
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// None never waits.
type None struct{}

// Wait implements Pacer.
func (None) Wait(ctx context.Context) error {
	return ctx.Err()
}

// Fixed sleeps the same delay every time.
type Fixed struct {
	delay time.Duration
	sleep sleepFunc // injectable for testing
}

// NewFixed creates a Fixed pacer.
func NewFixed(delay time.Duration) *Fixed {
	return &Fixed{delay: delay, sleep: sleepContext}
}

// Delay returns the configured pause.
func (f *Fixed) Delay() time.Duration {
	return f.delay
}

// Wait implements Pacer.
func (f *Fixed) Wait(ctx context.Context) error {
	return f.sleep(ctx, f.delay)
}

// Bucket is a token bucket: up to burst jobs start back to back, after
// which jobs start at rate per second. It is safe for concurrent use.
type Bucket struct {
	mu        sync.Mutex
	tokens    float64
	lastCheck time.Time
	rate      float64          // tokens per second
	burst     int              // max burst size (also initial token count)
	nowFunc   func() time.Time // injectable clock for testing
	sleep     sleepFunc
}

// NewBucket creates a full bucket with the given rate (tokens/sec) and burst size.
func NewBucket(rate float64, burst int) *Bucket {
	return &Bucket{
		tokens:  float64(burst),
		rate:    rate,
		burst:   burst,
		nowFunc: time.Now,
		sleep:   sleepContext,
	}
}

// refill adds the tokens earned since the last check. Callers hold mu.
func (b *Bucket) refill(now time.Time) {
	if b.lastCheck.IsZero() {
		b.lastCheck = now
		return
	}
	elapsed := now.Sub(b.lastCheck).Seconds()
	if elapsed > 0 {
		b.tokens += b.rate * elapsed
		if b.tokens > float64(b.burst) {
			b.tokens = float64(b.burst)
		}
		b.lastCheck = now
	}
}

// Allow takes a token if one is available and reports whether it did.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.nowFunc())
	if b.tokens < 1.0 {
		return false
	}
	b.tokens--
	return true
}

// reserve takes a token, borrowing against the future when the bucket is
// empty, and returns how long the caller must wait for it.
func (b *Bucket) reserve() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.nowFunc())
	b.tokens--
	if b.tokens >= 0 {
		return 0
	}
	return time.Duration(-b.tokens / b.rate * float64(time.Second))
}

// Wait implements Pacer.
func (b *Bucket) Wait(ctx context.Context) error {
	return b.sleep(ctx, b.reserve())
}
