package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy handles exponential backoff calculations with jitter.
type Policy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
	Jitter    float64 // 0.0-1.0, fraction of jitter to add
}

// DefaultPolicy returns a standard backoff configuration.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay: 1 * time.Second,
		MaxDelay:  30 * time.Minute,
		Factor:    2.0,
		Jitter:    0.1,
	}
}

// Delay calculates the delay before the given attempt.
// Attempt 0 returns approximately BaseDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}

	if p.Jitter > 0 {
		jitterRange := delay * p.Jitter
		jitter := (rand.Float64() * 2 * jitterRange) - jitterRange
		delay += jitter
	}

	// Enforce 100ms minimum floor
	if delay < float64(100*time.Millisecond) {
		delay = float64(100 * time.Millisecond)
	}

	return time.Duration(delay)
}
