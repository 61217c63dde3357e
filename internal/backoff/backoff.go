// Package backoff implements the retry delay policy shared by the sync engine
// and the print job processor.
package backoff

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Default policy parameters used by the sync engine.
const (
	DefaultBase   = 1 * time.Second
	DefaultMax    = 30 * time.Second
	DefaultFactor = 2.0
	DefaultJitter = 0.25
)

// Policy вычисляет экспоненциально растущую задержку между повторами.
// Счетчик попыток увеличивается при каждом вызове Next и сбрасывается
// первым успехом после серии ошибок (Reset).
type Policy struct {
	base   time.Duration
	max    time.Duration
	factor float64
	jitter float64

	mu      sync.Mutex
	attempt int
}

// New creates a policy. factor must be >= 1, jitter is a fraction in [0, 1):
// the computed delay is randomized uniformly by ±jitter·delay.
func New(base, max time.Duration, factor, jitter float64) *Policy {
	return &Policy{
		base:   base,
		max:    max,
		factor: factor,
		jitter: jitter,
	}
}

// NewDefault creates a policy with the sync engine defaults (1s..30s, x2, ±25%).
func NewDefault() *Policy {
	return New(DefaultBase, DefaultMax, DefaultFactor, DefaultJitter)
}

// Next returns the delay for the current attempt and increments the attempt
// counter. The delay is min(max, base·factor^attempt), randomized by the
// jitter fraction and clamped to >= 0.
func (p *Policy) Next() time.Duration {
	p.mu.Lock()
	attempt := p.attempt
	p.attempt++
	p.mu.Unlock()

	return p.DelayFor(attempt)
}

// DelayFor computes the delay for a given attempt number without touching the
// policy's own counter. Used by the job processor, which persists attempts on
// the job itself.
func (p *Policy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	exp := float64(p.base) * math.Pow(p.factor, float64(attempt))
	if capped := float64(p.max); exp > capped {
		exp = capped
	}

	if p.jitter > 0 {
		// Равномерный множитель в диапазоне [1-jitter, 1+jitter]
		exp *= 1 + (rand.Float64()*2-1)*p.jitter
	}

	if exp < 0 {
		return 0
	}
	return time.Duration(exp)
}

// Reset sets the attempt counter back to zero.
func (p *Policy) Reset() {
	p.mu.Lock()
	p.attempt = 0
	p.mu.Unlock()
}

// Attempt returns the current attempt counter.
func (p *Policy) Attempt() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempt
}
