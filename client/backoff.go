package client

import (
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: base, doubled per attempt, capped, with jitter.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// rand returns a value in [0, 1)
	rand    func() float64
	attempt int
}

func NewBackoff() *Backoff {
	return &Backoff{Base: time.Second, Max: 30 * time.Second, Jitter: 0.2, rand: rand.Float64}
}

// Next returns the delay before the next attempt and advances the counter.
func (b *Backoff) Next() time.Duration {
	delay := b.Base
	for i := 0; i < b.attempt && delay < b.Max; i++ {
		delay *= 2
	}
	delay = min(delay, b.Max)
	b.attempt++

	spread := (b.rand()*2 - 1) * b.Jitter
	return time.Duration(float64(delay) * (1 + spread))
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

func (b *Backoff) Attempt() int {
	return b.attempt
}
