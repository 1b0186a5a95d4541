package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const maxIdleBuckets = 10_000

// Memory is a process-local token bucket per key.
// Limits are only shared between processes with Redis.
type Memory struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewMemory() *Memory {
	return &Memory{buckets: make(map[string]*rate.Limiter)}
}

// Allow spends one token of the bucket for key. A bucket holds limit tokens
// and refills them evenly over window.
func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 || window <= 0 {
		return true, nil
	}
	bucketKey := fmt.Sprintf("%s/%d/%d", key, limit, window)

	m.mu.Lock()
	defer m.mu.Unlock()

	limiter, ok := m.buckets[bucketKey]
	if !ok {
		if len(m.buckets) >= maxIdleBuckets {
			m.prune()
		}
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
		m.buckets[bucketKey] = limiter
	}
	return limiter.Allow(), nil
}

// prune drops the buckets that are full again, they behave like new ones.
func (m *Memory) prune() {
	now := time.Now()
	for key, limiter := range m.buckets {
		if limiter.TokensAt(now) >= float64(limiter.Burst()) {
			delete(m.buckets, key)
		}
	}
}
