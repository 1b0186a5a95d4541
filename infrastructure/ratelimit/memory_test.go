package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemory_Allow(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := NewMemory()

	// Given a budget of 3 sends per minute
	for range 3 {
		ok, err := limiter.Allow(ctx, "send:alice", 3, time.Minute)
		req.NoError(err)
		req.True(ok)
	}

	// When a fourth send comes in the same window
	ok, err := limiter.Allow(ctx, "send:alice", 3, time.Minute)

	// Then it is refused
	req.NoError(err)
	req.False(ok)

	// And other keys keep their own budget
	ok, err = limiter.Allow(ctx, "send:bob", 3, time.Minute)
	req.NoError(err)
	req.True(ok)
}

func TestMemory_Refill(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	limiter := NewMemory()

	ok, _ := limiter.Allow(ctx, "upload:alice", 1, 50*time.Millisecond)
	req.True(ok)
	ok, _ = limiter.Allow(ctx, "upload:alice", 1, 50*time.Millisecond)
	req.False(ok)

	// Then a token is back once the window elapsed
	req.Eventually(func() bool {
		ok, _ := limiter.Allow(ctx, "upload:alice", 1, 50*time.Millisecond)
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestMemory_DisabledLimit(t *testing.T) {
	req := require.New(t)
	limiter := NewMemory()

	for range 100 {
		ok, err := limiter.Allow(context.Background(), "send:alice", 0, time.Minute)
		req.NoError(err)
		req.True(ok)
	}
}
