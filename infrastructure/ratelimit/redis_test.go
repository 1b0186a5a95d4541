package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedis_Allow(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	req := require.New(t)
	opts, err := redis.ParseURL(url)
	req.NoError(err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	limiter := NewRedis(client)
	key := "send:" + uuid.NewString()

	// Given two allowed calls
	for range 2 {
		ok, err := limiter.Allow(ctx, key, 2, time.Minute)
		req.NoError(err)
		req.True(ok)
	}

	// When the limit is reached
	ok, err := limiter.Allow(ctx, key, 2, time.Minute)

	// Then the call is refused
	req.NoError(err)
	req.False(ok)
}
