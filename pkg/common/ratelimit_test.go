package common

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowRespectsBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2)

	assert.True(t, rl.Allow())
	assert.True(t, rl.Allow())
	assert.False(t, rl.Allow(), "third call inside the same second exceeds the burst")
}

func TestRateLimiter_NonPositiveRateIsUnlimited(t *testing.T) {
	rl := NewRateLimiter(0, 1)
	for i := 0; i < 100; i++ {
		require.True(t, rl.Allow())
	}
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, rl.Wait(ctx))
}

func TestRateLimiter_UpdateLimits(t *testing.T) {
	rl := NewRateLimiter(0.001, 1)
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	rl.UpdateLimits(1000, 5)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, rl.Allow())
}
