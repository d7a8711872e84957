package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientRateLimiter_Allow(t *testing.T) {
	t.Run("should allow requests under limit", func(t *testing.T) {
		limiter := NewClientRateLimiter(5)

		for i := 0; i < 5; i++ {
			allowed, retryAfter := limiter.Allow()
			assert.True(t, allowed)
			assert.Zero(t, retryAfter)
		}
		assert.Equal(t, 5, limiter.Count())
	})

	t.Run("should reject when rate limit exceeded", func(t *testing.T) {
		limiter := NewClientRateLimiter(2)
		limiter.Allow()
		limiter.Allow()

		allowed, retryAfter := limiter.Allow()
		assert.False(t, allowed)
		assert.True(t, retryAfter >= time.Second)
		assert.True(t, retryAfter <= time.Minute)
		assert.Equal(t, 2, limiter.Count(), "rejected requests do not consume budget")
	})

	t.Run("should free budget once requests leave the window", func(t *testing.T) {
		limiter := NewClientRateLimiter(1)
		limiter.requests = []time.Time{time.Now().Add(-2 * time.Minute)}

		allowed, _ := limiter.Allow()
		assert.True(t, allowed)
		assert.Equal(t, 1, limiter.Count())
	})
}

func TestClientRateLimiter_UpdateLimit(t *testing.T) {
	limiter := NewClientRateLimiter(1)
	limiter.Allow()

	allowed, _ := limiter.Allow()
	assert.False(t, allowed)

	limiter.UpdateLimit(3)
	allowed, _ = limiter.Allow()
	assert.True(t, allowed)
}

func TestRateLimiter(t *testing.T) {
	t.Run("should track clients independently", func(t *testing.T) {
		limiter := NewRateLimiter(1)

		allowed, _ := limiter.Allow("10.0.0.1")
		assert.True(t, allowed)
		allowed, _ = limiter.Allow("10.0.0.1")
		assert.False(t, allowed)

		allowed, _ = limiter.Allow("10.0.0.2")
		assert.True(t, allowed)
		assert.Equal(t, 2, limiter.ClientCount())
	})

	t.Run("should allow everything when disabled", func(t *testing.T) {
		limiter := NewRateLimiter(0)
		for i := 0; i < 100; i++ {
			allowed, _ := limiter.Allow("10.0.0.1")
			assert.True(t, allowed)
		}
		assert.Equal(t, 0, limiter.ClientCount())
	})

	t.Run("should forget idle clients", func(t *testing.T) {
		limiter := NewRateLimiter(10)
		limiter.Allow("10.0.0.1")
		limiter.clients["10.0.0.1"].lastSeen = time.Now().Add(-2 * time.Minute)
		limiter.lastSweep = time.Now().Add(-2 * time.Minute)

		limiter.Allow("10.0.0.2")
		assert.Equal(t, 1, limiter.ClientCount())
	})
}
