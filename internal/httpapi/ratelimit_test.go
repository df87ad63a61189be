package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPerIPRateLimiter_BlocksAfterBurst(t *testing.T) {
	limiter := newPerIPRateLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.allow("1.2.3.4"), "request %d within burst should be allowed", i)
	}
	assert.False(t, limiter.allow("1.2.3.4"), "request beyond burst should be rejected")
}

func TestPerIPRateLimiter_TracksEachIPIndependently(t *testing.T) {
	limiter := newPerIPRateLimiter(1, 1)

	assert.True(t, limiter.allow("1.2.3.4"))
	assert.True(t, limiter.allow("5.6.7.8"), "a different source IP must get its own bucket")
}
