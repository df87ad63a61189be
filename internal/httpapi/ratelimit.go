package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// perIPRateLimiter gives each source IP its own token bucket, so a single
// noisy trigger source cannot starve inbound HTTP capacity for the rest
// (spec.md §6 describes the inbound routes but not their abuse posture;
// grounded on the teacher's golang.org/x/time/rate adaptive limiter at the
// model-client boundary — simplified here to a flat per-IP bucket, since
// this boundary has no token-cost or provider-backoff signal to adapt to).
type perIPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newPerIPRateLimiter(rps float64, burst int) *perIPRateLimiter {
	return &perIPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *perIPRateLimiter) allow(key string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// middleware rejects requests over the per-IP budget with 429 before they
// ever reach the trigger engine or the workflow dispatcher.
func (l *perIPRateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			c.Abort()
			return
		}
		c.Next()
	}
}
