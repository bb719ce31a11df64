package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// TokenBucket is an in-memory per-client rate limiter with a burst
// capacity decoupled from the steady refill rate, so the check-in
// endpoint can run a much tighter budget than the API as a whole.
// State lives in this process; for prod swap to Redis.
type TokenBucket struct {
	burst  float64
	perMin float64
	now    func() time.Time

	mu    sync.Mutex
	state map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates a limiter allowing burst requests at once
// and refilling perMinute tokens continuously.
func NewTokenBucket(burst, perMinute int) *TokenBucket {
	if burst <= 0 {
		burst = perMinute
	}
	return &TokenBucket{
		burst:  float64(burst),
		perMin: float64(perMinute),
		now:    time.Now,
		state:  make(map[string]*bucket),
	}
}

// GinMiddleware returns a handler enforcing per-IP limits.
func (l *TokenBucket) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

func (l *TokenBucket) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.state[key]
	if !ok {
		l.state[key] = &bucket{tokens: l.burst - 1, last: now}
		return true
	}

	// Fractional refill: half a minute at 10/min is worth 5 tokens.
	b.tokens += now.Sub(b.last).Minutes() * l.perMin
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.last = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}
