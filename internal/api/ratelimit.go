package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter returns a Gin middleware enforcing per-source token-bucket
// rate limiting. rps is the steady-state requests per second and burst the
// maximum burst size. Buckets idle for more than 10 minutes are evicted by
// a background sweep.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	var mu sync.Mutex
	buckets := make(map[string]*clientBucket)

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			mu.Lock()
			for ip, b := range buckets {
				if time.Since(b.lastSeen) > 10*time.Minute {
					delete(buckets, ip)
				}
			}
			mu.Unlock()
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()

		mu.Lock()
		b, ok := buckets[ip]
		if !ok {
			b = &clientBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
			buckets[ip] = b
		}
		b.lastSeen = time.Now()
		mu.Unlock()

		if !b.limiter.Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
