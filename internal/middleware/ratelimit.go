package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"ratepro/internal/config"
	appmetrics "ratepro/internal/metrics"
)

// keyedLimiter hands out one token bucket per key.
type keyedLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newKeyedLimiter(rpm, burst int) *keyedLimiter {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm // a minute worth
	}
	return &keyedLimiter{
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   burst,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *keyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := rate.NewLimiter(l.limit, l.burst)
	l.buckets[key] = b
	return b
}

// RateLimitMiddleware limits requests per key, where the key is the
// configured header (the tenant by default) or the client IP. Disabled
// limiting is a no-op.
func RateLimitMiddleware(rl config.RateLimitingConfig) gin.HandlerFunc {
	if !rl.Enabled || rl.RequestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newKeyedLimiter(rl.RequestsPerMinute, rl.Burst)
	return func(c *gin.Context) {
		key, prefix := limitKey(c, rl.KeyHeader)
		if !limiter.get(key).Allow() {
			appmetrics.IncRateLimitDrop(prefix)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "Too Many Requests",
				"message": "rate limit exceeded",
				"code":    http.StatusTooManyRequests,
			})
			return
		}
		c.Next()
	}
}

// limitKey returns the bucket key and the metric label it is counted under.
func limitKey(c *gin.Context, header string) (string, string) {
	if header != "" {
		if v := strings.TrimSpace(c.GetHeader(header)); v != "" {
			if strings.EqualFold(header, "X-Forwarded-For") {
				v = strings.TrimSpace(strings.Split(v, ",")[0])
			}
			return header + ":" + v, strings.ToLower(header)
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip, "ip"
}
