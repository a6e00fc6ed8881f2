package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// callerState tracks requests from an IP within the current window.
type callerState struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter caps how often an IP may hit the expensive cache
// endpoints (pre-warm and forced refresh trigger full remote
// fetches).
type RateLimiter struct {
	mu           sync.Mutex
	callers      map[string]*callerState
	maxRequests  int
	windowPeriod time.Duration
}

// NewRateLimiter creates a new rate limiter
// maxRequests: requests allowed per IP within the window
// windowPeriod: time window for counting requests
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		callers:      make(map[string]*callerState),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
	go rl.startCleanup()
	return rl
}

// startCleanup periodically removes expired entries
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	for ip, st := range rl.callers {
		if now.Sub(st.FirstAt) > rl.windowPeriod {
			delete(rl.callers, ip)
		}
	}
}

// allow records a request and reports whether it is within the limit.
func (rl *RateLimiter) allow(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	st, ok := rl.callers[ip]
	if !ok || now.Sub(st.FirstAt) > rl.windowPeriod {
		rl.callers[ip] = &callerState{Count: 1, FirstAt: now}
		return true, 0
	}

	st.Count++
	if st.Count > rl.maxRequests {
		return false, rl.windowPeriod - now.Sub(st.FirstAt)
	}
	return true, 0
}

// Middleware returns a gin handler enforcing the limit per client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter := rl.allow(c.ClientIP())
		if !ok {
			c.Header("Retry-After", fmt.Sprintf("%.0f", retryAfter.Seconds()))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please try again later",
			})
			return
		}
		c.Next()
	}
}
