package main

import (
	"container/list"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/go-training/cms-oauth/pkg/core"
)

const defaultMaxLimiters = 10000

type limiterEntry struct {
	key     string
	limiter *rate.Limiter
}

// ipRateLimiter keeps one token bucket per client IP. The least recently
// seen IP is evicted once maxEntries is reached.
type ipRateLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*list.Element
	lru        *list.List
	limit      rate.Limit
	burst      int
	maxEntries int
}

func newIPRateLimiter(perSecond float64, burst, maxEntries int) *ipRateLimiter {
	if maxEntries <= 0 {
		maxEntries = defaultMaxLimiters
	}
	return &ipRateLimiter{
		limiters:   make(map[string]*list.Element),
		lru:        list.New(),
		limit:      rate.Limit(perSecond),
		burst:      burst,
		maxEntries: maxEntries,
	}
}

// Allow reports whether key may make another request now.
func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.limiters[key]; ok {
		rl.lru.MoveToFront(elem)
		return elem.Value.(*limiterEntry).limiter.Allow()
	}

	if rl.lru.Len() >= rl.maxEntries {
		if oldest := rl.lru.Back(); oldest != nil {
			delete(rl.limiters, oldest.Value.(*limiterEntry).key)
			rl.lru.Remove(oldest)
		}
	}

	entry := &limiterEntry{key: key, limiter: rate.NewLimiter(rl.limit, rl.burst)}
	rl.limiters[key] = rl.lru.PushFront(entry)
	return entry.limiter.Allow()
}

// Len returns the number of tracked clients.
func (rl *ipRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.lru.Len()
}

// rateLimitMiddleware rejects clients that exceed rl with 429.
func rateLimitMiddleware(rl *ipRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !rl.Allow(ip) {
			core.LoggerFromCtx(c.Request.Context()).Warn("Rate limit exceeded", "client_ip", ip, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
