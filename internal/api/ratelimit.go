package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/saltdig/engine/pkg/models"
)

// ──────────────────────────────────────────────────────────────────────
// Keyed Fixed-Window Rate Limiter
//
// Uses stdlib only — no external dependency.
//
// Windows are keyed by (agent, action) so an agent burning its offer quota
// keeps its message quota. When a window is exhausted the request receives
// HTTP 429 with a Retry-After header indicating when the window resets.
//
// A background goroutine sweeps expired windows to prevent unbounded memory
// growth from transient keys.
// ──────────────────────────────────────────────────────────────────────

const sweepInterval = 10 * time.Minute

// Per-action limits.
const (
	LimitRegister = 2
	LimitMessage  = 10
	LimitOffer    = 5
	LimitGeneral  = 100
)

const (
	WindowRegister = time.Hour
	WindowMessage  = time.Minute
	WindowOffer    = time.Minute
	WindowGeneral  = time.Minute
)

type window struct {
	count   int
	resetAt time.Time
}

// RateLimiter holds per-key fixed windows.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	rl := &RateLimiter{windows: make(map[string]*window), now: time.Now}
	go rl.sweepLoop()
	return rl
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	Remaining  int           `json:"remaining"`
	RetryAfter time.Duration `json:"retryAfter"`
}

// Check consumes one unit from the key's window, opening a fresh window if
// the previous one lapsed.
func (rl *RateLimiter) Check(key string, limit int, windowSize time.Duration) Decision {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	w, ok := rl.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(windowSize)}
		rl.windows[key] = w
	}

	if w.count >= limit {
		return Decision{Allowed: false, Remaining: 0, RetryAfter: w.resetAt.Sub(now)}
	}
	w.count++
	return Decision{Allowed: true, Remaining: limit - w.count}
}

// Middleware enforces the named action's limit for the authenticated agent.
// Unauthenticated requests fall back to the client IP as the key.
func (rl *RateLimiter) Middleware(action string, limit int, windowSize time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if agent := currentAgent(c); agent != nil {
			key = agent.ID
		}

		d := rl.Check(action+":"+key, limit, windowSize)
		if !d.Allowed {
			c.Header("Retry-After", d.RetryAfter.Truncate(time.Second).String())
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      models.ErrRateLimited.Error(),
				"action":     action,
				"retryAfter": d.RetryAfter.Truncate(time.Second).String(),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// sweepLoop drops windows that have lapsed.
func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for range ticker.C {
		now := rl.now()
		rl.mu.Lock()
		for key, w := range rl.windows {
			if !now.Before(w.resetAt) {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
