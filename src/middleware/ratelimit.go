package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const AccountHeader = "X-Account-ID"

type windowKey struct {
	client string
	window int64
}

// RateLimiter is a fixed-window counter per client. Clients are identified
// by account header when present, otherwise by address.
type RateLimiter struct {
	maxRequests    int
	windowDuration time.Duration
	counters       map[windowKey]int
	current        map[string]int64
	mu             sync.Mutex
	now            func() time.Time
}

func NewRateLimiter(maxRequests int, windowDuration time.Duration) *RateLimiter {
	if windowDuration <= 0 {
		windowDuration = time.Second
	}
	return &RateLimiter{
		maxRequests:    maxRequests,
		windowDuration: windowDuration,
		counters:       make(map[windowKey]int),
		current:        make(map[string]int64),
		now:            time.Now,
	}
}

func (rl *RateLimiter) getClientID(c *fiber.Ctx) string {
	if account := c.Get(AccountHeader); account != "" {
		return "account:" + account
	}
	ip := c.Get("X-Forwarded-For")
	if ip == "" {
		ip = c.Get("X-Real-IP")
	}
	if ip == "" {
		ip = c.IP()
	}
	return "ip:" + ip
}

func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	window := rl.now().UnixNano() / rl.windowDuration.Nanoseconds()
	key := windowKey{client: clientID, window: window}

	// edge case: drop the client's previous window when a new one starts
	if prev, ok := rl.current[clientID]; ok && prev != window {
		delete(rl.counters, windowKey{client: clientID, window: prev})
	}
	rl.current[clientID] = window

	count := rl.counters[key]
	if count >= rl.maxRequests {
		return false
	}
	rl.counters[key] = count + 1
	return true
}

func (rl *RateLimiter) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		clientID := rl.getClientID(c)

		if !rl.Allow(clientID) {
			log.Warn().
				Str("client_id", clientID).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("max_requests", rl.maxRequests).
				Msg("Rate limit exceeded")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Rate limit exceeded",
				"message": "Too many requests. Please try again later.",
			})
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(rl.maxRequests))
		c.Set("X-RateLimit-Window", rl.windowDuration.String())

		return c.Next()
	}
}
