package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter limits requests per client with one token bucket each. A client
// may burst up to limit requests and then refills at limit per window.
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientBucket
	limit   int
	window  time.Duration
	refill  rate.Limit
	now     func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. Idle clients are pruned by
// Cleanup, which the caller schedules.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientBucket),
		limit:   limit,
		window:  window,
		refill:  rate.Every(window / time.Duration(limit)),
		now:     time.Now,
	}
}

// Allow takes one token from the key's bucket if one is available.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &clientBucket{limiter: rate.NewLimiter(rl.refill, rl.limit)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Remaining returns the number of whole tokens left for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	remaining := int(math.Floor(rl.tokens(key, rl.now())))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time the key's bucket is full again
func (rl *RateLimiter) Reset(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.untilTokens(key, float64(rl.limit))
}

// retryAt returns the time the key's next token is available.
func (rl *RateLimiter) retryAt(key string) time.Time {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.untilTokens(key, 1)
}

// Cleanup removes clients idle for a whole window whose bucket has refilled.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) >= rl.window && c.limiter.TokensAt(now) >= float64(rl.limit) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// tokens returns the key's available tokens at now. Callers hold mu.
func (rl *RateLimiter) tokens(key string, now time.Time) float64 {
	c, ok := rl.clients[key]
	if !ok {
		return float64(rl.limit)
	}
	return c.limiter.TokensAt(now)
}

// untilTokens returns when the key's bucket holds want tokens. Callers hold mu.
func (rl *RateLimiter) untilTokens(key string, want float64) time.Time {
	now := rl.now()
	missing := want - rl.tokens(key, now)
	if missing <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / float64(rl.refill) * float64(time.Second)))
}

// Limit creates middleware that rate limits requests per authenticated client.
// Requests without a client id in context pass through.
func (rl *RateLimiter) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID, ok := ExtractClientID(r.Context())
		if !ok || clientID == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.Allow(clientID) {
			writeRateLimitError(w, rl.retryAt(clientID))
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.Remaining(clientID)))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rl.Reset(clientID).Unix(), 10))

		next.ServeHTTP(w, r)
	})
}

// writeRateLimitError writes a 429 Too Many Requests response
func writeRateLimitError(w http.ResponseWriter, resetTime time.Time) {
	retryAfter := resetTime.Unix() - time.Now().Unix()
	if retryAfter < 1 {
		retryAfter = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
	w.WriteHeader(http.StatusTooManyRequests)

	response := map[string]interface{}{
		"success": false,
		"error": map[string]interface{}{
			"code":    "TOO_MANY_REQUESTS",
			"message": "Rate limit exceeded. Please try again later.",
			"details": map[string]interface{}{
				"retry_after": retryAfter,
			},
		},
		"timestamp": time.Now().UTC(),
	}

	json.NewEncoder(w).Encode(response)
}
