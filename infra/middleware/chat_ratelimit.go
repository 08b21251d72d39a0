package middleware

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"mailchat_server/pkg/apperr"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(c *fiber.Ctx) string

// Limiter decides whether key may proceed and, if not, how long to wait.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// RateLimiter keeps one token bucket per key. Idle buckets are evicted.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	stop    chan struct{}
	once    sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}

	rl := &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		idleTTL: 10 * time.Minute,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.cleanup(time.Now())
		}
	}
}

func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.idleTTL {
			delete(rl.buckets, key)
		}
	}
}

// Allow charges one token to key.
func (rl *RateLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	rl.mu.Unlock()

	r := b.limiter.Reserve()
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) Handler(keyFn KeyFunc) fiber.Handler {
	return RateLimit(rl, rl.burst, keyFn)
}

// RateLimit rejects requests that l refuses with 429 and a Retry-After hint.
func RateLimit(l Limiter, limit int, keyFn KeyFunc) fiber.Handler {
	return RateLimitAll(limit, Rule{Limiter: l, Key: keyFn})
}

// Rule charges one request to the bucket Key picks in Limiter.
type Rule struct {
	Limiter Limiter
	Key     KeyFunc
}

// RateLimitAll charges the rules in order and rejects on the first refusal.
func RateLimitAll(limit int, rules ...Rule) fiber.Handler {
	for i := range rules {
		if rules[i].Key == nil {
			rules[i].Key = IPKey
		}
	}
	return func(c *fiber.Ctx) error {
		c.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		for _, r := range rules {
			ok, retry := r.Limiter.Allow(c.UserContext(), r.Key(c))
			if !ok {
				c.Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(retry.Seconds()))))
				return apperr.RateLimited().WithDetail("retry_after_ms", retry.Milliseconds())
			}
		}
		return c.Next()
	}
}

// Scoped prefixes the keys of fn so two rules sharing a store never share a bucket.
func Scoped(scope string, fn KeyFunc) KeyFunc {
	return func(c *fiber.Ctx) string {
		return scope + ":" + fn(c)
	}
}

func IPKey(c *fiber.Ctx) string {
	return "ip:" + c.IP()
}

// SessionKey charges chat requests to the session_id in the JSON body,
// falling back to the client IP.
func SessionKey(c *fiber.Ctx) string {
	var body struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(c.Body(), &body); err == nil && body.SessionID != "" {
		return "session:" + body.SessionID
	}
	return IPKey(c)
}
