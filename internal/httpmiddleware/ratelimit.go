package httpmiddleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// sweepAt bounds the bucket map; full buckets are dropped when it grows past it.
const sweepAt = 10000

// TokenBucket is an in-memory per-key limiter refilled continuously at
// perMinute tokens per minute.
type TokenBucket struct {
	capacity float64
	rate     float64
	clock    clockwork.Clock
	mu       sync.Mutex
	state    map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewTokenBucket creates limiter with capacity tokens and rate per minute.
func NewTokenBucket(capacity, perMinute int, clock clockwork.Clock) *TokenBucket {
	if perMinute <= 0 {
		perMinute = 60
	}
	if capacity <= 0 {
		capacity = perMinute
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenBucket{
		capacity: float64(capacity),
		rate:     float64(perMinute),
		clock:    clock,
		state:    make(map[string]*bucket),
	}
}

func (l *TokenBucket) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	b, ok := l.state[key]
	if !ok {
		if len(l.state) >= sweepAt {
			l.sweep(now)
		}
		l.state[key] = &bucket{tokens: l.capacity - 1, last: now}
		return true, nil
	}
	b.tokens += now.Sub(b.last).Minutes() * l.rate
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.last = now
	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (l *TokenBucket) sweep(now time.Time) {
	for k, b := range l.state {
		if b.tokens+now.Sub(b.last).Minutes()*l.rate >= l.capacity {
			delete(l.state, k)
		}
	}
}

// FixedWindow counts requests per key per minute in Redis so limits hold
// across restarts.
type FixedWindow struct {
	client *redis.Client
	limit  int64
	clock  clockwork.Clock
	prefix string
}

// NewFixedWindow creates a Redis backed limiter allowing perMinute requests
// per calendar minute.
func NewFixedWindow(client *redis.Client, perMinute int, clock clockwork.Clock) *FixedWindow {
	if perMinute <= 0 {
		perMinute = 60
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixedWindow{client: client, limit: int64(perMinute), clock: clock, prefix: "ratelimit"}
}

func (l *FixedWindow) Allow(ctx context.Context, key string) (bool, error) {
	window := l.clock.Now().Unix() / 60
	k := fmt.Sprintf("%s:%s:%d", l.prefix, key, window)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, err
	}
	return incr.Val() <= l.limit, nil
}

// RateLimit returns gin handler enforcing per-IP limits. Paths in exempt
// skip the limiter. Backend errors let the request through.
func RateLimit(l Limiter, exempt ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(exempt))
	for _, p := range exempt {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		ok, err := l.Allow(c.Request.Context(), ip)
		if err != nil {
			zerolog.Ctx(c.Request.Context()).Warn().Err(err).Msg("rate limiter unavailable")
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}
