package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeCounter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expires[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func TestRedisRateLimit_BlocksOverLimit(t *testing.T) {
	e := echo.New()
	counter := newFakeCounter()
	h := RedisRateLimit(counter, RedisRateLimitConfig{Limit: 3, Window: time.Hour}, zerolog.Nop())(okHandler)

	for i := 0; i < 3; i++ {
		rec, err := serveFrom(e, h, "10.1.0.1")
		if err != nil {
			t.Fatalf("request %d: %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "3" {
			t.Errorf("request %d: missing limit header", i+1)
		}
	}

	rec, err := serveFrom(e, h, "10.1.0.1")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	if _, err := serveFrom(e, h, "10.1.0.2"); err != nil {
		t.Errorf("other clients are counted separately: %v", err)
	}
}

func TestRedisRateLimit_SetsExpiryOnFirstHit(t *testing.T) {
	e := echo.New()
	counter := newFakeCounter()
	h := RedisRateLimit(counter, RedisRateLimitConfig{Prefix: "book", Limit: 10, Window: time.Minute}, zerolog.Nop())(okHandler)

	serveFrom(e, h, "10.1.0.3")
	serveFrom(e, h, "10.1.0.3")

	if len(counter.expires) != 1 {
		t.Fatalf("expected one expiring key, got %v", counter.expires)
	}
	for key, ttl := range counter.expires {
		if ttl != time.Minute {
			t.Errorf("expected 1m ttl, got %s", ttl)
		}
		if key[:5] != "book:" {
			t.Errorf("expected prefixed key, got %q", key)
		}
	}
}

func TestRedisRateLimit_FailsOpen(t *testing.T) {
	counter := newFakeCounter()
	counter.err = redis.ErrClosed
	h := RedisRateLimit(counter, RedisRateLimitConfig{Limit: 1}, zerolog.Nop())(okHandler)

	e := echo.New()
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if err := h(e.NewContext(req, httptest.NewRecorder())); err != nil {
			t.Fatalf("request %d: expected pass-through when redis is down, got %v", i+1, err)
		}
	}
}
