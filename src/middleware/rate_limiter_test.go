package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// fakeCounterStore is an in-memory CounterStore without expiry.
type fakeCounterStore struct {
	counts  map[string]int64
	blocked map[string]bool
	err     error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts:  make(map[string]int64),
		blocked: make(map[string]bool),
	}
}

func (f *fakeCounterStore) Incr(_ context.Context, key string, _ time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.counts[key]++
	return f.counts[key], nil
}

func (f *fakeCounterStore) Set(_ context.Context, key, _ string, _ time.Duration) error {
	f.blocked[key] = true
	return nil
}

func (f *fakeCounterStore) Exists(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if f.blocked[k] {
			n++
		}
	}
	return n, nil
}

func (f *fakeCounterStore) TTL(_ context.Context, _ string) (time.Duration, error) {
	return 30 * time.Minute, nil
}

func rateLimitTestContext(t *testing.T, ip string) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/webhook/zapi", nil)
	c.Request.RemoteAddr = ip + ":12345"
	return c, w
}

func TestWebhookRateLimit_UnderQuota(t *testing.T) {
	counters := newFakeCounterStore()
	handler := WebhookRateLimitMiddleware(counters, RateLimitConfig{Quota: 5, Window: time.Minute, Block: time.Hour})

	for i := 0; i < 5; i++ {
		c, w := rateLimitTestContext(t, "10.0.0.1")
		handler(c)
		if c.IsAborted() {
			t.Fatalf("request %d under quota rejected: %d", i+1, w.Code)
		}
	}
}

func TestWebhookRateLimit_OverQuotaBlocks(t *testing.T) {
	counters := newFakeCounterStore()
	handler := WebhookRateLimitMiddleware(counters, RateLimitConfig{Quota: 3, Window: time.Minute, Block: time.Hour})

	for i := 0; i < 3; i++ {
		c, _ := rateLimitTestContext(t, "10.0.0.2")
		handler(c)
	}

	c, w := rateLimitTestContext(t, "10.0.0.2")
	handler(c)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if !counters.blocked["ratelimit:webhook:10.0.0.2:blocked"] {
		t.Error("expected block key to be set")
	}
}

func TestWebhookRateLimit_BlockedIPRejectedImmediately(t *testing.T) {
	counters := newFakeCounterStore()
	counters.blocked["ratelimit:webhook:10.0.0.3:blocked"] = true

	handler := WebhookRateLimitMiddleware(counters, RateLimitConfig{Quota: 100, Window: time.Minute, Block: time.Hour})

	c, w := rateLimitTestContext(t, "10.0.0.3")
	handler(c)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 for blocked IP, got %d", w.Code)
	}
	if counters.counts["ratelimit:webhook:10.0.0.3"] != 0 {
		t.Error("blocked IP must not touch the counter")
	}
}

func TestWebhookRateLimit_IsolatedPerIP(t *testing.T) {
	counters := newFakeCounterStore()
	handler := WebhookRateLimitMiddleware(counters, RateLimitConfig{Quota: 1, Window: time.Minute, Block: time.Hour})

	c1, _ := rateLimitTestContext(t, "10.0.0.4")
	handler(c1)
	c2, _ := rateLimitTestContext(t, "10.0.0.4")
	handler(c2)

	other, w := rateLimitTestContext(t, "10.0.0.5")
	handler(other)

	if other.IsAborted() {
		t.Errorf("different IP caught by another IP's limit: %d", w.Code)
	}
}

func TestWebhookRateLimit_CounterFailureFailsOpen(t *testing.T) {
	counters := newFakeCounterStore()
	counters.err = errors.New("store unavailable")

	handler := WebhookRateLimitMiddleware(counters, RateLimitConfig{Quota: 1, Window: time.Minute, Block: time.Hour})

	c, w := rateLimitTestContext(t, "10.0.0.6")
	handler(c)

	if c.IsAborted() {
		t.Errorf("broken counter must not reject traffic: %d", w.Code)
	}
}

func TestAdminRateLimit(t *testing.T) {
	handler := AdminRateLimitMiddleware()

	c, _ := rateLimitTestContext(t, "10.0.1.1")
	handler(c)
	if c.IsAborted() {
		t.Fatal("first attempt should pass")
	}

	c2, w := rateLimitTestContext(t, "10.0.1.1")
	handler(c2)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429 on burst exhaustion, got %d", w.Code)
	}
}
