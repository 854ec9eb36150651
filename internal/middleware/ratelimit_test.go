package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/kizuna/internal/model"
)

func requestAs(caller model.Caller) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	return req.WithContext(ContextWithCaller(req.Context(), caller))
}

func okHandler(count *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if count != nil {
			*count++
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 2, Burst: 5, CleanupInterval: time.Minute})
	defer rl.Stop()

	calls := 0
	handler := rl.Middleware()(okHandler(&calls))

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs(model.Caller{Username: "alice", UserID: "u1"}))
		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if calls != 5 {
		t.Errorf("handler call count = %d, want 5", calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.5, Burst: 2, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(okHandler(nil))
	caller := model.Caller{Username: "alice", UserID: "u1"}

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs(caller))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(caller))

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter != 2 {
		t.Errorf("Retry-After = %q, want 2", resp.Header.Get("Retry-After"))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimitMiddleware_IsolatesCallers(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 0.1, Burst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()

	handler := rl.Middleware()(okHandler(nil))

	alice := model.Caller{Username: "alice", UserID: "u1"}
	bob := model.Caller{Username: "bob"}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(alice))
	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("alice first request: status = %d", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(alice))
	if w.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("alice second request: status = %d, want 429", w.Result().StatusCode)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs(bob))
	if w.Result().StatusCode != http.StatusOK {
		t.Errorf("bob should not be limited by alice: status = %d", w.Result().StatusCode)
	}

	if rl.LimiterCount() != 2 {
		t.Errorf("LimiterCount = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimitMiddleware_NoCaller_Returns401(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	handler := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{Rate: 2, Burst: 5, CleanupInterval: time.Hour})
	defer rl.Stop()

	handler := rl.Middleware()(okHandler(nil))
	handler.ServeHTTP(httptest.NewRecorder(), requestAs(model.Caller{Username: "idle", UserID: "u-idle"}))

	if rl.LimiterCount() != 1 {
		t.Fatalf("LimiterCount = %d, want 1", rl.LimiterCount())
	}

	rl.cleanup(time.Now().Add(30 * time.Minute))
	if rl.LimiterCount() != 1 {
		t.Errorf("entry within TTL should be kept")
	}

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.LimiterCount() != 0 {
		t.Errorf("LimiterCount = %d, want 0 after cleanup", rl.LimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimiterConfigPerMinute(t *testing.T) {
	cfg := RateLimiterConfigPerMinute(60)
	if cfg.Rate != 1 {
		t.Errorf("Rate = %v, want 1", cfg.Rate)
	}
	if cfg.Burst != 60 {
		t.Errorf("Burst = %d, want 60", cfg.Burst)
	}

	def := DefaultRateLimiterConfig()
	if def.Rate != 2 || def.Burst != 120 {
		t.Errorf("DefaultRateLimiterConfig = %+v", def)
	}

	if got := RateLimiterConfigPerMinute(0); got.Burst != 120 {
		t.Errorf("non-positive input should fall back to 120, got %d", got.Burst)
	}
}

