package classlab

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, store CounterStore, opts ...RateLimiterOption) *RateLimiter {
	t.Helper()
	rl, err := NewRateLimiter(store, EnvTest, opts...)
	if err != nil {
		t.Fatalf("new rate limiter: %v", err)
	}
	return rl
}

func TestWindowExhaustion(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, NewMemoryCounterStore(),
		WithCategoryLimit(CategoryJoin, CategoryLimit{Limit: 3, Window: time.Minute}))

	for i := 0; i < 3; i++ {
		res, err := rl.Check(ctx, CategoryJoin, "user:u1")
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Limited {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	res, err := rl.Check(ctx, CategoryJoin, "user:u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !res.Limited {
		t.Fatalf("request over the limit should be rejected")
	}
	if res.Remaining != 0 {
		t.Fatalf("remaining should be 0, got %d", res.Remaining)
	}
	if !res.Reset.After(time.Now()) {
		t.Fatalf("reset should be strictly in the future")
	}
	if res.Daily {
		t.Fatalf("window breach must not be marked daily")
	}
}

func TestWindowKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, NewMemoryCounterStore(),
		WithCategoryLimit(CategoryJoin, CategoryLimit{Limit: 1, Window: time.Minute}))

	if res, _ := rl.Check(ctx, CategoryJoin, "user:u1"); res.Limited {
		t.Fatalf("first u1 request should pass")
	}
	if res, _ := rl.Check(ctx, CategoryJoin, "user:u1"); !res.Limited {
		t.Fatalf("second u1 request should be limited")
	}
	if res, _ := rl.Check(ctx, CategoryJoin, "user:u2"); res.Limited {
		t.Fatalf("u2 must not be affected by u1's window")
	}
}

func TestAnalyzeDailyCapsCheckedInOrder(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, NewMemoryCounterStore(),
		WithCategoryLimit(CategoryAnalyze, CategoryLimit{Limit: 100, Window: time.Minute}),
		WithAnalyzeDailyCaps(2, 3))

	// Per-user cap trips first.
	for i := 0; i < 2; i++ {
		if res, _ := rl.Check(ctx, CategoryAnalyze, "user:u1"); res.Limited {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	res, _ := rl.Check(ctx, CategoryAnalyze, "user:u1")
	if !res.Limited || !res.Daily {
		t.Fatalf("expected per-user daily breach, got %+v", res)
	}
	if res.Message != "Daily analysis limit reached for this account" {
		t.Fatalf("unexpected per-user daily message: %q", res.Message)
	}

	// Another user pushes the global counter over its cap.
	if res, _ := rl.Check(ctx, CategoryAnalyze, "user:u2"); res.Limited {
		t.Fatalf("u2 first request should pass")
	}
	res, _ = rl.Check(ctx, CategoryAnalyze, "user:u2")
	if !res.Limited || !res.Daily {
		t.Fatalf("expected global daily breach, got %+v", res)
	}
	if res.Message != "Daily analysis limit reached, try again tomorrow" {
		t.Fatalf("unexpected global daily message: %q", res.Message)
	}
}

func TestDailyCapsOnlyApplyToAnalyze(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, NewMemoryCounterStore(),
		WithCategoryLimit(CategoryRead, CategoryLimit{Limit: 100, Window: time.Minute}),
		WithAnalyzeDailyCaps(1, 1))

	for i := 0; i < 5; i++ {
		res, _ := rl.Check(ctx, CategoryRead, "user:u1")
		if res.Limited {
			t.Fatalf("read category must not trip daily caps")
		}
	}
}

func TestFailOpenWithoutStoreOutsideProduction(t *testing.T) {
	rl := newTestLimiter(t, nil)
	res, err := rl.Check(context.Background(), CategoryAuth, "user:u1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if res.Limited {
		t.Fatalf("no store outside production must fail open")
	}
}

func TestFailClosedWithoutStoreInProduction(t *testing.T) {
	t.Setenv("CI", "")
	t.Setenv("GITHUB_ACTIONS", "")
	_, err := NewRateLimiter(nil, EnvProduction)
	if err == nil {
		t.Fatalf("production without a counter store must refuse to start")
	}
}

func TestCIRelaxesProductionFailClosed(t *testing.T) {
	t.Setenv("CI", "true")
	rl, err := NewRateLimiter(nil, EnvProduction)
	if err != nil {
		t.Fatalf("CI should fail open: %v", err)
	}
	res, err := rl.Check(context.Background(), CategoryAuth, "user:u1")
	if err != nil || res.Limited {
		t.Fatalf("CI limiter should permit requests, got %+v err=%v", res, err)
	}
}

func TestUnknownCategory(t *testing.T) {
	rl := newTestLimiter(t, NewMemoryCounterStore())
	if _, err := rl.Check(context.Background(), Category("bogus"), "user:u1"); err == nil {
		t.Fatalf("unknown category is a programming error")
	}
}

func TestAllowBuildsRateLimitError(t *testing.T) {
	ctx := context.Background()
	rl := newTestLimiter(t, NewMemoryCounterStore(),
		WithCategoryLimit(CategoryExecute, CategoryLimit{Limit: 1, Window: time.Minute}))

	r := httptest.NewRequest("POST", "/execute", nil)
	if err := rl.Allow(ctx, CategoryExecute, r, "u1"); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	err := rl.Allow(ctx, CategoryExecute, r, "u1")
	rle, ok := err.(*RateLimitError)
	if !ok {
		t.Fatalf("expected *RateLimitError, got %T", err)
	}
	if HTTPStatus(err) != 429 {
		t.Fatalf("expected 429, got %d", HTTPStatus(err))
	}
	if rle.RetryAfterSeconds() < 1 {
		t.Fatalf("Retry-After must never be below 1")
	}
}

func TestRequestKeyResolution(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	if got := RequestKey(r, "u1"); got != "user:u1" {
		t.Fatalf("authenticated key: got %q", got)
	}

	r.Header.Set("X-Forwarded-For", " 10.0.0.1 , 192.168.0.9")
	if got := RequestKey(r, ""); got != "ip:10.0.0.1" {
		t.Fatalf("forwarded-for key: got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Real-IP", "172.16.0.2")
	if got := RequestKey(r, ""); got != "ip:172.16.0.2" {
		t.Fatalf("real-ip key: got %q", got)
	}

	r = httptest.NewRequest("GET", "/", nil)
	r.Header.Set("X-Forwarded-For", " , ")
	r.Header.Del("X-Real-IP")
	if got := RequestKey(r, ""); got != "ip:unknown" {
		t.Fatalf("fallback key: got %q", got)
	}
}
