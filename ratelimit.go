package classlab

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/classlab/classlab/logger"
)

// Category keys one throttling bucket family. Each category carries its own
// window and threshold.
type Category string

const (
	CategoryAuth    Category = "auth"
	CategoryJoin    Category = "join"
	CategoryExecute Category = "execute"
	CategoryTrace   Category = "trace"
	CategoryAnalyze Category = "analyze"
	CategoryWrite   Category = "write"
	CategoryRead    Category = "read"
)

// CategoryLimit is the per-window threshold for one category.
type CategoryLimit struct {
	Limit  int
	Window time.Duration
}

func defaultCategoryLimits() map[Category]CategoryLimit {
	return map[Category]CategoryLimit{
		CategoryAuth:    {Limit: 10, Window: time.Minute},
		CategoryJoin:    {Limit: 10, Window: time.Minute},
		CategoryExecute: {Limit: 30, Window: time.Minute},
		CategoryTrace:   {Limit: 30, Window: time.Minute},
		CategoryAnalyze: {Limit: 10, Window: time.Minute},
		CategoryWrite:   {Limit: 60, Window: time.Minute},
		CategoryRead:    {Limit: 120, Window: time.Minute},
	}
}

// CounterStore is the backing window counter. Incr bumps the counter under
// key, starting a fresh window of the given length when the key is new, and
// returns the post-increment count plus the time left in the window.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// RateLimitResult is one throttling verdict.
type RateLimitResult struct {
	Limited   bool
	Remaining int
	Reset     time.Time
	// Daily marks a daily-cap breach as opposed to a per-window one; the two
	// carry different messages.
	Daily   bool
	Message string
}

// Environment selects the limiter's fail-safe policy.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTest        Environment = "test"
	EnvProduction  Environment = "production"
)

// IsCIEnvironment reports whether the process runs inside a recognized CI
// executor, where production fail-closed is relaxed for end-to-end tests.
func IsCIEnvironment() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}

// RateLimiter throttles requests per category and key. State lives entirely
// in the counter store; the limiter itself is stateless and safe for
// concurrent use.
type RateLimiter struct {
	store          CounterStore
	env            Environment
	limits         map[Category]CategoryLimit
	dailyUserCap   int // analyze category only
	dailyGlobalCap int // analyze category only
	logger         logger.Logger
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

func WithRateLimiterLogger(l logger.Logger) RateLimiterOption {
	return func(rl *RateLimiter) { rl.logger = l }
}

// WithCategoryLimit overrides the window threshold for one category.
func WithCategoryLimit(cat Category, limit CategoryLimit) RateLimiterOption {
	return func(rl *RateLimiter) { rl.limits[cat] = limit }
}

// WithAnalyzeDailyCaps sets the per-user and global daily caps applied on
// top of the analyze window check.
func WithAnalyzeDailyCaps(perUser, global int) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.dailyUserCap = perUser
		rl.dailyGlobalCap = global
	}
}

// NewRateLimiter builds a limiter over the given counter store. A nil store
// is tolerated outside production: the limiter fails open and logs a
// warning on every check. In production a nil store is a fatal
// configuration error at construction, unless the process runs in CI.
// Rate limiting never silently disables itself in a live deployment.
func NewRateLimiter(store CounterStore, env Environment, opts ...RateLimiterOption) (*RateLimiter, error) {
	rl := &RateLimiter{
		store:          store,
		env:            env,
		limits:         defaultCategoryLimits(),
		dailyUserCap:   50,
		dailyGlobalCap: 2000,
		logger:         logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(rl)
	}
	if store == nil && env == EnvProduction && !IsCIEnvironment() {
		return nil, fmt.Errorf("rate limiter: no counter store configured in production")
	}
	return rl, nil
}

// Check evaluates the category's window for key and, for the analyze
// category, the per-user and global daily caps, in that fixed order so
// error responses are deterministic.
func (rl *RateLimiter) Check(ctx context.Context, cat Category, key string) (RateLimitResult, error) {
	limit, ok := rl.limits[cat]
	if !ok {
		return RateLimitResult{}, fmt.Errorf("rate limiter: unknown category %q", cat)
	}
	if rl.store == nil {
		rl.logger.Warn("rate limiter has no counter store, failing open", "category", string(cat), "env", string(rl.env))
		return RateLimitResult{Remaining: limit.Limit, Reset: time.Now().Add(limit.Window)}, nil
	}

	res, err := rl.checkWindow(ctx, cat, key, limit)
	if err != nil || res.Limited {
		return res, err
	}
	if cat != CategoryAnalyze {
		return res, nil
	}
	daily, err := rl.checkDaily(ctx, "daily:"+string(cat)+":"+key, rl.dailyUserCap,
		"Daily analysis limit reached for this account")
	if err != nil || daily.Limited {
		return daily, err
	}
	global, err := rl.checkDaily(ctx, "daily:"+string(cat)+":global", rl.dailyGlobalCap,
		"Daily analysis limit reached, try again tomorrow")
	if err != nil || global.Limited {
		return global, err
	}
	return res, nil
}

func (rl *RateLimiter) checkWindow(ctx context.Context, cat Category, key string, limit CategoryLimit) (RateLimitResult, error) {
	count, ttl, err := rl.store.Incr(ctx, "rl:"+string(cat)+":"+key, limit.Window)
	if err != nil {
		// A broken store is loud but never blocks traffic.
		rl.logger.Error("rate limit counter failed, failing open", "category", string(cat), "key", key, "error", err.Error())
		return RateLimitResult{Remaining: limit.Limit, Reset: time.Now().Add(limit.Window)}, nil
	}
	remaining := limit.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := RateLimitResult{
		Remaining: remaining,
		Reset:     time.Now().Add(ttl),
	}
	if count > int64(limit.Limit) {
		res.Limited = true
		res.Message = fmt.Sprintf("Too many %s requests", cat)
	}
	return res, nil
}

// checkDaily counts against a calendar-day bucket that resets at UTC
// midnight.
func (rl *RateLimiter) checkDaily(ctx context.Context, keyPrefix string, capacity int, message string) (RateLimitResult, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	key := keyPrefix + ":" + now.Format("2006-01-02")
	count, _, err := rl.store.Incr(ctx, key, midnight.Sub(now))
	if err != nil {
		rl.logger.Error("daily cap counter failed, failing open", "key", key, "error", err.Error())
		return RateLimitResult{Remaining: capacity, Reset: midnight}, nil
	}
	remaining := capacity - int(count)
	if remaining < 0 {
		remaining = 0
	}
	res := RateLimitResult{
		Remaining: remaining,
		Reset:     midnight,
	}
	if count > int64(capacity) {
		res.Limited = true
		res.Daily = true
		res.Message = message
	}
	return res, nil
}

// Allow resolves the throttle key from the request, runs Check, and
// translates a breach into a RateLimitError carrying retry metadata.
func (rl *RateLimiter) Allow(ctx context.Context, cat Category, r *http.Request, userID string) error {
	res, err := rl.Check(ctx, cat, RequestKey(r, userID))
	if err != nil {
		return err
	}
	if !res.Limited {
		return nil
	}
	return &RateLimitError{
		Message:   res.Message,
		Daily:     res.Daily,
		Remaining: res.Remaining,
		Reset:     res.Reset,
	}
}

// RequestKey prefers the authenticated user id and falls back to the
// client address.
func RequestKey(r *http.Request, userID string) string {
	if userID != "" {
		return "user:" + userID
	}
	return "ip:" + clientIP(r)
}

// clientIP takes the first comma-separated entry of X-Forwarded-For
// (trimmed), then X-Real-IP, then the literal "unknown".
func clientIP(r *http.Request) string {
	if r == nil {
		return "unknown"
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	if rip := strings.TrimSpace(r.Header.Get("X-Real-IP")); rip != "" {
		return rip
	}
	return "unknown"
}
