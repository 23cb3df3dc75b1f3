// Package ratelimit implements the identifier-level login limiter as a
// sliding window over Redis sorted sets. Every auth instance shares the same
// counters, unlike the per-process edge throttle in pkg/httpx.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Scope partitions the limiter keyspace. Each scope has its own rule.
type Scope string

const (
	// ScopeIP limits attempts per client IP, across all identifiers.
	ScopeIP Scope = "ip"

	// ScopeIdentifier limits attempts per presented username or email.
	ScopeIdentifier Scope = "identifier"

	// ScopeAccount limits failed attempts per resolved account id over a
	// longer horizon. Cleared on successful login.
	ScopeAccount Scope = "account"
)

// Rule is a sliding-window limit: at most Limit attempts per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules mirror the product's lockout policy.
var DefaultRules = map[Scope]Rule{
	ScopeIP:         {Limit: 20, Window: 15 * time.Minute},
	ScopeIdentifier: {Limit: 5, Window: 15 * time.Minute},
	ScopeAccount:    {Limit: 10, Window: time.Hour},
}

// Decision is the outcome of a limit check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // how long until the next attempt may pass; zero when allowed
}

// Limiter is a Redis-backed sliding window limiter. It fails open: when
// Redis is unreachable, logins proceed rather than locking everyone out.
type Limiter struct {
	rdb   *redis.Client
	rules map[Scope]Rule
	log   *slog.Logger
}

// New creates a Limiter with the default rules.
func New(rdb *redis.Client, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{
		rdb:   rdb,
		rules: DefaultRules,
		log:   log,
	}
}

// WithRule overrides the rule for one scope.
func (l *Limiter) WithRule(scope Scope, rule Rule) *Limiter {
	rules := make(map[Scope]Rule, len(l.rules))
	for k, v := range l.rules {
		rules[k] = v
	}
	rules[scope] = rule
	l.rules = rules
	return l
}

func (l *Limiter) key(scope Scope, key string) string {
	return fmt.Sprintf("ratelimit:%s:%s", scope, key)
}

// Enabled reports whether the limiter has a Redis backend. A nil client
// turns the limiter into a no-op, for dev setups without Redis.
func (l *Limiter) Enabled() bool { return l.rdb != nil }

// Check reports whether another attempt is allowed for the key under the
// scope's rule. It does not record anything; call Record for that.
func (l *Limiter) Check(ctx context.Context, scope Scope, key string) Decision {
	rule, ok := l.rules[scope]
	if !ok || key == "" || !l.Enabled() {
		return Decision{Allowed: true}
	}

	now := time.Now().UTC()
	zkey := l.key(scope, key)
	windowStart := now.Add(-rule.Window)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, zkey, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	card := pipe.ZCard(ctx, zkey)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open: a Redis outage must not lock every user out.
		l.log.Warn("rate limiter unavailable, allowing attempt", "scope", scope, "err", err)
		return Decision{Allowed: true}
	}

	if card.Val() < int64(rule.Limit) {
		return Decision{Allowed: true}
	}

	return Decision{Allowed: false, RetryAfter: l.retryAfter(ctx, zkey, rule, now)}
}

// retryAfter computes when the oldest attempt in the window falls out.
func (l *Limiter) retryAfter(ctx context.Context, zkey string, rule Rule, now time.Time) time.Duration {
	oldest, err := l.rdb.ZRangeWithScores(ctx, zkey, 0, 0).Result()
	if err != nil || len(oldest) == 0 {
		return rule.Window
	}

	oldestAt := time.UnixMilli(int64(oldest[0].Score))
	retry := oldestAt.Add(rule.Window).Sub(now)
	if retry < time.Second {
		retry = time.Second
	}
	return retry
}

// Record adds an attempt for the key under the scope. Errors are logged and
// swallowed; a missed record only makes the limiter slightly more lenient.
func (l *Limiter) Record(ctx context.Context, scope Scope, key string) {
	rule, ok := l.rules[scope]
	if !ok || key == "" || !l.Enabled() {
		return
	}

	now := time.Now().UTC()
	zkey := l.key(scope, key)

	pipe := l.rdb.Pipeline()
	pipe.ZAdd(ctx, zkey, &redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: uuid.NewString(),
	})
	// Idle keys expire on their own once the window has passed.
	pipe.Expire(ctx, zkey, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("rate limiter record failed", "scope", scope, "err", err)
	}
}

// Clear drops all recorded attempts for the key under the scope. Called for
// the account scope after a successful login.
func (l *Limiter) Clear(ctx context.Context, scope Scope, key string) {
	if key == "" || !l.Enabled() {
		return
	}
	if err := l.rdb.Del(ctx, l.key(scope, key)).Err(); err != nil {
		l.log.Warn("rate limiter clear failed", "scope", scope, "err", err)
	}
}
