// Package ratelimit meters API routes with token buckets kept in Redis, so
// every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "assetflow:ratelimit"

// Policy sizes one bucket: Capacity requests, refilled evenly over Window.
type Policy struct {
	Capacity int
	Window   time.Duration
}

func (p Policy) validate() error {
	if p.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if p.Window <= 0 {
		return errors.New("window must be positive")
	}
	return nil
}

type Decision struct {
	Allowed    bool
	Limit      int64
	Remaining  int64
	RetryAfter time.Duration
}

type Option func(*RedisTokenBucket)

func WithKeyPrefix(prefix string) Option {
	return func(l *RedisTokenBucket) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			l.keyPrefix = prefix
		}
	}
}

// WithRoutePolicy overrides the default policy for one route. Invalid
// policies are reported by NewRedisTokenBucket.
func WithRoutePolicy(route string, p Policy) Option {
	return func(l *RedisTokenBucket) {
		l.routes[routeKey(route)] = p
	}
}

// RedisTokenBucket keeps one bucket per (route, subject) pair.
type RedisTokenBucket struct {
	client    redis.UniversalClient
	fallback  Policy
	routes    map[string]Policy
	keyPrefix string
	now       func() time.Time
}

func NewRedisTokenBucket(client redis.UniversalClient, fallback Policy, opts ...Option) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := fallback.validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	l := &RedisTokenBucket{
		client:    client,
		fallback:  fallback,
		routes:    make(map[string]Policy),
		keyPrefix: DefaultKeyPrefix,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	for route, p := range l.routes {
		if err := p.validate(); err != nil {
			return nil, fmt.Errorf("policy for %s: %w", route, err)
		}
	}
	return l, nil
}

// Allow takes one token from the bucket of subject on route.
func (l *RedisTokenBucket) Allow(ctx context.Context, route, subject string) (Decision, error) {
	p := l.policyFor(route)
	values, err := takeToken.Run(
		ctx,
		l.client,
		[]string{l.key(route, subject)},
		p.Capacity,
		p.Window.Milliseconds(),
		l.now().UnixMilli(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("take token: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("take token: unexpected reply of %d values", len(values))
	}

	return Decision{
		Allowed:    values[0] == 1,
		Limit:      int64(p.Capacity),
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}

func (l *RedisTokenBucket) policyFor(route string) Policy {
	if p, ok := l.routes[routeKey(route)]; ok {
		return p
	}
	return l.fallback
}

func (l *RedisTokenBucket) key(route, subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return l.keyPrefix + ":" + routeKey(route) + ":" + subject
}

// routeKey turns "/v1/assets" into "v1/assets"; an empty route becomes "all".
func routeKey(route string) string {
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return "all"
	}
	return route
}

// takeToken refills the bucket for the elapsed time, then spends one token.
// KEYS[1] bucket hash; ARGV capacity, window_ms, now_ms.
// Replies {allowed, remaining, retry_after_ms}.
var takeToken = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local window_ms = math.max(1, tonumber(ARGV[2]))
local now_ms = tonumber(ARGV[3])
local rate = capacity / window_ms

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now_ms

tokens = math.min(capacity, tokens + math.max(0, now_ms - at) * rate)

local allowed = 0
local wait_ms = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait_ms = math.ceil((1 - tokens) / rate)
end

redis.call("HSET", KEYS[1], "tokens", tostring(tokens), "at", now_ms)
redis.call("PEXPIRE", KEYS[1], 2 * window_ms)

return {allowed, math.floor(tokens), wait_ms}
`)
