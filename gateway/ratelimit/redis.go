// Copyright 2025 CoverForge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Policy selects the degraded behavior when the shared counter store is
// unreachable.
type Policy string

const (
	// PolicyFailOpen allows the request and logs a warning, avoiding an
	// availability outage caused by the rate-limit backend. Default.
	PolicyFailOpen Policy = "fail_open"

	// PolicyFailClosed denies the request while the backend is down.
	PolicyFailClosed Policy = "fail_closed"
)

// DefaultBackendTimeout bounds each shared-store round trip.
const DefaultBackendTimeout = 500 * time.Millisecond

// slidingWindowScript executes prune, count, and conditional append as one
// atomic server-side sequence, preserving the window invariant under
// concurrent callers across processes. Returns {allowed, retry_after_seconds}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

local count = redis.call('ZCARD', key)
if count >= max then
	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry = 1
	if oldest[2] then
		retry = math.ceil((tonumber(oldest[2]) + window - now) / 1000)
	end
	if retry < 1 then
		retry = 1
	end
	return {0, retry}
end

redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window * 2)
return {1, 0}
`)

// RedisStore backs the rate limiter with a shared Redis counter store for
// multi-instance deployments. Window semantics match the in-memory limiter.
type RedisStore struct {
	client  *redis.Client
	tiers   []tierDef
	policy  Policy
	timeout time.Duration
	now     func() time.Time
}

// RedisOption is a functional option for configuring a RedisStore.
type RedisOption func(*RedisStore)

// WithPolicy sets the fail-open/fail-closed degradation policy.
func WithPolicy(p Policy) RedisOption {
	return func(s *RedisStore) { s.policy = p }
}

// WithBackendTimeout bounds each round trip to the store.
func WithBackendTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.timeout = d }
}

// NewRedisStore connects to Redis and verifies the connection.
// The URL format is redis://host:port or redis://host:port/db.
func NewRedisStore(redisURL string, cfg Config, opts ...RedisOption) (*RedisStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ratelimit: failed to connect to Redis: %w", err)
	}

	s := &RedisStore{
		client:  client,
		tiers:   cfg.sortedTiers(),
		policy:  PolicyFailOpen,
		timeout: DefaultBackendTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(identifier, tier string) string {
	return fmt.Sprintf("ratelimit:%s:%s", tier, identifier)
}

// Check evaluates and, when allowed, consumes one slot in a single tier.
// Backend errors degrade to the configured policy; the returned error
// reports the failure so callers can audit the degradation.
func (s *RedisStore) Check(ctx context.Context, identifier, tier string) (Verdict, error) {
	var td tierDef
	found := false
	for _, t := range s.tiers {
		if t.name == tier {
			td, found = t, true
			break
		}
	}
	if !found {
		return Verdict{}, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}
	return s.checkTier(ctx, identifier, td)
}

// CheckAll evaluates tiers in increasing window order, short-circuiting on
// the first denial.
func (s *RedisStore) CheckAll(ctx context.Context, identifier string) (Verdict, error) {
	for _, td := range s.tiers {
		v, err := s.checkTier(ctx, identifier, td)
		if err != nil {
			return v, err
		}
		if !v.Allowed {
			return v, nil
		}
	}
	return Verdict{Allowed: true}, nil
}

func (s *RedisStore) checkTier(ctx context.Context, identifier string, td tierDef) (Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := s.now()
	res, err := slidingWindowScript.Run(ctx, s.client,
		[]string{s.key(identifier, td.name)},
		now.UnixMilli(),
		td.Window.Milliseconds(),
		td.MaxRequests,
		fmt.Sprintf("%d", now.UnixNano()),
	).Result()
	if err != nil {
		return s.degraded(td.name), fmt.Errorf("ratelimit: backend check failed for tier %q: %w", td.name, err)
	}

	vals, valsOK := res.([]interface{})
	if !valsOK || len(vals) != 2 {
		return s.degraded(td.name), fmt.Errorf("ratelimit: unexpected script result %v", res)
	}
	allowed, _ := vals[0].(int64)
	retry, _ := vals[1].(int64)

	if allowed == 1 {
		return Verdict{Allowed: true, Tier: td.name}, nil
	}
	return Verdict{
		Allowed:    false,
		Tier:       td.name,
		Message:    fmt.Sprintf("%s limit of %d requests per %s exceeded", td.name, td.MaxRequests, td.Window),
		RetryAfter: int(retry),
	}, nil
}

// degraded builds the policy-determined verdict for a backend failure.
func (s *RedisStore) degraded(tier string) Verdict {
	if s.policy == PolicyFailClosed {
		return Verdict{
			Allowed:  false,
			Tier:     tier,
			Message:  "rate-limit backend unavailable",
			Degraded: true,
		}
	}
	return Verdict{Allowed: true, Tier: tier, Degraded: true}
}

// Remaining reports free slots in a tier without consuming one.
func (s *RedisStore) Remaining(ctx context.Context, identifier, tier string) (int, error) {
	var td tierDef
	found := false
	for _, t := range s.tiers {
		if t.name == tier {
			td, found = t, true
			break
		}
	}
	if !found {
		return 0, fmt.Errorf("ratelimit: unknown tier %q", tier)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cutoff := s.now().Add(-td.Window).UnixMilli()
	count, err := s.client.ZCount(ctx, s.key(identifier, tier),
		fmt.Sprintf("(%d", cutoff), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: backend count failed: %w", err)
	}
	if remaining := td.MaxRequests - int(count); remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// Reset purges all tier keys for an identifier.
func (s *RedisStore) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	keys := make([]string, 0, len(s.tiers))
	for _, td := range s.tiers {
		keys = append(keys, s.key(identifier, td.name))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ratelimit: failed to reset %q: %w", identifier, err)
	}
	return nil
}

var _ Store = (*Limiter)(nil)
var _ Store = (*RedisStore)(nil)
