// Copyright 2025 Inferia
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ratelimit enforces the per-deployment requests-per-minute cap
// carried on a Resolved Context's RateLimitCfg. An in-process token bucket
// backs single-instance deployments; a Redis-backed fixed-window counter
// keeps the limit correct when the gateway runs as more than one process.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Limiter enforces a requests-per-minute budget for a rate limit key,
// usually a deployment ID.
type Limiter interface {
	// Allow reports whether one request against key may proceed now. When
	// it returns false, retryAfter is how long the caller should wait
	// before trying again.
	Allow(ctx context.Context, key string, rpm int) (allowed bool, retryAfter time.Duration, err error)
}

// bucket is a single token bucket, refilled continuously at rpm/60 tokens
// per second, capacity equal to rpm.
type bucket struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now
}

// LocalLimiter is an in-process, per-key token bucket. It is the default
// limiter when no Redis client is configured, matching a single-instance
// deployment.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewLocalLimiter builds an empty in-process limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{buckets: make(map[string]*bucket)}
}

// Allow implements Limiter.
func (l *LocalLimiter) Allow(_ context.Context, key string, rpm int) (bool, time.Duration, error) {
	if rpm <= 0 {
		return true, 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rpm), maxTokens: float64(rpm), refillRate: float64(rpm) / 60.0, lastRefill: now}
		l.buckets[key] = b
	}
	b.refill(now)

	if b.tokens >= 1 {
		b.tokens--
		return true, 0, nil
	}

	deficit := 1 - b.tokens
	wait := time.Duration(deficit/b.refillRate*1000) * time.Millisecond
	if wait < time.Second {
		wait = time.Second
	}
	return false, wait, nil
}

// RedisLimiter enforces the budget with a fixed one-minute window counted
// in Redis, so every gateway process shares the same count for a key.
type RedisLimiter struct {
	client *redis.Client
	fallback Limiter
}

// NewRedisLimiter wraps client. fallback is used if a Redis call fails, so
// an outage degrades to per-process limiting instead of blocking all
// traffic.
func NewRedisLimiter(client *redis.Client, fallback Limiter) *RedisLimiter {
	if fallback == nil {
		fallback = NewLocalLimiter()
	}
	return &RedisLimiter{client: client, fallback: fallback}
}

// Allow implements Limiter using INCR+EXPIRE against a window key scoped to
// the current UTC minute.
func (l *RedisLimiter) Allow(ctx context.Context, key string, rpm int) (bool, time.Duration, error) {
	if rpm <= 0 {
		return true, 0, nil
	}

	window := time.Now().UTC().Truncate(time.Minute)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window.Unix())

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return l.fallback.Allow(ctx, key, rpm)
	}

	count := incr.Val()
	if count <= int64(rpm) {
		return true, 0, nil
	}

	retryAfter := window.Add(time.Minute).Sub(time.Now().UTC())
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return false, retryAfter, nil
}
