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

package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func TestLocalLimiterAllowsUpToBurstThenBlocks(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := l.Allow(ctx, "dep-1", 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should have been allowed", i)
		}
	}

	allowed, retryAfter, err := l.Allow(ctx, "dep-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("fourth request should have been blocked")
	}
	if retryAfter <= 0 {
		t.Fatal("expected a positive retry-after duration")
	}
}

func TestLocalLimiterZeroRPMAlwaysAllows(t *testing.T) {
	l := NewLocalLimiter()
	for i := 0; i < 50; i++ {
		allowed, _, err := l.Allow(context.Background(), "dep-unlimited", 0)
		if err != nil || !allowed {
			t.Fatalf("unlimited key should always be allowed, got allowed=%v err=%v", allowed, err)
		}
	}
}

func TestLocalLimiterKeysAreIndependent(t *testing.T) {
	l := NewLocalLimiter()
	ctx := context.Background()

	allowed, _, _ := l.Allow(ctx, "dep-a", 1)
	if !allowed {
		t.Fatal("first request for dep-a should be allowed")
	}
	allowed, _, _ = l.Allow(ctx, "dep-a", 1)
	if allowed {
		t.Fatal("second request for dep-a should be blocked")
	}

	allowed, _, _ = l.Allow(ctx, "dep-b", 1)
	if !allowed {
		t.Fatal("dep-b should be unaffected by dep-a's budget")
	}
}

func newMiniredisClient(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, mr.Close
}

func TestRedisLimiterSharesCountAcrossInstances(t *testing.T) {
	client, closeFn := newMiniredisClient(t)
	defer closeFn()

	limiterA := NewRedisLimiter(client, NewLocalLimiter())
	limiterB := NewRedisLimiter(client, NewLocalLimiter())
	ctx := context.Background()

	allowed, _, err := limiterA.Allow(ctx, "dep-1", 2)
	if err != nil || !allowed {
		t.Fatalf("first request should be allowed: allowed=%v err=%v", allowed, err)
	}
	allowed, _, err = limiterB.Allow(ctx, "dep-1", 2)
	if err != nil || !allowed {
		t.Fatalf("second request (different instance, same key) should be allowed: allowed=%v err=%v", allowed, err)
	}
	allowed, retryAfter, err := limiterA.Allow(ctx, "dep-1", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("third request should be blocked across shared Redis count")
	}
	if retryAfter <= 0 {
		t.Fatal("expected positive retry-after on block")
	}
}

func TestRedisLimiterFallsBackWhenRedisUnreachable(t *testing.T) {
	client, closeFn := newMiniredisClient(t)
	closeFn() // close immediately so subsequent calls fail

	limiter := NewRedisLimiter(client, NewLocalLimiter())
	allowed, _, err := limiter.Allow(context.Background(), "dep-1", 5)
	if err != nil {
		t.Fatalf("fallback path should not surface an error: %v", err)
	}
	if !allowed {
		t.Fatal("fallback limiter should allow the first request")
	}
}
