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

package quota

import (
	"context"
	"testing"
	"time"
)

func TestLocalCheckerDisabledAlwaysAllows(t *testing.T) {
	c := NewLocalChecker()
	ok, err := c.CheckRequest(context.Background(), "org-1", 0)
	if err != nil || !ok {
		t.Fatalf("expected allowed, got ok=%v err=%v", ok, err)
	}
}

func TestLocalCheckerBlocksAfterLimit(t *testing.T) {
	c := NewLocalChecker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := c.CheckRequest(ctx, "org-1", 3)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := c.CheckRequest(ctx, "org-1", 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected the 4th request to be blocked")
	}
}

func TestLocalCheckerTracksPerKey(t *testing.T) {
	c := NewLocalChecker()
	ctx := context.Background()

	if ok, _ := c.CheckRequest(ctx, "org-1", 1); !ok {
		t.Fatal("org-1 first request should be allowed")
	}
	if ok, _ := c.CheckRequest(ctx, "org-2", 1); !ok {
		t.Fatal("org-2 has its own budget and should be allowed")
	}
	if ok, _ := c.CheckRequest(ctx, "org-1", 1); ok {
		t.Fatal("org-1 should now be over budget")
	}
}

func TestLocalCheckerRecordsAndReportsTokens(t *testing.T) {
	c := NewLocalChecker()
	ctx := context.Background()

	if err := c.RecordTokens(ctx, "org-1", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.RecordTokens(ctx, "org-1", 50); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	used, err := c.TokensUsedToday(ctx, "org-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 150 {
		t.Fatalf("expected 150 tokens recorded, got %d", used)
	}
}

// countingChecker wraps a Checker and counts calls, so tests can assert
// BurstCache actually absorbs repeat calls instead of passing them through.
type countingChecker struct {
	inner        Checker
	checkCalls   int
	tokensCalls  int
}

func (c *countingChecker) CheckRequest(ctx context.Context, key string, maxPerDay int64) (bool, error) {
	c.checkCalls++
	return c.inner.CheckRequest(ctx, key, maxPerDay)
}

func (c *countingChecker) TokensUsedToday(ctx context.Context, key string) (int64, error) {
	c.tokensCalls++
	return c.inner.TokensUsedToday(ctx, key)
}

func (c *countingChecker) RecordTokens(ctx context.Context, key string, n int64) error {
	return c.inner.RecordTokens(ctx, key, n)
}

func TestBurstCacheAbsorbsRepeatCheckRequestWithinTTL(t *testing.T) {
	inner := &countingChecker{inner: NewLocalChecker()}
	c := NewBurstCache(inner, 50*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := c.CheckRequest(ctx, "user-1:gpt-4", 100)
		if err != nil || !ok {
			t.Fatalf("call %d: expected allowed, got ok=%v err=%v", i, ok, err)
		}
	}
	if inner.checkCalls != 1 {
		t.Fatalf("expected the burst to collapse into a single backend call, got %d", inner.checkCalls)
	}
}

func TestBurstCacheRefreshesAfterTTLExpires(t *testing.T) {
	inner := &countingChecker{inner: NewLocalChecker()}
	c := NewBurstCache(inner, 10*time.Millisecond)
	ctx := context.Background()

	if _, err := c.CheckRequest(ctx, "user-1:gpt-4", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.CheckRequest(ctx, "user-1:gpt-4", 100); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.checkCalls != 2 {
		t.Fatalf("expected a fresh backend call once the cache entry expired, got %d", inner.checkCalls)
	}
}

func TestBurstCacheKeepsDistinctKeysIndependent(t *testing.T) {
	inner := &countingChecker{inner: NewLocalChecker()}
	c := NewBurstCache(inner, time.Second)
	ctx := context.Background()

	if _, err := c.CheckRequest(ctx, "user-1:gpt-4", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := c.CheckRequest(ctx, "user-2:gpt-4", 1)
	if err != nil || !ok {
		t.Fatalf("a different user should have its own budget, got ok=%v err=%v", ok, err)
	}
	if inner.checkCalls != 2 {
		t.Fatalf("expected each distinct key to reach the backend once, got %d", inner.checkCalls)
	}
}

func TestBurstCacheRecordTokensInvalidatesCachedTotal(t *testing.T) {
	inner := &countingChecker{inner: NewLocalChecker()}
	c := NewBurstCache(inner, time.Second)
	ctx := context.Background()

	if _, err := c.TokensUsedToday(ctx, "user-1:gpt-4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.RecordTokens(ctx, "user-1:gpt-4", 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	used, err := c.TokensUsedToday(ctx, "user-1:gpt-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 500 {
		t.Fatalf("expected RecordTokens to invalidate the cached total, got %d", used)
	}
	if inner.tokensCalls != 2 {
		t.Fatalf("expected TokensUsedToday to hit the backend both before and after the record, got %d", inner.tokensCalls)
	}
}
