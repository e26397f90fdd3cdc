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

package limiter

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterDisabledAllowsUnboundedAcquire(t *testing.T) {
	l := New(Config{AcquireTimeout: 50 * time.Millisecond})

	for i := 0; i < 10; i++ {
		release, err := l.Acquire(context.Background(), "dep-1")
		if err != nil {
			t.Fatalf("unexpected error on acquire %d: %v", i, err)
		}
		release()
	}
}

func TestLimiterGlobalCapBlocksThenTimesOut(t *testing.T) {
	l := New(Config{GlobalMaxInFlight: 1, AcquireTimeout: 20 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("first acquire should succeed: %v", err)
	}
	defer release()

	_, err = l.Acquire(context.Background(), "dep-2")
	var timeoutErr *ErrSlotTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ErrSlotTimeout, got %v", err)
	}
}

func TestLimiterPerDeploymentCapIsIndependentOfOtherKeys(t *testing.T) {
	l := New(Config{PerDeploymentMaxInFlight: 1, AcquireTimeout: 20 * time.Millisecond})

	releaseA, err := l.Acquire(context.Background(), "dep-a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer releaseA()

	releaseB, err := l.Acquire(context.Background(), "dep-b")
	if err != nil {
		t.Fatalf("a different deployment key should not be blocked: %v", err)
	}
	releaseB()

	_, err = l.Acquire(context.Background(), "dep-a")
	var timeoutErr *ErrSlotTimeout
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected ErrSlotTimeout for same deployment key, got %v", err)
	}
}

func TestLimiterReleaseFreesSlotForNextWaiter(t *testing.T) {
	l := New(Config{GlobalMaxInFlight: 1, AcquireTimeout: 200 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "dep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), "dep-2")
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("waiter should have acquired once released: %v", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("waiter never completed")
	}
}
