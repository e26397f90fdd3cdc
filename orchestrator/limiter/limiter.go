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

// Package limiter bounds upstream concurrency with an optional global cap
// and an optional per-deployment cap, each enforced with a timeout so a
// caller waiting for a slot gets a 429 instead of hanging indefinitely.
package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrSlotTimeout is returned when a slot could not be acquired before the
// configured acquire timeout elapsed.
type ErrSlotTimeout struct {
	DeploymentKey string
}

func (e *ErrSlotTimeout) Error() string {
	return "server is handling too many concurrent requests, please retry"
}

// RetryAfterSeconds is the value callers should put in a Retry-After header
// when ErrSlotTimeout is returned.
const RetryAfterSeconds = 1

// Config controls the two tiers of the limiter. A zero value for either
// limit disables that tier.
type Config struct {
	GlobalMaxInFlight       int64
	PerDeploymentMaxInFlight int64
	AcquireTimeout          time.Duration
}

// Limiter applies an optional global in-flight cap and an optional
// per-deployment in-flight cap to upstream calls.
//
// Mirrors the two-tier asyncio.Semaphore design: acquire global first, then
// deployment, release in reverse order.
type Limiter struct {
	global *semaphore.Weighted

	perDeploymentLimit int64
	acquireTimeout     time.Duration

	mu          sync.Mutex
	deployments map[string]*semaphore.Weighted
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{
		perDeploymentLimit: cfg.PerDeploymentMaxInFlight,
		acquireTimeout:     cfg.AcquireTimeout,
		deployments:        make(map[string]*semaphore.Weighted),
	}
	if cfg.GlobalMaxInFlight > 0 {
		l.global = semaphore.NewWeighted(cfg.GlobalMaxInFlight)
	}
	if l.acquireTimeout <= 0 {
		l.acquireTimeout = time.Second
	}
	return l
}

func (l *Limiter) deploymentSemaphore(key string) *semaphore.Weighted {
	if l.perDeploymentLimit <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.deployments[key]
	if !ok {
		sem = semaphore.NewWeighted(l.perDeploymentLimit)
		l.deployments[key] = sem
	}
	return sem
}

func (l *Limiter) acquireOrTimeout(ctx context.Context, sem *semaphore.Weighted, deploymentKey string) error {
	acquireCtx, cancel := context.WithTimeout(ctx, l.acquireTimeout)
	defer cancel()
	if err := sem.Acquire(acquireCtx, 1); err != nil {
		return &ErrSlotTimeout{DeploymentKey: deploymentKey}
	}
	return nil
}

// Release is returned by Acquire; calling it releases every slot this call
// acquired, in the reverse order they were taken.
type Release func()

// Acquire reserves one global slot (if configured) and one per-deployment
// slot (if configured) for deploymentKey, blocking up to the configured
// acquire timeout. The returned Release must be called exactly once,
// typically via defer, once the caller is done with the upstream call.
func (l *Limiter) Acquire(ctx context.Context, deploymentKey string) (Release, error) {
	var acquiredGlobal bool
	var deploymentSem *semaphore.Weighted
	var acquiredDeployment bool

	release := func() {
		if acquiredDeployment && deploymentSem != nil {
			deploymentSem.Release(1)
		}
		if acquiredGlobal && l.global != nil {
			l.global.Release(1)
		}
	}

	if l.global != nil {
		if err := l.acquireOrTimeout(ctx, l.global, deploymentKey); err != nil {
			return func() {}, err
		}
		acquiredGlobal = true
	}

	deploymentSem = l.deploymentSemaphore(deploymentKey)
	if deploymentSem != nil {
		if err := l.acquireOrTimeout(ctx, deploymentSem, deploymentKey); err != nil {
			release()
			return func() {}, err
		}
		acquiredDeployment = true
	}

	return release, nil
}
