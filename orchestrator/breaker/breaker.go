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

// Package breaker protects upstream inference providers from a deployment
// that has started failing every request: once a deployment trips past its
// error threshold, the breaker opens and fails calls locally for a cooldown
// window instead of piling more load onto a provider that is already down.
package breaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Allow when a deployment's breaker is open.
var ErrOpen = errors.New("breaker: circuit open for this deployment")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

// Config tunes a Registry's trip/recovery behavior.
type Config struct {
	// ErrorThreshold is the number of consecutive upstream failures that
	// trips the breaker for a deployment.
	ErrorThreshold int
	// CooldownPeriod is how long the breaker stays open before allowing a
	// single half-open probe request through.
	CooldownPeriod time.Duration
}

// DefaultConfig trips after 5 consecutive failures and probes again after
// 30 seconds.
func DefaultConfig() Config {
	return Config{ErrorThreshold: 5, CooldownPeriod: 30 * time.Second}
}

type breakerState struct {
	mu          sync.Mutex
	failures    int
	state       state
	openedAt    time.Time
	halfOpenBusy bool
}

// Registry tracks one breaker per deployment ID, so a failing deployment
// can't starve requests routed to healthy ones.
type Registry struct {
	cfg      Config
	mu       sync.Mutex
	breakers map[string]*breakerState
}

// New builds a Registry. A zero Config falls back to DefaultConfig.
func New(cfg Config) *Registry {
	if cfg.ErrorThreshold <= 0 {
		cfg.ErrorThreshold = DefaultConfig().ErrorThreshold
	}
	if cfg.CooldownPeriod <= 0 {
		cfg.CooldownPeriod = DefaultConfig().CooldownPeriod
	}
	return &Registry{cfg: cfg, breakers: make(map[string]*breakerState)}
}

func (r *Registry) breakerFor(deploymentID string) *breakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[deploymentID]
	if !ok {
		b = &breakerState{}
		r.breakers[deploymentID] = b
	}
	return b
}

// Allow reports whether a call to deploymentID may proceed. While open it
// returns ErrOpen until the cooldown elapses, at which point it admits
// exactly one half-open probe and blocks further callers until that probe
// reports back through RecordSuccess or RecordFailure.
func (r *Registry) Allow(deploymentID string) error {
	b := r.breakerFor(deploymentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return nil
	case stateOpen:
		if time.Since(b.openedAt) < r.cfg.CooldownPeriod {
			return ErrOpen
		}
		if b.halfOpenBusy {
			return ErrOpen
		}
		b.state = stateHalfOpen
		b.halfOpenBusy = true
		return nil
	case stateHalfOpen:
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (r *Registry) RecordSuccess(deploymentID string) {
	b := r.breakerFor(deploymentID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
	b.halfOpenBusy = false
}

// RecordFailure counts a failed upstream call and trips the breaker once
// ErrorThreshold consecutive failures accumulate, or immediately re-opens
// it if the failure was the half-open probe itself.
func (r *Registry) RecordFailure(deploymentID string) {
	b := r.breakerFor(deploymentID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		b.halfOpenBusy = false
		return
	}

	b.failures++
	b.halfOpenBusy = false
	if b.failures >= r.cfg.ErrorThreshold {
		b.state = stateOpen
		b.openedAt = time.Now()
	}
}

// Snapshot reports the current state of a deployment's breaker, for the
// readiness/diagnostics surface.
type Snapshot struct {
	DeploymentID string
	Open         bool
	Failures     int
}

// Status returns a point-in-time snapshot for every deployment the
// Registry has seen a call for.
func (r *Registry) Status() []Snapshot {
	r.mu.Lock()
	ids := make([]string, 0, len(r.breakers))
	bs := make([]*breakerState, 0, len(r.breakers))
	for id, b := range r.breakers {
		ids = append(ids, id)
		bs = append(bs, b)
	}
	r.mu.Unlock()

	out := make([]Snapshot, len(ids))
	for i, b := range bs {
		b.mu.Lock()
		out[i] = Snapshot{DeploymentID: ids[i], Open: b.state != stateClosed, Failures: b.failures}
		b.mu.Unlock()
	}
	return out
}
