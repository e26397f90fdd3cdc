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

// Package deploy implements the Deployment Controller & Worker: an intent
// API that writes deployment rows and outbox events, and an event-driven
// worker that drives a deployment through its provisioning and
// termination FSM.
package deploy

import (
	"context"
	"errors"
	"time"

	"inferia/core/orchestrator/adapter"
	"inferia/core/shared/types"
)

// Event types published on the event bus and recorded in the outbox.
const (
	EventDeployRequested    = "model.deploy.requested"
	EventDeploymentRequested = "model.deployment.requested"
	EventTerminateRequested = "model.terminate.requested"
)

// MaxProvisionRetries bounds the provisioning loop.
const MaxProvisionRetries = 4

// EphemeralFailureThreshold is how long an ephemeral deployment must have
// been up before a terminal heartbeat is treated as an intended stop
// rather than an infrastructure failure.
const EphemeralFailureThreshold = 10 * time.Minute

var (
	// ErrNotFound is returned when a deployment ID doesn't resolve.
	ErrNotFound = errors.New("deployment not found")
	// ErrCASFailed is returned when a compare-and-set state transition
	// loses the race to a competing writer.
	ErrCASFailed = errors.New("deployment state changed concurrently")
)

// DeployModelParams is the Controller's deploy_model intent.
type DeployModelParams struct {
	ModelName      string
	Version        string
	PoolID         string
	Replicas       int
	GPUPerReplica  int
	WorkloadType   types.WorkloadType
	Engine         types.Engine
	Configuration  map[string]any
	Endpoint       string
	InferenceModel string
	OwnerID        string
	OrgID          string
	ModelType      string
}

// Store is the deployment row's persistence boundary: CAS state
// transitions, attribute updates, and reads. Implementations must make
// UpdateStateIf atomic (e.g. a single `UPDATE ... WHERE state = $expected`
// statement) so concurrent workers serialize correctly.
type Store interface {
	Create(ctx context.Context, d *types.Deployment) error
	Get(ctx context.Context, id string) (*types.Deployment, error)
	List(ctx context.Context, orgID string) ([]*types.Deployment, error)
	Update(ctx context.Context, d *types.Deployment) error
	// UpdateStateIf performs `state = new` only if the current state
	// equals expected, atomically. Returns ErrCASFailed when the current
	// state didn't match (another writer beat this one to it).
	UpdateStateIf(ctx context.Context, id string, expected, new types.DeploymentState) error
	UpdateEndpoint(ctx context.Context, id, endpoint string) error
	AttachNodeIDs(ctx context.Context, id string, nodeIDs []string) error
	AttachAllocationIDs(ctx context.Context, id string, allocationIDs []string) error
}

// Outbox writes a durable event announcing a deployment state change.
// Dispatch to the event bus happens out-of-band.
type Outbox interface {
	Write(ctx context.Context, aggregateID, eventType string, payload map[string]any) error
}

// Bus publishes events for the worker to consume. One topic per event
// type.
type Bus interface {
	Publish(ctx context.Context, topic string, payload map[string]any) error
}

// AdapterResolver resolves the ProviderAdapter for a deployment's engine;
// satisfied by *adapter.Registry.
type AdapterResolver interface {
	Get(engine, endpoint string) (adapter.ProviderAdapter, error)
}

// Controller implements the deployment intent API: deploy, start,
// delete, get, list.
type Controller struct {
	store  Store
	outbox Outbox
	bus    Bus
}

// NewController builds a Controller.
func NewController(store Store, outbox Outbox, bus Bus) *Controller {
	return &Controller{store: store, outbox: outbox, bus: bus}
}
