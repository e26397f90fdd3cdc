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

package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"inferia/core/shared/types"
)

// DeployModel writes the deployment row and then an outbox event as two
// separate calls; they are not wrapped in one transaction, so a failed
// outbox write leaves the row without its event. It then publishes model.deploy.requested unless the
// workload is external, in which case the deployment is RUNNING from the
// start: external workloads have no compute lifecycle of their own.
func (c *Controller) DeployModel(ctx context.Context, p DeployModelParams) (string, error) {
	id := uuid.NewString()
	state := types.StatePending
	if p.WorkloadType == types.WorkloadExternal {
		state = types.StateRunning
	}

	d := &types.Deployment{
		ID:             id,
		OrgID:          p.OrgID,
		OwnerID:        p.OwnerID,
		ModelName:      p.ModelName,
		InferenceModel: p.InferenceModel,
		Engine:         p.Engine,
		Endpoint:       p.Endpoint,
		Configuration:  p.Configuration,
		WorkloadType:   p.WorkloadType,
		State:          state,
		PoolID:         p.PoolID,
		Replicas:       p.Replicas,
		GPUPerReplica:  p.GPUPerReplica,
		ModelType:      p.ModelType,
		CreatedAt:      now(),
		UpdatedAt:      now(),
	}

	if err := c.store.Create(ctx, d); err != nil {
		return "", fmt.Errorf("failed to create deployment: %w", err)
	}

	if err := c.outbox.Write(ctx, id, EventDeploymentRequested, map[string]any{
		"deployment_id": id,
		"model_name":    p.ModelName,
		"workload_type": string(p.WorkloadType),
	}); err != nil {
		return "", fmt.Errorf("failed to write outbox event: %w", err)
	}

	if p.WorkloadType != types.WorkloadExternal {
		if err := c.bus.Publish(ctx, EventDeployRequested, map[string]any{"deployment_id": id}); err != nil {
			return "", fmt.Errorf("failed to publish deploy request: %w", err)
		}
	}

	return id, nil
}

// StartDeployment restarts a deployment from STOPPED/FAILED/TERMINATED.
// External workloads go straight back to RUNNING; others return to
// PENDING and are re-published for the worker to pick up.
func (c *Controller) StartDeployment(ctx context.Context, id string) error {
	d, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	if d.WorkloadType == types.WorkloadExternal {
		return c.store.UpdateStateIf(ctx, id, d.State, types.StateRunning)
	}

	if err := c.store.UpdateStateIf(ctx, id, d.State, types.StatePending); err != nil {
		return err
	}
	return c.bus.Publish(ctx, EventDeployRequested, map[string]any{"deployment_id": id})
}

// RequestDelete transitions a PENDING or RUNNING deployment to
// TERMINATING and publishes model.terminate.requested. It is a no-op if
// the deployment is already in a terminal state or already terminating,
// so concurrent callers calling delete twice don't double-publish.
func (c *Controller) RequestDelete(ctx context.Context, id string) error {
	d, err := c.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	if d.State.IsTerminal() || d.State == types.StateTerminating {
		return nil
	}

	if err := c.store.UpdateStateIf(ctx, id, d.State, types.StateTerminating); err != nil {
		if err == ErrCASFailed {
			// Another caller (or the worker) already moved it; treat as
			// the idempotent no-op this operation promises.
			return nil
		}
		return err
	}

	if err := c.outbox.Write(ctx, id, EventTerminateRequested, map[string]any{"deployment_id": id}); err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}
	return c.bus.Publish(ctx, EventTerminateRequested, map[string]any{"deployment_id": id})
}

// UpdateDeployment persists caller-supplied attribute changes (replicas,
// configuration, etc.); it never touches state, which only the worker's
// CAS transitions may change.
func (c *Controller) UpdateDeployment(ctx context.Context, d *types.Deployment) error {
	d.UpdatedAt = now()
	return c.store.Update(ctx, d)
}

// Get returns a deployment by ID.
func (c *Controller) Get(ctx context.Context, id string) (*types.Deployment, error) {
	return c.store.Get(ctx, id)
}

// List returns every deployment owned by an org.
func (c *Controller) List(ctx context.Context, orgID string) ([]*types.Deployment, error) {
	return c.store.List(ctx, orgID)
}

func now() time.Time { return time.Now().UTC() }
