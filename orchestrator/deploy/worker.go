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
	"log"

	"github.com/google/uuid"

	"inferia/core/orchestrator/adapter"
	"inferia/core/shared/types"
)

// ephemeralProviders are the adapters whose capability set reports
// is_ephemeral; the worker consults the resolved adapter's Capabilities
// rather than hardcoding engine names wherever that's possible, but needs
// this set to decide ephemeral-only branches before an adapter has been
// resolved (e.g. heartbeat reconciliation, which only has a provider
// string, not a live adapter).
var ephemeralProviders = map[string]bool{
	"nosana": true,
	"akash":  true,
}

// Worker drives one deployment's provisioning and termination FSM per
// event. One Worker instance may process many deployments; nothing here
// is deployment-scoped state.
type Worker struct {
	store          Store
	inventory      Inventory
	adapters       AdapterResolver
	artifacts      ArtifactStore
	internalAPIKey string
}

// NewWorker builds a Worker. internalAPIKey is injected into provisioned
// jobs' metadata so the deployed model server can authenticate back to
// the platform.
func NewWorker(store Store, inventory Inventory, adapters AdapterResolver, internalAPIKey string) *Worker {
	return &Worker{store: store, inventory: inventory, adapters: adapters, internalAPIKey: internalAPIKey}
}

// WithArtifactStore attaches an ArtifactStore that stages a JSON manifest
// of every provisioning attempt. Optional: a Worker with no ArtifactStore
// just skips the staging step.
func (w *Worker) WithArtifactStore(store ArtifactStore) *Worker {
	w.artifacts = store
	return w
}

// stageManifest is best-effort: a staging failure is logged, not
// propagated, since the manifest is an audit artifact and must never
// block a deployment from actually provisioning.
func (w *Worker) stageManifest(ctx context.Context, d *types.Deployment) {
	if w.artifacts == nil {
		return
	}
	manifest, err := manifestFor(d)
	if err != nil {
		log.Printf("[deploy] failed to build manifest for %s: %v", d.ID, err)
		return
	}
	if err := w.artifacts.PutManifest(ctx, d.ID, manifest); err != nil {
		log.Printf("[deploy] failed to stage manifest for %s: %v", d.ID, err)
	}
}

// HandleDeployRequested runs the provisioning loop for one deployment.
func (w *Worker) HandleDeployRequested(ctx context.Context, deploymentID string) error {
	d, err := w.store.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}

	if err := w.store.UpdateStateIf(ctx, deploymentID, types.StatePending, types.StateProvisioning); err != nil {
		return err
	}
	d.State = types.StateProvisioning

	a, err := w.adapters.Get(string(d.Engine), d.Endpoint)
	if err != nil {
		w.fail(ctx, deploymentID)
		return fmt.Errorf("failed to resolve adapter for engine %s: %w", d.Engine, err)
	}
	w.stageManifest(ctx, d)

	req := PlacementRequirement{
		PoolID:   d.PoolID,
		GPUReq:   d.GPUPerReplica,
		VCPUReq:  requirementOrDefault(d.Configuration, "vcpu_req", 1),
		RAMGBReq: requirementOrDefault(d.Configuration, "ram_gb_req", 1),
	}

	for attempt := 0; attempt < MaxProvisionRetries; attempt++ {
		candidates, err := w.inventory.FindCandidates(ctx, req)
		if err != nil {
			w.fail(ctx, deploymentID)
			return fmt.Errorf("failed to query placement candidates: %w", err)
		}

		if len(candidates) == 0 {
			node, err := w.provisionNewNode(ctx, d, a)
			if err != nil {
				w.fail(ctx, deploymentID)
				return err
			}
			if node == nil {
				// state moved out from under us mid-wait; the terminate
				// handler, not this loop, owns cleanup from here.
				return nil
			}

			if err := w.inventory.RegisterNode(ctx, node); err != nil {
				w.fail(ctx, deploymentID)
				return fmt.Errorf("failed to register node: %w", err)
			}
			if err := w.store.UpdateEndpoint(ctx, deploymentID, node.ExposeURL); err != nil {
				w.fail(ctx, deploymentID)
				return err
			}

			caps := a.Capabilities()
			if caps.IsEphemeral {
				if err := w.store.AttachNodeIDs(ctx, deploymentID, []string{node.ID}); err != nil {
					w.fail(ctx, deploymentID)
					return err
				}
				return w.store.UpdateStateIf(ctx, deploymentID, types.StateProvisioning, types.StateRunning)
			}
			// Non-ephemeral: loop again to re-query candidates against
			// the freshly registered node.
			continue
		}

		best := scoreNode(candidates)
		if err := w.store.UpdateStateIf(ctx, deploymentID, types.StateProvisioning, types.StateScheduling); err != nil {
			return err
		}
		if err := w.store.UpdateStateIf(ctx, deploymentID, types.StateScheduling, types.StateDeploying); err != nil {
			return err
		}

		allocationID := uuid.NewString()
		if err := w.store.AttachNodeIDs(ctx, deploymentID, []string{best.ID}); err != nil {
			w.fail(ctx, deploymentID)
			return err
		}
		if err := w.store.AttachAllocationIDs(ctx, deploymentID, []string{allocationID}); err != nil {
			w.fail(ctx, deploymentID)
			return err
		}
		if best.ExposeURL != "" {
			if err := w.store.UpdateEndpoint(ctx, deploymentID, best.ExposeURL); err != nil {
				w.fail(ctx, deploymentID)
				return err
			}
		}
		return w.store.UpdateStateIf(ctx, deploymentID, types.StateDeploying, types.StateRunning)
	}

	w.fail(ctx, deploymentID)
	return fmt.Errorf("exhausted %d provisioning retries for deployment %s", MaxProvisionRetries, deploymentID)
}

// provisionNewNode calls adapter.ProvisionNode then WaitForReady. It
// returns (nil, nil), not an error, when the deployment's state moved out
// from under the wait — the terminate handler owns cleanup in that case,
// so cleanup stays owned by one handler.
func (w *Worker) provisionNewNode(ctx context.Context, d *types.Deployment, a adapter.ProviderAdapter) (*types.InventoryNode, error) {
	metadata := map[string]any{}
	for k, v := range d.Configuration {
		metadata[k] = v
	}
	metadata["model_id"] = firstNonEmpty(d.InferenceModel, d.ModelName)
	metadata["engine"] = string(d.Engine)
	metadata["internal_api_key"] = w.internalAPIKey

	result, err := a.ProvisionNode(ctx, adapter.ProvisionParams{
		PoolID:   d.PoolID,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("provision_node failed: %w", err)
	}

	caps := a.Capabilities()
	exposeURL, err := a.WaitForReady(ctx, result.ProviderInstanceID, caps.ReadinessTimeout)
	if err != nil {
		return nil, fmt.Errorf("wait_for_ready failed: %w", err)
	}

	current, err := w.store.Get(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	if current == nil || current.State != types.StateProvisioning {
		return nil, nil
	}

	return &types.InventoryNode{
		ID:                 uuid.NewString(),
		PoolID:             d.PoolID,
		Provider:           string(d.Engine),
		ProviderInstanceID: result.ProviderInstanceID,
		ProviderResourceID: nil, // resolved later once the provider assigns a production slug/address
		Hostname:           result.Hostname,
		GPUTotal:           result.GPUTotal,
		GPUAllocated:       d.GPUPerReplica,
		VCPUTotal:          result.VCPUTotal,
		RAMGBTotal:         result.RAMGBTotal,
		State:              types.NodeReady,
		NodeClass:          nodeClassFor(caps),
		ExposeURL:          firstNonEmpty(exposeURL, result.ExposeURL),
		Metadata:           metadata,
	}, nil
}

// HandleTerminateRequested runs the termination sequence.
func (w *Worker) HandleTerminateRequested(ctx context.Context, deploymentID string) error {
	d, err := w.store.Get(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return ErrNotFound
	}
	if d.State != types.StateTerminating {
		return fmt.Errorf("deployment %s is not TERMINATING (state=%s)", deploymentID, d.State)
	}

	for _, nodeID := range d.NodeIDs {
		if err := w.deprovisionNode(ctx, d, nodeID); err != nil {
			return err
		}
	}

	return w.store.UpdateStateIf(ctx, deploymentID, types.StateTerminating, types.StateStopped)
}

func (w *Worker) deprovisionNode(ctx context.Context, d *types.Deployment, nodeID string) error {
	a, err := w.adapters.Get(string(d.Engine), d.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to resolve adapter for deprovision: %w", err)
	}

	node, err := w.inventory.GetNode(ctx, nodeID)
	if err != nil {
		return fmt.Errorf("failed to look up node %s for deprovision: %w", nodeID, err)
	}
	if node == nil {
		// Already gone; nothing left to deprovision.
		return nil
	}

	if err := a.DeprovisionNode(ctx, node.ProviderInstanceID); err != nil {
		return fmt.Errorf("deprovision_node failed for %s: %w", nodeID, err)
	}

	if a.Capabilities().IsEphemeral {
		return w.inventory.MarkTerminated(ctx, nodeID)
	}
	return w.inventory.RecycleNode(ctx, nodeID, d.ID)
}

func (w *Worker) fail(ctx context.Context, deploymentID string) {
	d, err := w.store.Get(ctx, deploymentID)
	if err != nil || d == nil {
		return
	}
	_ = w.store.UpdateStateIf(ctx, deploymentID, d.State, types.StateFailed)
}

func nodeClassFor(caps adapter.Capabilities) types.NodeClass {
	if caps.IsEphemeral {
		return types.NodeClassDynamic
	}
	return types.NodeClassFixed
}

func requirementOrDefault(configuration map[string]any, key string, def int) int {
	if configuration == nil {
		return def
	}
	if v, ok := configuration[key].(float64); ok {
		return int(v)
	}
	if v, ok := configuration[key].(int); ok {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
