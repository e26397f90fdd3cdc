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

	"inferia/core/shared/types"
)

// PlacementRequirement is the candidate query a scheduling pass runs:
// (pool, gpu_req, vcpu_req, ram_req).
type PlacementRequirement struct {
	PoolID   string
	GPUReq   int
	VCPUReq  int
	RAMGBReq int
}

// Inventory is the Compute Inventory's persistence boundary.
type Inventory interface {
	// FindCandidates returns ready nodes in req.PoolID with enough
	// unallocated capacity to satisfy req. An empty result is not an
	// error; it means the worker must provision.
	FindCandidates(ctx context.Context, req PlacementRequirement) ([]*types.InventoryNode, error)
	RegisterNode(ctx context.Context, node *types.InventoryNode) error
	// GetNode returns a node by its platform-assigned ID (the value stored
	// in Deployment.NodeIDs), not the provider's own instance ID.
	GetNode(ctx context.Context, nodeID string) (*types.InventoryNode, error)
	MarkTerminated(ctx context.Context, nodeID string) error
	RecycleNode(ctx context.Context, nodeID, deploymentID string) error
	// UpsertHeartbeat records a heartbeat and returns the node it
	// belongs to (for a node not provisioned through RegisterNode yet,
	// a node built from the heartbeat).
	UpsertHeartbeat(ctx context.Context, hb types.Heartbeat) (*types.InventoryNode, error)
	// DeploymentForNode returns the deployment ID that currently owns a
	// node, or "" if none does.
	DeploymentForNode(ctx context.Context, nodeID string) (string, error)
}

// scoreNode picks the best candidate: most free GPU
// capacity first (maximizes future packing headroom), tie-broken
// deterministically by node ID so repeated calls against the same
// candidate set always agree.
func scoreNode(candidates []*types.InventoryNode) *types.InventoryNode {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, n := range candidates[1:] {
		freeBest := best.GPUTotal - best.GPUAllocated
		freeN := n.GPUTotal - n.GPUAllocated
		if freeN > freeBest || (freeN == freeBest && n.ID < best.ID) {
			best = n
		}
	}
	return best
}
