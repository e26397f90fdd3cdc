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
	"time"

	"inferia/core/shared/types"
)

// terminalNodeStates are heartbeat-reported states the reconciler treats
// as "this node is gone".
var terminalNodeStates = map[string]bool{
	"terminated": true,
	"unhealthy":  true,
	"failed":     true,
}

// HeartbeatReconciler upserts inventory from node heartbeats and applies
// the resulting deployment state transitions.
type HeartbeatReconciler struct {
	store     Store
	inventory Inventory
	now       func() time.Time
}

// NewHeartbeatReconciler builds a reconciler. nowFn defaults to
// time.Now when nil; tests override it to control the ephemeral failure
// threshold deterministically.
func NewHeartbeatReconciler(store Store, inventory Inventory, nowFn func() time.Time) *HeartbeatReconciler {
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &HeartbeatReconciler{store: store, inventory: inventory, now: nowFn}
}

// Reconcile upserts the inventory row for hb and, if the node's owning
// deployment is non-terminal and the heartbeat reports a terminal state,
// applies the RUNNING -> FAILED/STOPPED mapping. If expose_url changed,
// it is propagated to the deployment.
func (r *HeartbeatReconciler) Reconcile(ctx context.Context, hb types.Heartbeat) error {
	node, err := r.inventory.UpsertHeartbeat(ctx, hb)
	if err != nil {
		return err
	}

	deploymentID, err := r.inventory.DeploymentForNode(ctx, node.ID)
	if err != nil || deploymentID == "" {
		return err
	}

	d, err := r.store.Get(ctx, deploymentID)
	if err != nil || d == nil || d.State.IsTerminal() {
		return err
	}

	if hb.ExposeURL != "" && hb.ExposeURL != d.Endpoint {
		if err := r.store.UpdateEndpoint(ctx, deploymentID, hb.ExposeURL); err != nil {
			return err
		}
	}

	if !terminalNodeStates[hb.State] {
		return nil
	}

	target := types.StateStopped
	if ephemeralProviders[hb.Provider] && r.now().Sub(d.CreatedAt) < EphemeralFailureThreshold {
		target = types.StateFailed
	}

	if err := r.store.UpdateStateIf(ctx, deploymentID, d.State, target); err != nil && err != ErrCASFailed {
		return err
	}
	return nil
}
