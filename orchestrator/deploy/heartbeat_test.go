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
	"testing"
	"time"

	"inferia/core/shared/types"
)

type fakeHeartbeatInventory struct {
	*fakeInventory
	node         *types.InventoryNode
	deploymentID string
}

func (inv *fakeHeartbeatInventory) UpsertHeartbeat(ctx context.Context, hb types.Heartbeat) (*types.InventoryNode, error) {
	inv.node.State = types.NodeState(hb.State)
	inv.node.ExposeURL = hb.ExposeURL
	return inv.node, nil
}

func (inv *fakeHeartbeatInventory) DeploymentForNode(ctx context.Context, nodeID string) (string, error) {
	return inv.deploymentID, nil
}

func TestReconcileEphemeralTerminalWithinThresholdFails(t *testing.T) {
	store := newFakeStore()
	base := newFakeInventory()
	inv := &fakeHeartbeatInventory{fakeInventory: base, node: &types.InventoryNode{ID: "node-a"}, deploymentID: "dep-1"}

	now := time.Now().UTC()
	store.rows["dep-1"] = &types.Deployment{
		ID: "dep-1", State: types.StateRunning, CreatedAt: now.Add(-1 * time.Minute),
	}

	r := NewHeartbeatReconciler(store, inv, func() time.Time { return now })
	err := r.Reconcile(context.Background(), types.Heartbeat{
		Provider: "nosana", ProviderInstanceID: "inst-a", State: "terminated",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), "dep-1")
	if d.State != types.StateFailed {
		t.Fatalf("expected FAILED for an ephemeral node terminal shortly after creation, got %s", d.State)
	}
}

func TestReconcileEphemeralTerminalAfterThresholdStops(t *testing.T) {
	store := newFakeStore()
	base := newFakeInventory()
	inv := &fakeHeartbeatInventory{fakeInventory: base, node: &types.InventoryNode{ID: "node-a"}, deploymentID: "dep-1"}

	now := time.Now().UTC()
	store.rows["dep-1"] = &types.Deployment{
		ID: "dep-1", State: types.StateRunning, CreatedAt: now.Add(-1 * time.Hour),
	}

	r := NewHeartbeatReconciler(store, inv, func() time.Time { return now })
	err := r.Reconcile(context.Background(), types.Heartbeat{
		Provider: "nosana", ProviderInstanceID: "inst-a", State: "terminated",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), "dep-1")
	if d.State != types.StateStopped {
		t.Fatalf("expected STOPPED once past the ephemeral failure threshold, got %s", d.State)
	}
}

func TestReconcileNonEphemeralTerminalAlwaysStops(t *testing.T) {
	store := newFakeStore()
	base := newFakeInventory()
	inv := &fakeHeartbeatInventory{fakeInventory: base, node: &types.InventoryNode{ID: "node-a"}, deploymentID: "dep-1"}

	now := time.Now().UTC()
	store.rows["dep-1"] = &types.Deployment{
		ID: "dep-1", State: types.StateRunning, CreatedAt: now.Add(-1 * time.Minute),
	}

	r := NewHeartbeatReconciler(store, inv, func() time.Time { return now })
	err := r.Reconcile(context.Background(), types.Heartbeat{
		Provider: "on-prem", ProviderInstanceID: "inst-a", State: "unhealthy",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), "dep-1")
	if d.State != types.StateStopped {
		t.Fatalf("expected STOPPED for a non-ephemeral provider regardless of age, got %s", d.State)
	}
}

func TestReconcileNonTerminalHeartbeatLeavesStateAlone(t *testing.T) {
	store := newFakeStore()
	base := newFakeInventory()
	inv := &fakeHeartbeatInventory{fakeInventory: base, node: &types.InventoryNode{ID: "node-a"}, deploymentID: "dep-1"}

	store.rows["dep-1"] = &types.Deployment{ID: "dep-1", State: types.StateRunning}

	r := NewHeartbeatReconciler(store, inv, nil)
	err := r.Reconcile(context.Background(), types.Heartbeat{
		Provider: "nosana", ProviderInstanceID: "inst-a", State: "ready",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), "dep-1")
	if d.State != types.StateRunning {
		t.Fatalf("expected state unchanged for a healthy heartbeat, got %s", d.State)
	}
}

func TestReconcilePropagatesExposeURLChange(t *testing.T) {
	store := newFakeStore()
	base := newFakeInventory()
	inv := &fakeHeartbeatInventory{fakeInventory: base, node: &types.InventoryNode{ID: "node-a"}, deploymentID: "dep-1"}

	store.rows["dep-1"] = &types.Deployment{ID: "dep-1", State: types.StateRunning, Endpoint: "https://old.internal"}

	r := NewHeartbeatReconciler(store, inv, nil)
	err := r.Reconcile(context.Background(), types.Heartbeat{
		Provider: "nosana", ProviderInstanceID: "inst-a", State: "ready", ExposeURL: "https://new.internal",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), "dep-1")
	if d.Endpoint != "https://new.internal" {
		t.Fatalf("expected endpoint propagated from heartbeat, got %q", d.Endpoint)
	}
}
