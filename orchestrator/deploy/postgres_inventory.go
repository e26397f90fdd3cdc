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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"inferia/core/shared/types"
)

// PostgresInventory is the relational Inventory, grounded on
// PostgresStore's shape: database/sql with $N placeholders, no ORM.
type PostgresInventory struct {
	db *sql.DB
}

// NewPostgresInventory builds an inventory store around an open pool.
func NewPostgresInventory(db *sql.DB) *PostgresInventory {
	return &PostgresInventory{db: db}
}

func (s *PostgresInventory) FindCandidates(ctx context.Context, req PlacementRequirement) ([]*types.InventoryNode, error) {
	const query = `
		SELECT id, pool_id, provider, provider_instance_id, provider_resource_id, hostname,
			gpu_total, gpu_allocated, vcpu_total, vcpu_allocated, ram_gb_total, ram_gb_allocated,
			state, node_class, COALESCE(expose_url,''), created_at
		FROM inventory_nodes
		WHERE pool_id = $1 AND state = 'ready'
			AND (gpu_total - gpu_allocated) >= $2
			AND (vcpu_total - vcpu_allocated) >= $3
			AND (ram_gb_total - ram_gb_allocated) >= $4
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query, req.PoolID, req.GPUReq, req.VCPUReq, req.RAMGBReq)
	if err != nil {
		return nil, fmt.Errorf("failed to query placement candidates: %w", err)
	}
	defer rows.Close()

	var out []*types.InventoryNode
	for rows.Next() {
		n, err := scanInventoryNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresInventory) RegisterNode(ctx context.Context, node *types.InventoryNode) error {
	metadataJSON, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal node metadata: %w", err)
	}
	const query = `
		INSERT INTO inventory_nodes (
			id, pool_id, provider, provider_instance_id, provider_resource_id, hostname,
			gpu_total, gpu_allocated, vcpu_total, vcpu_allocated, ram_gb_total, ram_gb_allocated,
			state, node_class, expose_url, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`
	_, err = s.db.ExecContext(ctx, query,
		node.ID, node.PoolID, node.Provider, node.ProviderInstanceID, node.ProviderResourceID, node.Hostname,
		node.GPUTotal, node.GPUAllocated, node.VCPUTotal, node.VCPUAllocated, node.RAMGBTotal, node.RAMGBAllocated,
		string(node.State), string(node.NodeClass), node.ExposeURL, metadataJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

func (s *PostgresInventory) GetNode(ctx context.Context, nodeID string) (*types.InventoryNode, error) {
	const query = `
		SELECT id, pool_id, provider, provider_instance_id, provider_resource_id, hostname,
			gpu_total, gpu_allocated, vcpu_total, vcpu_allocated, ram_gb_total, ram_gb_allocated,
			state, node_class, COALESCE(expose_url,''), created_at
		FROM inventory_nodes WHERE id = $1
	`
	return scanInventoryNode(s.db.QueryRowContext(ctx, query, nodeID))
}

func (s *PostgresInventory) MarkTerminated(ctx context.Context, nodeID string) error {
	const query = `UPDATE inventory_nodes SET state = 'terminated' WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, nodeID)
	return err
}

// RecycleNode returns a non-ephemeral node's capacity to the pool rather
// than terminating it: fixed-class nodes are reusable across
// deployments.
func (s *PostgresInventory) RecycleNode(ctx context.Context, nodeID, deploymentID string) error {
	const query = `
		UPDATE inventory_nodes SET state = 'ready', gpu_allocated = 0, vcpu_allocated = 0, ram_gb_allocated = 0
		WHERE id = $1
	`
	_, err := s.db.ExecContext(ctx, query, nodeID)
	return err
}

// UpsertHeartbeat matches the reporting node by (provider,
// provider_instance_id) since a heartbeat carries no inventory row ID.
// Only an existing row is updated: for a node with no row yet it returns
// a node built from the heartbeat and inserts nothing.
func (s *PostgresInventory) UpsertHeartbeat(ctx context.Context, hb types.Heartbeat) (*types.InventoryNode, error) {
	const selectQuery = `
		SELECT id, pool_id, provider, provider_instance_id, provider_resource_id, hostname,
			gpu_total, gpu_allocated, vcpu_total, vcpu_allocated, ram_gb_total, ram_gb_allocated,
			state, node_class, COALESCE(expose_url,''), created_at
		FROM inventory_nodes WHERE provider = $1 AND provider_instance_id = $2
	`
	node, err := scanInventoryNode(s.db.QueryRowContext(ctx, selectQuery, hb.Provider, hb.ProviderInstanceID))
	if err != nil {
		return nil, fmt.Errorf("failed to look up heartbeat node: %w", err)
	}
	if node == nil {
		node = &types.InventoryNode{
			ID:                 hb.Provider + ":" + hb.ProviderInstanceID,
			Provider:           hb.Provider,
			ProviderInstanceID: hb.ProviderInstanceID,
			State:              types.NodeState(hb.State),
			NodeClass:          types.NodeClassDynamic,
		}
	}

	const updateQuery = `
		UPDATE inventory_nodes SET gpu_allocated = $3, vcpu_allocated = $4, ram_gb_allocated = $5,
			state = $6, expose_url = COALESCE(NULLIF($7, ''), expose_url), last_heartbeat = now()
		WHERE provider = $1 AND provider_instance_id = $2
	`
	if _, err := s.db.ExecContext(ctx, updateQuery, hb.Provider, hb.ProviderInstanceID,
		hb.GPUAllocated, hb.VCPUAllocated, hb.RAMGBAllocated, hb.State, hb.ExposeURL); err != nil {
		return nil, fmt.Errorf("failed to upsert heartbeat: %w", err)
	}

	node.GPUAllocated = hb.GPUAllocated
	node.VCPUAllocated = hb.VCPUAllocated
	node.RAMGBAllocated = hb.RAMGBAllocated
	node.State = types.NodeState(hb.State)
	if hb.ExposeURL != "" {
		node.ExposeURL = hb.ExposeURL
	}
	return node, nil
}

func (s *PostgresInventory) DeploymentForNode(ctx context.Context, nodeID string) (string, error) {
	const query = `SELECT id FROM deployments WHERE $1 = ANY(node_ids) LIMIT 1`
	var id string
	err := s.db.QueryRowContext(ctx, query, nodeID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find deployment for node %s: %w", nodeID, err)
	}
	return id, nil
}

func scanInventoryNode(row rowScanner) (*types.InventoryNode, error) {
	var n types.InventoryNode
	var state, nodeClass string
	var providerResourceID sql.NullString

	err := row.Scan(
		&n.ID, &n.PoolID, &n.Provider, &n.ProviderInstanceID, &providerResourceID, &n.Hostname,
		&n.GPUTotal, &n.GPUAllocated, &n.VCPUTotal, &n.VCPUAllocated, &n.RAMGBTotal, &n.RAMGBAllocated,
		&state, &nodeClass, &n.ExposeURL, &n.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan inventory node: %w", err)
	}
	n.State = types.NodeState(state)
	n.NodeClass = types.NodeClass(nodeClass)
	if providerResourceID.Valid {
		n.ProviderResourceID = &providerResourceID.String
	}
	return &n, nil
}
