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

	"github.com/lib/pq"

	"inferia/core/shared/types"
)

// PostgresStore is the relational Store, grounded on orchestrator/llm's
// PostgresStorage: database/sql with $N placeholders, explicit upserts,
// no ORM.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore builds a store around an open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, d *types.Deployment) error {
	configJSON, err := json.Marshal(d.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	const query = `
		INSERT INTO deployments (
			id, org_id, owner_id, model_name, inference_model, engine, endpoint,
			configuration, workload_type, state, pool_id, replicas, gpu_per_replica,
			model_type, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`
	_, err = s.db.ExecContext(ctx, query,
		d.ID, d.OrgID, d.OwnerID, d.ModelName, d.InferenceModel, string(d.Engine), d.Endpoint,
		configJSON, string(d.WorkloadType), string(d.State), d.PoolID, d.Replicas, d.GPUPerReplica,
		d.ModelType, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert deployment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*types.Deployment, error) {
	const query = `
		SELECT id, org_id, owner_id, model_name, COALESCE(inference_model,''), engine,
			COALESCE(endpoint,''), configuration, workload_type, state, pool_id, replicas,
			gpu_per_replica, COALESCE(model_type,''), node_ids, allocation_ids, created_at, updated_at
		FROM deployments WHERE id = $1
	`
	return scanDeployment(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) List(ctx context.Context, orgID string) ([]*types.Deployment, error) {
	const query = `
		SELECT id, org_id, owner_id, model_name, COALESCE(inference_model,''), engine,
			COALESCE(endpoint,''), configuration, workload_type, state, pool_id, replicas,
			gpu_per_replica, COALESCE(model_type,''), node_ids, allocation_ids, created_at, updated_at
		FROM deployments WHERE org_id = $1 ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var out []*types.Deployment
	for rows.Next() {
		d, err := scanDeploymentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, d *types.Deployment) error {
	configJSON, err := json.Marshal(d.Configuration)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	const query = `
		UPDATE deployments SET model_name=$2, inference_model=$3, engine=$4, endpoint=$5,
			configuration=$6, replicas=$7, gpu_per_replica=$8, model_type=$9, updated_at=$10
		WHERE id = $1
	`
	_, err = s.db.ExecContext(ctx, query, d.ID, d.ModelName, d.InferenceModel, string(d.Engine),
		d.Endpoint, configJSON, d.Replicas, d.GPUPerReplica, d.ModelType, d.UpdatedAt)
	return err
}

// UpdateStateIf performs a compare-and-swap state transition: the
// WHERE clause only matches a row still in the expected state, so
// concurrent workers racing on the same deployment serialize through
// Postgres's row lock rather than through application-level locking.
func (s *PostgresStore) UpdateStateIf(ctx context.Context, id string, expected, newState types.DeploymentState) error {
	const query = `UPDATE deployments SET state = $3, updated_at = now() WHERE id = $1 AND state = $2`
	res, err := s.db.ExecContext(ctx, query, id, string(expected), string(newState))
	if err != nil {
		return fmt.Errorf("failed to update deployment state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCASFailed
	}
	return nil
}

func (s *PostgresStore) UpdateEndpoint(ctx context.Context, id, endpoint string) error {
	const query = `UPDATE deployments SET endpoint = $2, updated_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, endpoint)
	return err
}

func (s *PostgresStore) AttachNodeIDs(ctx context.Context, id string, nodeIDs []string) error {
	const query = `UPDATE deployments SET node_ids = array_cat(node_ids, $2::text[]), updated_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, pq.Array(nodeIDs))
	return err
}

func (s *PostgresStore) AttachAllocationIDs(ctx context.Context, id string, allocationIDs []string) error {
	const query = `UPDATE deployments SET allocation_ids = array_cat(allocation_ids, $2::text[]), updated_at = now() WHERE id = $1`
	_, err := s.db.ExecContext(ctx, query, id, pq.Array(allocationIDs))
	return err
}

// rowScanner abstracts over *sql.Row and *sql.Rows, both of which expose
// Scan with an identical signature.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row rowScanner) (*types.Deployment, error) {
	return scanDeploymentRows(row)
}

func scanDeploymentRows(row rowScanner) (*types.Deployment, error) {
	var d types.Deployment
	var engine, workloadType, state string
	var configJSON []byte
	var nodeIDs, allocationIDs []string

	err := row.Scan(
		&d.ID, &d.OrgID, &d.OwnerID, &d.ModelName, &d.InferenceModel, &engine,
		&d.Endpoint, &configJSON, &workloadType, &state, &d.PoolID, &d.Replicas,
		&d.GPUPerReplica, &d.ModelType, pq.Array(&nodeIDs), pq.Array(&allocationIDs), &d.CreatedAt, &d.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}

	d.Engine = types.Engine(engine)
	d.WorkloadType = types.WorkloadType(workloadType)
	d.State = types.DeploymentState(state)
	d.NodeIDs = nodeIDs
	d.AllocationIDs = allocationIDs
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &d.Configuration); err != nil {
			return nil, fmt.Errorf("failed to decode configuration: %w", err)
		}
	}
	return &d, nil
}
