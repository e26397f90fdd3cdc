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

package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresAPIKeyStore looks up API keys by their sha256 hash, mirroring
// the license-key-hash lookup in agent/db_auth.go's validateViaAPIKeys.
type PostgresAPIKeyStore struct {
	db *sql.DB
}

// NewPostgresAPIKeyStore builds a store around an open connection pool.
func NewPostgresAPIKeyStore(db *sql.DB) *PostgresAPIKeyStore {
	return &PostgresAPIKeyStore{db: db}
}

// LookupByHash returns nil, nil when the hash matches no enabled key.
func (s *PostgresAPIKeyStore) LookupByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error) {
	const query = `
		SELECT key_id, org_id, COALESCE(deployment_id, ''), log_payloads
		FROM api_keys
		WHERE key_hash = $1 AND enabled = true AND revoked_at IS NULL
	`
	var rec APIKeyRecord
	err := s.db.QueryRowContext(ctx, query, keyHash).Scan(&rec.KeyID, &rec.OrgID, &rec.DeploymentID, &rec.LogPayloads)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("api key lookup failed: %w", err)
	}
	return &rec, nil
}

// PostgresDeploymentStore locates a non-terminated deployment by org and
// model name.
type PostgresDeploymentStore struct {
	db *sql.DB
}

// NewPostgresDeploymentStore builds a store around an open connection pool.
func NewPostgresDeploymentStore(db *sql.DB) *PostgresDeploymentStore {
	return &PostgresDeploymentStore{db: db}
}

// FindDeployment returns nil, nil when modelName has no deployment at all
// in orgID. When requiredDeploymentID is non-empty (the API key is
// deployment-scoped) and modelName resolves to a deployment other than
// requiredDeploymentID, it returns ErrDeploymentMismatch rather than nil,
// so the resolver can tell "model unknown" apart from "model known, key
// scoped to the wrong deployment".
func (s *PostgresDeploymentStore) FindDeployment(ctx context.Context, orgID, modelName, requiredDeploymentID string) (*Deployment, error) {
	d, err := s.queryDeployment(ctx, orgID, modelName, requiredDeploymentID)
	if err != nil {
		return nil, err
	}
	if d != nil {
		return d, nil
	}
	if requiredDeploymentID == "" {
		return nil, nil
	}
	anyDeployment, err := s.queryDeployment(ctx, orgID, modelName, "")
	if err != nil {
		return nil, err
	}
	if anyDeployment != nil {
		return nil, ErrDeploymentMismatch
	}
	return nil, nil
}

func (s *PostgresDeploymentStore) queryDeployment(ctx context.Context, orgID, modelName, requiredDeploymentID string) (*Deployment, error) {
	query := `
		SELECT id, org_id, model_name, endpoint, engine, COALESCE(inference_model, ''), configuration, state
		FROM deployments
		WHERE org_id = $1 AND model_name = $2
		AND state NOT IN ('terminated', 'failed')
	`
	args := []any{orgID, modelName}
	if requiredDeploymentID != "" {
		query += " AND id = $3"
		args = append(args, requiredDeploymentID)
	}
	query += " ORDER BY updated_at DESC LIMIT 1"

	var d Deployment
	var configJSON []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&d.ID, &d.OrgID, &d.ModelName, &d.Endpoint, &d.Engine, &d.InferenceModel, &configJSON, &d.State,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("deployment lookup failed: %w", err)
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &d.Configuration); err != nil {
			return nil, fmt.Errorf("failed to decode deployment configuration: %w", err)
		}
	}
	return &d, nil
}

// PostgresPolicyStore fetches policy config JSON, org- or
// deployment-scoped, from a single policies table keyed by (org_id,
// deployment_id, policy_type) where deployment_id may be null for
// org-wide policy.
type PostgresPolicyStore struct {
	db *sql.DB
}

// NewPostgresPolicyStore builds a store around an open connection pool.
func NewPostgresPolicyStore(db *sql.DB) *PostgresPolicyStore {
	return &PostgresPolicyStore{db: db}
}

// FetchPolicy returns found=false (not an error) when no row matches the
// given scope.
func (s *PostgresPolicyStore) FetchPolicy(ctx context.Context, orgID, deploymentID, policyType string) (map[string]any, bool, error) {
	var query string
	var args []any
	if deploymentID == "" {
		query = `SELECT config FROM policies WHERE org_id = $1 AND deployment_id IS NULL AND policy_type = $2`
		args = []any{orgID, policyType}
	} else {
		query = `SELECT config FROM policies WHERE org_id = $1 AND deployment_id = $2 AND policy_type = $3`
		args = []any{orgID, deploymentID, policyType}
	}

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("policy lookup failed (%s): %w", policyType, err)
	}

	var cfg map[string]any
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s policy: %w", policyType, err)
	}
	return cfg, true, nil
}
