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

// Package resolver implements the Policy & Context Resolver: given an API
// key and a model name, it authenticates the key, locates the owning
// deployment, merges org- and deployment-scoped policy into a Resolved
// Context, and caches the result.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/prompt"
	"inferia/core/orchestrator/ratelimit"
)

// Resolve and AuthenticateOrgID return one of these three sentinels for
// every expected auth/lookup failure, each mapped by the gateway's HTTP
// layer to a distinct status: an unknown or revoked key is 401, a key
// that authenticates fine but is scoped to a deployment other than the
// one modelName resolves to is 403, and a modelName with no deployment
// at all in the key's org is 404. Collapsing these into one sentinel
// would make every auth failure a 401, which hides the 403/404 cases a
// caller needs to branch on.
var (
	ErrUnauthorized = errors.New("invalid api key")
	ErrForbidden    = errors.New("api key not permitted for this model")
	ErrNotFound     = errors.New("model not found")
)

// RateLimitCfg is the Resolved Context's rate_limit_cfg.
type RateLimitCfg struct {
	Enabled bool
	RPM     int
}

// QuotaCfg bounds a tenant's usage; enforcement lives in the gateway, this
// package only carries the resolved limits.
type QuotaCfg struct {
	Enabled          bool
	MaxRequestsPerDay int64
	MaxTokensPerDay   int64
}

// Deployment is the subset of shared/types.Deployment the resolver needs
// to hand back to the gateway.
type Deployment struct {
	ID              string
	OrgID           string
	ModelName       string
	Endpoint        string
	Engine          string
	InferenceModel  string
	Configuration   map[string]any
	State           string
}

// Context is the Resolved Context: everything the request pipeline needs
// to process one call, bundled once per (api_key, model) pair.
type Context struct {
	Deployment      Deployment
	GuardrailCfg    guardrail.Config
	RagCfg          prompt.RagCfg
	TemplateCfg     prompt.TemplateCfg
	RateLimitCfg    RateLimitCfg
	QuotaCfg        QuotaCfg
	UserIDContext   string
	OrgID           string
	LogPayloads     bool
}

// APIKeyRecord is what the store returns for a valid key hash.
type APIKeyRecord struct {
	KeyID         string
	OrgID         string
	DeploymentID  string // empty unless the key is deployment-scoped
	LogPayloads   bool
}

// APIKeyStore authenticates a hashed API key.
type APIKeyStore interface {
	LookupByHash(ctx context.Context, keyHash string) (*APIKeyRecord, error)
}

// ErrDeploymentMismatch is returned by FindDeployment when modelName
// resolves to a deployment in orgID, but not to requiredDeploymentID: the
// API key is valid and the model exists, it's just scoped to a different
// deployment than this key is allowed to use.
var ErrDeploymentMismatch = errors.New("model resolves to a different deployment than this key is scoped to")

// DeploymentStore locates a non-terminated deployment by org and model
// name, optionally constrained to a specific deployment ID. When
// requiredDeploymentID is set and modelName resolves to some other
// deployment in orgID, implementations must return ErrDeploymentMismatch
// rather than a bare nil, so the resolver can tell "model unknown" apart
// from "model known, wrong deployment".
type DeploymentStore interface {
	FindDeployment(ctx context.Context, orgID, modelName, requiredDeploymentID string) (*Deployment, error)
}

// PolicyStore fetches a named policy type's config, at org scope and
// optionally at deployment scope; deployment policy, when present,
// overrides org policy entirely for that type (no field-level merge).
type PolicyStore interface {
	FetchPolicy(ctx context.Context, orgID, deploymentID, policyType string) (json map[string]any, found bool, err error)
}

// Resolver ties the stores and the cache together.
type Resolver struct {
	apiKeys     APIKeyStore
	deployments DeploymentStore
	policies    PolicyStore
	cache       *cache
}

// New builds a Resolver with a TTL+LRU cache bounded to maxEntries and
// refreshing every ttl.
func New(apiKeys APIKeyStore, deployments DeploymentStore, policies PolicyStore, ttlSeconds float64, maxEntries int) *Resolver {
	return &Resolver{
		apiKeys:     apiKeys,
		deployments: deployments,
		policies:    policies,
		cache:       newCache(ttlSeconds, maxEntries),
	}
}

// Resolve looks up the API key, deployment, and resolved policy config
// for a chat/embeddings request. apiKey is the raw, unhashed key
// presented by the caller.
func (r *Resolver) Resolve(ctx context.Context, apiKey, modelName string) (*Context, error) {
	cacheKey := apiKey + "||" + modelName
	if cached, ok := r.cache.get(cacheKey); ok {
		return cached, nil
	}

	result, err := r.resolveUncached(ctx, apiKey, modelName)
	if err != nil {
		// Negative results are never cached.
		return nil, err
	}
	r.cache.set(cacheKey, result)
	return result, nil
}

func (r *Resolver) resolveUncached(ctx context.Context, apiKey, modelName string) (*Context, error) {
	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	record, err := r.apiKeys.LookupByHash(ctx, keyHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}
	if record == nil {
		return nil, ErrUnauthorized
	}

	deployment, err := r.deployments.FindDeployment(ctx, record.OrgID, modelName, record.DeploymentID)
	if err != nil {
		if errors.Is(err, ErrDeploymentMismatch) {
			return nil, ErrForbidden
		}
		return nil, err
	}
	if deployment == nil {
		return nil, ErrNotFound
	}

	guardrailCfg, err := r.mergeGuardrailCfg(ctx, record.OrgID, deployment.ID)
	if err != nil {
		return nil, err
	}
	ragCfg, err := r.mergeRagCfg(ctx, record.OrgID, deployment.ID)
	if err != nil {
		return nil, err
	}
	templateCfg, err := r.mergeTemplateCfg(ctx, record.OrgID, deployment.ID)
	if err != nil {
		return nil, err
	}
	rateLimitCfg, err := r.mergeRateLimitCfg(ctx, record.OrgID, deployment.ID)
	if err != nil {
		return nil, err
	}
	quotaCfg, err := r.mergeQuotaCfg(ctx, record.OrgID, deployment.ID)
	if err != nil {
		return nil, err
	}

	return &Context{
		Deployment:    *deployment,
		GuardrailCfg:  guardrailCfg,
		RagCfg:        ragCfg,
		TemplateCfg:   templateCfg,
		RateLimitCfg:  rateLimitCfg,
		QuotaCfg:      quotaCfg,
		UserIDContext: "apikey:" + record.KeyID,
		OrgID:         record.OrgID,
		LogPayloads:   record.LogPayloads,
	}, nil
}

// AuthenticateOrgID hashes and looks up apiKey, returning just the owning
// org ID without resolving a deployment. Used by operations that act
// org-wide rather than against one model, such as listing a tenant's
// available models.
func (r *Resolver) AuthenticateOrgID(ctx context.Context, apiKey string) (string, error) {
	hash := sha256.Sum256([]byte(apiKey))
	keyHash := hex.EncodeToString(hash[:])

	record, err := r.apiKeys.LookupByHash(ctx, keyHash)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrUnauthorized, err)
	}
	if record == nil {
		return "", ErrUnauthorized
	}
	return record.OrgID, nil
}

// resolvePolicy returns the deployment-scoped policy config if present,
// else the org-scoped one, else nil.
func (r *Resolver) resolvePolicy(ctx context.Context, orgID, deploymentID, policyType string) (map[string]any, error) {
	if deploymentID != "" {
		if cfg, found, err := r.policies.FetchPolicy(ctx, orgID, deploymentID, policyType); err != nil {
			return nil, err
		} else if found {
			return cfg, nil
		}
	}
	cfg, _, err := r.policies.FetchPolicy(ctx, orgID, "", policyType)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
