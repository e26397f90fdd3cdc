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

// Package gateway implements the Request Orchestrator: the
// Auth -> Context -> RateLimit -> Guardrails -> Prompt -> Inference -> Log
// pipeline every chat/embeddings call runs through. Every collaborator is
// injected rather than reached for as a package-level singleton, so a
// Gateway is just a struct a caller constructs once at startup.
package gateway

import (
	"net/http"
	"time"

	"inferia/core/common/usage"
	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/breaker"
	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/limiter"
	"inferia/core/orchestrator/prompt"
	"inferia/core/orchestrator/quota"
	"inferia/core/orchestrator/ratelimit"
	"inferia/core/orchestrator/resolver"
)

// AdapterResolver resolves the ProviderAdapter for a deployment's engine;
// satisfied by *adapter.Registry.
type AdapterResolver interface {
	Get(engine, endpoint string) (adapter.ProviderAdapter, error)
}

// Gateway holds every collaborator the request pipeline needs. None of it
// is package-level state, per the "no globals" redesign: a process can
// run more than one Gateway (e.g. one per region) without them stepping
// on each other.
type Gateway struct {
	resolver    *resolver.Resolver
	limiter     *limiter.Limiter
	rateLimiter ratelimit.Limiter
	quota       quota.Checker
	guardrails  *guardrail.Engine
	prompts     *prompt.Processor
	adapters    AdapterResolver
	deployments DeploymentLister
	usage       *usage.UsageRecorder
	breakers    *breaker.Registry
	credentials CredentialResolver
	httpClient  *http.Client
	instanceID  string
	nosanaInternalAPIKey string
}

// Config bundles the Gateway's dependencies for New.
type Config struct {
	Resolver    *resolver.Resolver
	Limiter     *limiter.Limiter
	RateLimiter ratelimit.Limiter
	Quota       quota.Checker
	Guardrails  *guardrail.Engine
	Prompts     *prompt.Processor
	Adapters    AdapterResolver
	Deployments DeploymentLister
	Usage       *usage.UsageRecorder
	// Breakers trips per-deployment circuit breakers around upstream
	// calls. A nil Breakers disables circuit breaking entirely.
	Breakers    *breaker.Registry
	// Credentials resolves configuration.credentials_ref to an upstream
	// provider key. A nil Credentials means only inline deployment
	// credentials are usable.
	Credentials CredentialResolver
	HTTPClient  *http.Client
	InstanceID  string
	// NosanaInternalAPIKey is the shared credential used for DePIN
	// deployments that have no per-deployment provider key of their own.
	NosanaInternalAPIKey string
}

// New builds a Gateway. A nil HTTPClient gets a default with a generous
// upstream timeout, since inference calls routinely run longer than a
// typical API request.
func New(cfg Config) *Gateway {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	q := cfg.Quota
	if q == nil {
		q = quota.NewLocalChecker()
	}
	return &Gateway{
		resolver:    cfg.Resolver,
		limiter:     cfg.Limiter,
		rateLimiter: cfg.RateLimiter,
		quota:       q,
		guardrails:  cfg.Guardrails,
		prompts:     cfg.Prompts,
		adapters:    cfg.Adapters,
		deployments: cfg.Deployments,
		usage:       cfg.Usage,
		breakers:    cfg.Breakers,
		credentials: cfg.Credentials,
		httpClient:  client,
		instanceID:  cfg.InstanceID,
		nosanaInternalAPIKey: cfg.NosanaInternalAPIKey,
	}
}
