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

package adapter

import (
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// Factory builds a ProviderAdapter for one engine, given the endpoint it
// should talk to on the request path (empty for engines resolved per
// Deployment, e.g. after provisioning).
type Factory func(endpoint string) ProviderAdapter

// Registry is a factory lookup keyed by engine string, mirroring the
// Python ADAPTER_REGISTRY dict so new engines are added in one place.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry builds a Registry pre-populated with every engine the
// platform knows about. The DePIN engines (nosana, akash) are not
// registered here; their sidecar URLs come from the caller's configuration
// via RegisterSidecarURLs.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, name := range []string{"openai", "vllm", "ollama", "triton", "vllm-omni", "infinity", "tei"} {
		name := name
		r.factories[name] = func(endpoint string) ProviderAdapter {
			return newOpenAICompatAdapter(name, engineAdapterType(name), engineCapabilities(name), endpoint)
		}
	}
	r.factories["k8s"] = func(endpoint string) ProviderAdapter { return newK8sAdapter(endpoint) }
	return r
}

func engineAdapterType(name string) AdapterType {
	switch name {
	case "openai":
		return AdapterTypeCloud
	default:
		return AdapterTypeOnPrem
	}
}

func engineCapabilities(name string) Capabilities {
	switch name {
	case "openai":
		return Capabilities{SupportsMultiGPU: false, PricingModel: PricingOnDemand}
	default:
		return Capabilities{SupportsMultiGPU: true, RequiresReadinessPoll: true, ReadinessTimeout: 300 * time.Second, PollingInterval: 10 * time.Second, SupportsDirectProvisioning: false, PricingModel: PricingFixed}
	}
}

// RegisterSidecarURLs wires the Nosana and Akash adapters once their
// sidecar base URLs are known (supplied by the caller, not a compiled-in
// default), so tests and alternate deployments can point at a fake
// sidecar.
func (r *Registry) RegisterSidecarURLs(nosanaSidecarURL, akashSidecarURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories["nosana"] = func(endpoint string) ProviderAdapter { return NewNosanaAdapter(nosanaSidecarURL, endpoint) }
	r.factories["akash"] = func(endpoint string) ProviderAdapter { return NewAkashAdapter(akashSidecarURL, endpoint) }
}

// RegisterBedrock wires the "bedrock" engine to a shared bedrockruntime
// client. A Deployment's Endpoint field doubles as the Bedrock foundation
// model ID (e.g. "anthropic.claude-3-sonnet-20240229-v1:0") since Bedrock
// has no per-deployment HTTP endpoint of its own to resolve.
func (r *Registry) RegisterBedrock(client *bedrockruntime.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories["bedrock"] = func(modelID string) ProviderAdapter { return NewBedrockAdapter(client, modelID) }
}

// Register adds or overrides the factory for an engine. Tests use this to
// inject fakes.
func (r *Registry) Register(engine string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[engine] = factory
}

// Get builds a ProviderAdapter for engine pointed at endpoint.
func (r *Registry) Get(engine, endpoint string) (ProviderAdapter, error) {
	r.mu.RLock()
	factory, ok := r.factories[engine]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no adapter registered for engine %q: available %v", engine, r.EngineNames())
	}
	return factory(endpoint), nil
}

// EngineNames lists every registered engine, for error messages and the
// models listing endpoint.
func (r *Registry) EngineNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
