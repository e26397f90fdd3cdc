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

// Package adapter defines the provider adapter contract that both the
// request path (chat/completions passthrough) and the control path
// (deployment provisioning) use to talk to a concrete compute backend.
//
// Every engine, whether a managed API like OpenAI or a DePIN market like
// Nosana, implements the same ProviderAdapter interface. The Deployment
// Controller & Worker only ever depend on this interface, never on a
// concrete engine type.
package adapter

import (
	"context"
	"net/http"
	"time"
)

// PricingModel classifies how a provider charges for capacity.
type PricingModel string

const (
	PricingFixed    PricingModel = "fixed"
	PricingSpot     PricingModel = "spot"
	PricingAuction  PricingModel = "auction"
	PricingOnDemand PricingModel = "on_demand"
)

// AdapterType classifies where the underlying compute lives.
type AdapterType string

const (
	AdapterTypeCloud  AdapterType = "cloud"
	AdapterTypeDePIN  AdapterType = "depin"
	AdapterTypeOnPrem AdapterType = "on_prem"
)

// Capabilities describes what a provider adapter supports, so the
// Deployment Controller & Worker can branch generically instead of
// special-casing engine names.
type Capabilities struct {
	SupportsLogStreaming      bool
	SupportsConfidentialCompute bool
	SupportsSpotInstances     bool
	SupportsMultiGPU          bool
	IsEphemeral               bool
	RequiresReadinessPoll     bool
	ReadinessTimeout          time.Duration
	PollingInterval           time.Duration
	RequiresSidecar           bool
	SupportsDirectProvisioning bool
	PricingModel              PricingModel
	Features                  map[string]bool
}

// DiscoveredResource is one unit of capacity a provider can offer, as
// reported by DiscoverResources.
type DiscoveredResource struct {
	Provider         string
	ProviderResourceID string
	GPUType          string
	GPUCount         int
	GPUMemoryGB      int
	VCPU             int
	RAMGB            int
	Region           string
	PricingModel     PricingModel
	PricePerHour     float64
	Metadata         map[string]any
}

// ProvisionParams are the normalized inputs to ProvisionNode. Metadata
// carries engine-specific settings (image, command, env, model id, and so
// on) so the interface stays generic across engines.
type ProvisionParams struct {
	ProviderResourceID   string
	PoolID               string
	Region               string
	UseSpot              bool
	Metadata             map[string]any
	ProviderCredentialName string
}

// ProvisionResult is the normalized output of ProvisionNode, shaped to
// populate an InventoryNode row directly.
type ProvisionResult struct {
	Provider           string
	ProviderInstanceID string
	Hostname           string
	GPUTotal           int
	VCPUTotal          int
	RAMGBTotal         int
	Region             string
	NodeClass          string
	ExposeURL          string
	Metadata           map[string]any
}

// LogResult is the output of GetLogs.
type LogResult struct {
	Lines  []string
	Status string
}

// LogStreamInfo describes how a caller can attach to a live log stream.
type LogStreamInfo struct {
	Supported bool
	WSURL     string
	Subscription map[string]any
}

// ChatRequest is the normalized request the request path sends downstream,
// before TransformRequest renders it into the engine's own wire format.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool
	Extra       map[string]any
}

// ChatMessage is one role/content pair in a chat-style request.
type ChatMessage struct {
	Role    string
	Content string
}

// ChatResponse is the normalized response shape returned after
// TransformResponse parses the engine's own wire format.
type ChatResponse struct {
	Content      string
	FinishReason string
	PromptTokens int
	CompletionTokens int
	TotalTokens  int
	Raw          []byte
}

// ProviderAdapter is the full contract a compute engine must implement.
// Request-path methods are used on every inference call; control-path
// methods are used by the Deployment Controller & Worker during
// provisioning and teardown.
type ProviderAdapter interface {
	// Name is the engine identifier, e.g. "vllm" or "nosana".
	Name() string
	Type() AdapterType
	Capabilities() Capabilities

	// Request path.
	BuildURL(endpoint string) string
	Headers(apiKey string) http.Header
	TransformRequest(req ChatRequest) ([]byte, error)
	TransformResponse(body []byte) (*ChatResponse, error)

	// Control path.
	DiscoverResources(ctx context.Context) ([]DiscoveredResource, error)
	ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error)
	WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error)
	DeprovisionNode(ctx context.Context, providerInstanceID string) error
	GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error)
	GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error)
}

// EmbeddingsRequest is the normalized embeddings request, mirroring the
// OpenAI embeddings schema (input is always expanded to a slice, even for
// the string-input wire form).
type EmbeddingsRequest struct {
	Model string
	Input []string
}

// EmbeddingsResponse is the normalized embeddings response: one float
// vector per input, in request order.
type EmbeddingsResponse struct {
	Embeddings   [][]float64
	PromptTokens int
	TotalTokens  int
	Raw          []byte
}

// EmbeddingsAdapter is an optional, narrower capability than the full
// ProviderAdapter: engines that only ever serve chat (Bedrock's Converse
// API, for instance) simply don't implement it. The gateway type-asserts
// for this interface rather than widening ProviderAdapter itself, the
// same shape DirectInvoker already uses for the opposite asymmetry.
type EmbeddingsAdapter interface {
	EmbeddingsURL(endpoint string) string
	TransformEmbeddingsRequest(req EmbeddingsRequest) ([]byte, error)
	TransformEmbeddingsResponse(body []byte) (*EmbeddingsResponse, error)
}

// DirectInvoker is implemented by adapters whose request path can't be
// driven through a plain http.Client — an AWS SigV4-signed SDK client, for
// instance. callUpstream prefers Invoke over the generic
// TransformRequest/Headers/TransformResponse path when an adapter
// satisfies this interface.
type DirectInvoker interface {
	Invoke(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NotSupportedError is returned by control-path methods an adapter does not
// implement, e.g. GetLogs on a managed API engine.
type NotSupportedError struct {
	Engine    string
	Operation string
}

func (e *NotSupportedError) Error() string {
	return e.Engine + " adapter does not support " + e.Operation
}
