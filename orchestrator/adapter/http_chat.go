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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// openAICompatAdapter implements ProviderAdapter for engines whose request
// path speaks the OpenAI chat-completions wire format: openai itself,
// self-hosted vLLM, Ollama's OpenAI-compatible endpoint, Triton's OpenAI
// frontend, and TEI/Infinity embedding servers. They differ only in name,
// capabilities, and (for the managed kind) whether the control path is
// even meaningful.
type openAICompatAdapter struct {
	name         string
	adapterType  AdapterType
	capabilities Capabilities
	endpoint     string
}

func newOpenAICompatAdapter(name string, adapterType AdapterType, caps Capabilities, endpoint string) *openAICompatAdapter {
	return &openAICompatAdapter{name: name, adapterType: adapterType, capabilities: caps, endpoint: endpoint}
}

func (a *openAICompatAdapter) Name() string               { return a.name }
func (a *openAICompatAdapter) Type() AdapterType           { return a.adapterType }
func (a *openAICompatAdapter) Capabilities() Capabilities  { return a.capabilities }

func (a *openAICompatAdapter) BuildURL(endpoint string) string {
	return buildFullURL(a.endpoint, endpoint)
}

func (a *openAICompatAdapter) Headers(apiKey string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if apiKey != "" {
		h.Set("Authorization", "Bearer "+apiKey)
	}
	return h
}

type openAIChatWireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatWireRequest struct {
	Model       string                   `json:"model"`
	Messages    []openAIChatWireMessage  `json:"messages"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
	Temperature float64                  `json:"temperature,omitempty"`
	Stream      bool                     `json:"stream,omitempty"`
}

func (a *openAICompatAdapter) TransformRequest(req ChatRequest) ([]byte, error) {
	wire := openAIChatWireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      req.Stream,
	}
	for _, m := range req.Messages {
		wire.Messages = append(wire.Messages, openAIChatWireMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(wire)
}

type openAIChatWireResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *openAICompatAdapter) TransformResponse(body []byte) (*ChatResponse, error) {
	var wire openAIChatWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%s: decode chat response: %w", a.name, err)
	}
	resp := &ChatResponse{
		PromptTokens:     wire.Usage.PromptTokens,
		CompletionTokens: wire.Usage.CompletionTokens,
		TotalTokens:      wire.Usage.TotalTokens,
		Raw:              body,
	}
	if len(wire.Choices) > 0 {
		resp.Content = wire.Choices[0].Message.Content
		resp.FinishReason = wire.Choices[0].FinishReason
	}
	return resp, nil
}

// EmbeddingsURL builds the embeddings endpoint the same way BuildURL does
// for chat, reusing the overlapping-suffix dedup so a deployment endpoint
// already carrying a path component doesn't double up.
func (a *openAICompatAdapter) EmbeddingsURL(endpoint string) string {
	return buildFullURL(a.endpoint, "/v1/embeddings")
}

type openAIEmbeddingsWireRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func (a *openAICompatAdapter) TransformEmbeddingsRequest(req EmbeddingsRequest) ([]byte, error) {
	return json.Marshal(openAIEmbeddingsWireRequest{Model: req.Model, Input: req.Input})
}

type openAIEmbeddingsWireResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (a *openAICompatAdapter) TransformEmbeddingsResponse(body []byte) (*EmbeddingsResponse, error) {
	var wire openAIEmbeddingsWireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%s: decode embeddings response: %w", a.name, err)
	}
	out := &EmbeddingsResponse{
		Embeddings:   make([][]float64, len(wire.Data)),
		PromptTokens: wire.Usage.PromptTokens,
		TotalTokens:  wire.Usage.TotalTokens,
		Raw:          body,
	}
	for _, d := range wire.Data {
		if d.Index >= 0 && d.Index < len(out.Embeddings) {
			out.Embeddings[d.Index] = d.Embedding
		}
	}
	return out, nil
}

// DiscoverResources is not meaningful for a managed/self-hosted endpoint
// that the caller already points at; these engines are registered against
// a fixed deployment endpoint rather than discovered.
func (a *openAICompatAdapter) DiscoverResources(ctx context.Context) ([]DiscoveredResource, error) {
	return nil, &NotSupportedError{Engine: a.name, Operation: "discover_resources"}
}

func (a *openAICompatAdapter) ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	return nil, &NotSupportedError{Engine: a.name, Operation: "provision_node"}
}

func (a *openAICompatAdapter) WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error) {
	return "", &NotSupportedError{Engine: a.name, Operation: "wait_for_ready"}
}

func (a *openAICompatAdapter) DeprovisionNode(ctx context.Context, providerInstanceID string) error {
	return &NotSupportedError{Engine: a.name, Operation: "deprovision_node"}
}

func (a *openAICompatAdapter) GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error) {
	return nil, &NotSupportedError{Engine: a.name, Operation: "get_logs"}
}

func (a *openAICompatAdapter) GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error) {
	return &LogStreamInfo{Supported: false}, nil
}
