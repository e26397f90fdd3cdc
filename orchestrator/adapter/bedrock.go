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
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// bedrockAdapter is a managed-API engine like openAICompatAdapter, but
// its request path goes through the SigV4-signed bedrockruntime SDK
// client instead of a plain http.Client, so it implements DirectInvoker
// rather than BuildURL/Headers/TransformRequest/TransformResponse.
type bedrockAdapter struct {
	client  *bedrockruntime.Client
	modelID string
}

// NewBedrockAdapter builds an adapter bound to one foundation model ID
// (e.g. "anthropic.claude-3-sonnet-20240229-v1:0"); client is shared
// across deployments since it carries no per-deployment state.
func NewBedrockAdapter(client *bedrockruntime.Client, modelID string) ProviderAdapter {
	return &bedrockAdapter{client: client, modelID: modelID}
}

func (a *bedrockAdapter) Name() string        { return "bedrock" }
func (a *bedrockAdapter) Type() AdapterType   { return AdapterTypeCloud }
func (a *bedrockAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsMultiGPU: false, PricingModel: PricingOnDemand}
}

// The generic HTTP path never calls these three on a DirectInvoker, but
// they still need to satisfy ProviderAdapter for the registry's factory
// signature.
func (a *bedrockAdapter) BuildURL(endpoint string) string { return "" }
func (a *bedrockAdapter) Headers(apiKey string) http.Header { return nil }

func (a *bedrockAdapter) TransformRequest(req ChatRequest) ([]byte, error) {
	return nil, &NotSupportedError{Engine: a.Name(), Operation: "transform_request"}
}

func (a *bedrockAdapter) TransformResponse(body []byte) (*ChatResponse, error) {
	return nil, &NotSupportedError{Engine: a.Name(), Operation: "transform_response"}
}

// Invoke renders req as a Bedrock Converse request and normalizes the
// result back to ChatResponse, reusing the same role/content shape the
// OpenAI-compatible path uses so the rest of the gateway never branches
// on engine.
func (a *bedrockAdapter) Invoke(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			continue
		}
		role := brtypes.ConversationRoleUser
		if m.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
		})
	}

	infCfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		maxTokens := int32(req.MaxTokens)
		infCfg.MaxTokens = &maxTokens
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		infCfg.Temperature = &temp
	}

	out, err := a.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(a.modelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: infCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock converse failed: %w", err)
	}

	resp := &ChatResponse{FinishReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.PromptTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.CompletionTokens = int(aws.ToInt32(out.Usage.OutputTokens))
		resp.TotalTokens = int(aws.ToInt32(out.Usage.TotalTokens))
	}
	if member, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range member.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				resp.Content += text.Value
			}
		}
	}
	return resp, nil
}

func (a *bedrockAdapter) DiscoverResources(ctx context.Context) ([]DiscoveredResource, error) {
	return nil, &NotSupportedError{Engine: a.Name(), Operation: "discover_resources"}
}

func (a *bedrockAdapter) ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	return nil, &NotSupportedError{Engine: a.Name(), Operation: "provision_node"}
}

func (a *bedrockAdapter) WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error) {
	return "", &NotSupportedError{Engine: a.Name(), Operation: "wait_for_ready"}
}

func (a *bedrockAdapter) DeprovisionNode(ctx context.Context, providerInstanceID string) error {
	return &NotSupportedError{Engine: a.Name(), Operation: "deprovision_node"}
}

func (a *bedrockAdapter) GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error) {
	return nil, &NotSupportedError{Engine: a.Name(), Operation: "get_logs"}
}

func (a *bedrockAdapter) GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error) {
	return &LogStreamInfo{Supported: false}, nil
}
