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

package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inferia/core/common/usage"
	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/limiter"
	"inferia/core/orchestrator/prompt"
	"inferia/core/orchestrator/resolver"
)

// ErrRateLimited is returned when the deployment's requests-per-minute
// budget is exhausted. RetryAfter is how long the caller should wait.
type ErrRateLimited struct {
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string { return "rate limit exceeded" }

// ErrBlocked is returned when a guardrail scan rejects the input or
// output and the config does not allow proceeding on violation.
type ErrBlocked struct {
	ScanType   guardrail.ScanType
	Violations []guardrail.Violation
}

func (e *ErrBlocked) Error() string {
	return fmt.Sprintf("request blocked by guardrail (%s scan, %d violation(s))", e.ScanType, len(e.Violations))
}

// ErrBadDeployment is returned when a resolved deployment has no usable
// endpoint configured.
var ErrBadDeployment = errors.New("deployment misconfiguration: no endpoint configured")

// ErrQuotaExceeded is returned when the org has exhausted its daily
// request or token budget.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// ChatCompletionRequest is the inbound request shape, modeled on the
// OpenAI chat/completions body.
type ChatCompletionRequest struct {
	Model       string
	Messages    []adapter.ChatMessage
	MaxTokens   int
	Temperature float64
	Stream      bool
	Extra       map[string]any
}

// ChatCompletionResponse is the outbound shape, normalized from whatever
// the upstream adapter returned.
type ChatCompletionResponse struct {
	Model            string
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	DeploymentID     string
	UsedTemplateID   string
	RAGContextUsed   bool
}

// ChatCompletion runs the full request pipeline: resolve context, rate
// limit, scan input, process the prompt, call upstream, scan output,
// record usage: Auth -> Context -> RateLimit -> Guardrails -> Inference
// -> Logging, with prompt processing folded in ahead of the upstream
// call so RAG/template expansion sees the already-sanitized input.
func (g *Gateway) ChatCompletion(ctx context.Context, apiKey string, req ChatCompletionRequest) (*ChatCompletionResponse, error) {
	start := time.Now()
	deploymentID := "unknown"
	resp, err := g.chatCompletion(ctx, apiKey, req, &deploymentID)
	observeRequest(deploymentID, outcomeLabel(err), start)
	return resp, err
}

// outcomeLabel maps an error into the bounded-cardinality outcome label
// requestsTotal carries, so a new error message never creates a new time
// series.
func outcomeLabel(err error) string {
	var rateLimited *ErrRateLimited
	var blocked *ErrBlocked
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rateLimited):
		return "rate_limited"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota_exceeded"
	case errors.As(err, &blocked):
		return "blocked"
	default:
		return "error"
	}
}

func (g *Gateway) chatCompletion(ctx context.Context, apiKey string, req ChatCompletionRequest, deploymentID *string) (*ChatCompletionResponse, error) {
	start := time.Now()
	if req.Model == "" || len(req.Messages) == 0 {
		return nil, errors.New("model and messages are required")
	}

	rc, err := g.resolver.Resolve(ctx, apiKey, req.Model)
	if err != nil {
		return nil, err
	}
	*deploymentID = rc.Deployment.ID

	if err := g.checkRateLimit(ctx, rc); err != nil {
		return nil, err
	}

	// Quota is checked before the input scan since it's the cheaper
	// local/Redis round trip; a quota failure short-circuits before the
	// input scan runs at all, so a message the client never sees is never
	// sanitized.
	if err := g.checkQuota(ctx, rc, req.Model); err != nil {
		return nil, err
	}

	lastUser := lastUserContent(req.Messages)
	sanitized, err := g.scanInput(ctx, rc, lastUser)
	if err != nil {
		return nil, err
	}
	if sanitized != lastUser {
		req.Messages = replaceLastUserContent(req.Messages, sanitized)
		lastUser = sanitized
	}

	release, err := g.acquireSlot(ctx, rc.Deployment.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	messages, usedTemplateID, ragUsed, err := g.processPrompt(ctx, req, rc)
	if err != nil {
		return nil, err
	}

	if rc.Deployment.Endpoint == "" {
		return nil, ErrBadDeployment
	}

	a, err := g.adapters.Get(rc.Deployment.Engine, rc.Deployment.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapter for engine %s: %w", rc.Deployment.Engine, err)
	}

	upstreamReq := adapter.ChatRequest{
		Model:       resolveModelName(rc),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
		Extra:       req.Extra,
	}

	providerKey, err := g.resolveProviderKeyRef(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider credential: %w", err)
	}
	resp, err := g.callUpstream(ctx, rc.Deployment.ID, a, rc.Deployment.Endpoint, providerKey, upstreamReq)
	if err != nil {
		return nil, err
	}

	sanitizedOutput, err := g.scanOutput(ctx, rc, resp.Content, lastUser)
	if err != nil {
		return nil, err
	}
	resp.Content = sanitizedOutput

	latency := time.Since(start)
	go g.recordUsage(rc, req.Model, resp, latency, 0, false)

	return &ChatCompletionResponse{
		Model:            req.Model,
		Content:          resp.Content,
		FinishReason:     resp.FinishReason,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		DeploymentID:     rc.Deployment.ID,
		UsedTemplateID:   usedTemplateID,
		RAGContextUsed:   ragUsed,
	}, nil
}

func (g *Gateway) acquireSlot(ctx context.Context, deploymentID string) (limiter.Release, error) {
	if g.limiter == nil {
		return func() {}, nil
	}
	return g.limiter.Acquire(ctx, deploymentID)
}

func (g *Gateway) processPrompt(ctx context.Context, req ChatCompletionRequest, rc *resolver.Context) ([]adapter.ChatMessage, string, bool, error) {
	if g.prompts == nil || (!rc.RagCfg.Enabled && !rc.TemplateCfg.Enabled) {
		return req.Messages, "", false, nil
	}

	msgs := make([]prompt.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = prompt.Message{Role: m.Role, Content: m.Content}
	}

	templateVars := map[string]string{}
	for k, v := range req.Extra {
		if s, ok := v.(string); ok {
			templateVars[k] = s
		}
	}

	result, err := g.prompts.Process(ctx, msgs, rc.OrgID, rc.RagCfg, rc.TemplateCfg, templateVars)
	if err != nil {
		return nil, "", false, fmt.Errorf("prompt_processing_failed: %w", err)
	}

	out := make([]adapter.ChatMessage, len(result.Messages))
	for i, m := range result.Messages {
		out[i] = adapter.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return out, result.UsedTemplateID, result.RAGContextUsed, nil
}

// recordUsage is step 9 of the pipeline: it runs in a detached goroutine
// (called via `go`) so a slow usage sink never adds latency to the
// response the caller already received, per the "background accounting
// outliving the response" design note. ttft is zero for the
// non-streaming path, which has no first-token timestamp to report.
func (g *Gateway) recordUsage(rc *resolver.Context, model string, resp *adapter.ChatResponse, latency, ttft time.Duration, streaming bool) {
	if g.quota != nil && rc.QuotaCfg.Enabled && rc.QuotaCfg.MaxTokensPerDay > 0 && resp.TotalTokens > 0 {
		_ = g.quota.RecordTokens(context.Background(), quotaKey(rc, model), int64(resp.TotalTokens))
	}
	if g.usage == nil {
		return
	}
	_ = g.usage.RecordLLMRequest(context.Background(), usage.Event{
		OrgID:            rc.OrgID,
		UserID:           rc.UserIDContext,
		DeploymentID:     rc.Deployment.ID,
		InstanceID:       g.instanceID,
		Provider:         rc.Deployment.Engine,
		Model:            model,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
		TotalTokens:      resp.TotalTokens,
		LatencyMs:        latency.Milliseconds(),
		TTFTMs:           ttft.Milliseconds(),
		Streaming:        streaming,
		HTTPStatusCode:   200,
		OccurredAt:       time.Now(),
	})
}

// resolveModelName picks the name sent to the provider: inference_model
// takes priority over configuration's own model field, which takes
// priority over the platform's model_name, since external providers
// often carry the actual upstream model identifier in configuration
// rather than matching the platform's own naming.
func resolveModelName(rc *resolver.Context) string {
	if rc.Deployment.InferenceModel != "" {
		return rc.Deployment.InferenceModel
	}
	if m, ok := rc.Deployment.Configuration["model"].(string); ok && m != "" {
		return m
	}
	return rc.Deployment.ModelName
}

func lastUserContent(messages []adapter.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if strings.EqualFold(messages[i].Role, "user") {
			return messages[i].Content
		}
	}
	return ""
}

// replaceLastUserContent swaps in sanitized content for the last user
// message: an anonymizing scan result is only ever applied to that one
// message, never the full history.
func replaceLastUserContent(messages []adapter.ChatMessage, sanitized string) []adapter.ChatMessage {
	out := make([]adapter.ChatMessage, len(messages))
	copy(out, messages)
	for i := len(out) - 1; i >= 0; i-- {
		if strings.EqualFold(out[i].Role, "user") {
			out[i].Content = sanitized
			break
		}
	}
	return out
}
