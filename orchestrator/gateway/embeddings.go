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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"inferia/core/orchestrator/adapter"
)

// EmbeddingsRequest is the inbound request shape, modeled on the OpenAI
// embeddings schema: input is always normalized to a slice by the HTTP
// layer, whether the wire body carried a single string or an array.
type EmbeddingsRequest struct {
	Model string
	Input []string
}

// EmbeddingsResponse is the outbound shape.
type EmbeddingsResponse struct {
	Model        string
	Embeddings   [][]float64
	PromptTokens int
	TotalTokens  int
	DeploymentID string
}

// ErrEmbeddingsNotSupported is returned when the resolved deployment's
// engine adapter has no embeddings capability (e.g. Bedrock's Converse
// path, which only speaks chat).
var ErrEmbeddingsNotSupported = errors.New("engine does not support embeddings")

// Embeddings runs the same Auth -> Context -> RateLimit -> Guardrails ->
// Inference -> Log pipeline chat completions do, minus prompt processing
// (RAG/templating rewrite a chat turn, not an embeddings input) and
// output scanning (the response is a vector, not text a content scanner
// can read). The input guardrail scan runs over the joined input text.
func (g *Gateway) Embeddings(ctx context.Context, apiKey string, req EmbeddingsRequest) (*EmbeddingsResponse, error) {
	start := time.Now()
	deploymentID := "unknown"
	resp, err := g.embeddings(ctx, apiKey, req, &deploymentID)
	observeRequest(deploymentID, outcomeLabel(err), start)
	return resp, err
}

func (g *Gateway) embeddings(ctx context.Context, apiKey string, req EmbeddingsRequest, deploymentID *string) (*EmbeddingsResponse, error) {
	start := time.Now()
	if req.Model == "" || len(req.Input) == 0 {
		return nil, errors.New("model and input are required")
	}

	rc, err := g.resolver.Resolve(ctx, apiKey, req.Model)
	if err != nil {
		return nil, err
	}
	*deploymentID = rc.Deployment.ID

	if err := g.checkRateLimit(ctx, rc); err != nil {
		return nil, err
	}
	if err := g.checkQuota(ctx, rc, req.Model); err != nil {
		return nil, err
	}

	joined := strings.Join(req.Input, "\n")
	sanitized, err := g.scanInput(ctx, rc, joined)
	if err != nil {
		return nil, err
	}
	input := req.Input
	if sanitized != joined {
		input = strings.Split(sanitized, "\n")
	}

	release, err := g.acquireSlot(ctx, rc.Deployment.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	if rc.Deployment.Endpoint == "" {
		return nil, ErrBadDeployment
	}

	a, err := g.adapters.Get(rc.Deployment.Engine, rc.Deployment.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapter for engine %s: %w", rc.Deployment.Engine, err)
	}
	embAdapter, ok := a.(adapter.EmbeddingsAdapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingsNotSupported, rc.Deployment.Engine)
	}

	providerKey, err := g.resolveProviderKeyRef(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve provider credential: %w", err)
	}

	resp, err := g.callEmbeddings(ctx, rc.Deployment.ID, embAdapter, rc.Deployment.Endpoint, providerKey, adapter.EmbeddingsRequest{
		Model: resolveModelName(rc),
		Input: input,
	})
	if err != nil {
		return nil, err
	}

	latency := time.Since(start)
	go g.recordUsage(rc, req.Model, &adapter.ChatResponse{
		PromptTokens: resp.PromptTokens,
		TotalTokens:  resp.TotalTokens,
	}, latency, 0, false)

	return &EmbeddingsResponse{
		Model:        req.Model,
		Embeddings:   resp.Embeddings,
		PromptTokens: resp.PromptTokens,
		TotalTokens:  resp.TotalTokens,
		DeploymentID: rc.Deployment.ID,
	}, nil
}

// callEmbeddings mirrors callUpstream's circuit-breaker bracketing, so an
// embeddings deployment whose provider is down trips the same breaker a
// chat deployment on that engine would.
func (g *Gateway) callEmbeddings(ctx context.Context, deploymentID string, a adapter.EmbeddingsAdapter, endpoint, providerKey string, req adapter.EmbeddingsRequest) (*adapter.EmbeddingsResponse, error) {
	if g.breakers != nil {
		if err := g.breakers.Allow(deploymentID); err != nil {
			return nil, fmt.Errorf("%w: deployment %s", err, deploymentID)
		}
	}
	resp, err := g.doEmbeddings(ctx, a, endpoint, providerKey, req)
	if g.breakers != nil {
		if err != nil {
			g.breakers.RecordFailure(deploymentID)
		} else {
			g.breakers.RecordSuccess(deploymentID)
		}
	}
	return resp, err
}

// doEmbeddings mirrors doUpstream's HTTP plumbing for the embeddings wire
// shape: build the request body through the adapter, POST it to the
// adapter's embeddings URL, and parse the reply back through the adapter.
func (g *Gateway) doEmbeddings(ctx context.Context, a adapter.EmbeddingsAdapter, endpoint, providerKey string, req adapter.EmbeddingsRequest) (*adapter.EmbeddingsResponse, error) {
	body, err := a.TransformEmbeddingsRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream embeddings request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.EmbeddingsURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream embeddings request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if headerer, ok := a.(interface{ Headers(string) http.Header }); ok {
		for k, values := range headerer.Headers(providerKey) {
			for _, v := range values {
				httpReq.Header.Add(k, v)
			}
		}
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream embeddings request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream embeddings response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	embResp, err := a.TransformEmbeddingsResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream embeddings response: %w", err)
	}
	return embResp, nil
}
