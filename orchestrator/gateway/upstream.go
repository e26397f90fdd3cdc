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
	"fmt"
	"io"
	"net/http"

	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/breaker"
	"inferia/core/orchestrator/resolver"
)

// callUpstream renders req through a's wire format, sends it to endpoint,
// and parses the response back through the same adapter, so the rest of
// the pipeline only ever deals in the normalized adapter.ChatResponse
// shape regardless of which engine answered. A deployment that has
// tripped its circuit breaker fails fast here rather than adding another
// timed-out request to an upstream that is already down.
func (g *Gateway) callUpstream(ctx context.Context, deploymentID string, a adapter.ProviderAdapter, endpoint, providerKey string, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if g.breakers != nil {
		if err := g.breakers.Allow(deploymentID); err != nil {
			return nil, fmt.Errorf("%w: deployment %s", err, deploymentID)
		}
	}

	resp, err := g.doUpstream(ctx, a, endpoint, providerKey, req)
	if g.breakers != nil {
		if err != nil {
			g.breakers.RecordFailure(deploymentID)
		} else {
			g.breakers.RecordSuccess(deploymentID)
		}
	}
	return resp, err
}

func (g *Gateway) doUpstream(ctx context.Context, a adapter.ProviderAdapter, endpoint, providerKey string, req adapter.ChatRequest) (*adapter.ChatResponse, error) {
	if di, ok := a.(adapter.DirectInvoker); ok {
		return di.Invoke(ctx, req)
	}

	body, err := a.TransformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BuildURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	for k, values := range a.Headers(providerKey) {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read upstream response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}

	chatResp, err := a.TransformResponse(respBody)
	if err != nil {
		return nil, fmt.Errorf("failed to parse upstream response: %w", err)
	}
	return chatResp, nil
}

// openUpstreamStream opens the upstream POST with req.Stream set and
// returns the live *http.Response without reading its body, so the caller
// can relay bytes as they arrive instead of buffering the whole reply.
// The caller owns resp.Body and must close it.
func (g *Gateway) openUpstreamStream(ctx context.Context, a adapter.ProviderAdapter, endpoint, providerKey string, req adapter.ChatRequest) (*http.Response, error) {
	req.Stream = true
	body, err := a.TransformRequest(req)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BuildURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream request: %w", err)
	}
	for k, values := range a.Headers(providerKey) {
		for _, v := range values {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return resp, nil
}

// resolveProviderKey picks the credential to present upstream, out of the
// deployment's own configuration, never the caller's gateway API key: a
// caller's key authenticates to this gateway, not to the upstream
// provider. nosana deployments use a shared internal key instead of a
// per-deployment credential, per the provisioning flow in
// orchestrator/deploy.
func (g *Gateway) resolveProviderKey(rc *resolver.Context) string {
	if rc.Deployment.Engine == "nosana" && g.nosanaInternalAPIKey != "" {
		return g.nosanaInternalAPIKey
	}
	cfg := rc.Deployment.Configuration
	if cfg == nil {
		return ""
	}
	for _, key := range []string{"api_key", "key", "token"} {
		if v, ok := cfg[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// resolveProviderKeyRef extends resolveProviderKey with a credentials_ref
// indirection: when a deployment carries no inline key but does carry
// configuration.credentials_ref, it's looked up through the Gateway's
// CredentialResolver (Secrets Manager, Key Vault, ...) instead.
func (g *Gateway) resolveProviderKeyRef(ctx context.Context, rc *resolver.Context) (string, error) {
	if key := g.resolveProviderKey(rc); key != "" {
		return key, nil
	}
	if g.credentials == nil {
		return "", nil
	}
	cfg := rc.Deployment.Configuration
	if cfg == nil {
		return "", nil
	}
	ref, ok := cfg["credentials_ref"].(string)
	if !ok || ref == "" {
		return "", nil
	}
	return g.credentials.Resolve(ctx, ref)
}
