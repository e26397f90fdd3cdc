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

// Nosana and Akash are DePIN markets: a sidecar process speaks the chain
// protocol (Solana for Nosana, Cosmos SDK for Akash) and exposes a small
// REST surface the control plane drives. Both adapters are_ephemeral: once
// a job or lease closes on the chain, nothing in this process evicts it;
// heartbeat reconciliation (see deploy.HeartbeatReconciler) is what notices.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type sidecarClient struct {
	baseURL string
	http    *http.Client
}

func newSidecarClient(baseURL string) *sidecarClient {
	return &sidecarClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *sidecarClient) postJSON(ctx context.Context, path string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *sidecarClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *sidecarClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sidecar request failed: %d: %s", resp.StatusCode, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// nosanaAdapter drives the Nosana sidecar. ProviderResourceID is a Nosana
// market slug; PoolID is the on-chain market address.
type nosanaAdapter struct {
	openAICompatAdapter
	sidecar *sidecarClient
}

// NewNosanaAdapter builds the Nosana DePIN adapter. sidecarURL points at
// the process that signs and submits Solana transactions on the
// platform's behalf; endpoint is the base URL the request path uses once a
// job is running (its vLLM/Ollama container, so request-path framing
// reuses the OpenAI-compatible transform).
func NewNosanaAdapter(sidecarURL, endpoint string) ProviderAdapter {
	return &nosanaAdapter{
		openAICompatAdapter: *newOpenAICompatAdapter("nosana", AdapterTypeDePIN, Capabilities{
			SupportsMultiGPU:           false,
			IsEphemeral:                true,
			RequiresReadinessPoll:      true,
			ReadinessTimeout:           300 * time.Second,
			PollingInterval:            20 * time.Second,
			RequiresSidecar:            true,
			SupportsDirectProvisioning: true,
			PricingModel:               PricingFixed,
		}, endpoint),
		sidecar: newSidecarClient(sidecarURL),
	}
}

func (a *nosanaAdapter) DiscoverResources(ctx context.Context) ([]DiscoveredResource, error) {
	var markets []struct {
		Slug             string   `json:"slug"`
		Address          string   `json:"address"`
		GPUTypes         []string `json:"gpu_types"`
		LowestVRAM       int      `json:"lowest_vram"`
		USDRewardPerHour float64  `json:"usd_reward_per_hour"`
	}
	if err := a.sidecar.getJSON(ctx, "/markets", &markets); err != nil {
		return nil, fmt.Errorf("nosana discover_resources: %w", err)
	}

	resources := make([]DiscoveredResource, 0, len(markets))
	for _, m := range markets {
		gpuType := "unknown"
		if len(m.GPUTypes) > 0 {
			gpuType = m.GPUTypes[0]
		}
		resources = append(resources, DiscoveredResource{
			Provider:           "nosana",
			ProviderResourceID: m.Slug,
			GPUType:            gpuType,
			GPUCount:           1,
			GPUMemoryGB:        m.LowestVRAM,
			VCPU:               8,
			RAMGB:              32,
			Region:             "global",
			PricingModel:       PricingFixed,
			PricePerHour:       m.USDRewardPerHour,
			Metadata:           map[string]any{"market_address": m.Address},
		})
	}
	return resources, nil
}

func (a *nosanaAdapter) ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	image, _ := params.Metadata["image"].(string)
	if image == "" {
		return nil, fmt.Errorf("nosana provision_node: metadata.image is required")
	}

	jobDefinition, err := buildVLLMJobDefinition(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("nosana provision_node: %w", err)
	}

	gpuAllocated := intOrDefault(params.Metadata, "gpu_allocated", 1)
	vcpuAllocated := intOrDefault(params.Metadata, "vcpu_allocated", 8)
	ramAllocated := intOrDefault(params.Metadata, "ram_gb_allocated", 32)

	payload := map[string]any{
		"jobDefinition": jobDefinition,
		"marketAddress": params.PoolID,
		"resources_allocated": map[string]any{
			"gpu_allocated":    gpuAllocated,
			"vcpu_allocated":   vcpuAllocated,
			"ram_gb_allocated": ramAllocated,
		},
	}

	var resp struct {
		JobAddress   string `json:"jobAddress"`
		TxSignature  string `json:"txSignature"`
	}
	if err := a.sidecar.postJSON(ctx, "/jobs/launch", payload, &resp); err != nil {
		return nil, fmt.Errorf("nosana provision_node: %w", err)
	}

	hostname := "nosana-" + shortSuffix(resp.JobAddress, 6)
	return &ProvisionResult{
		Provider:           "nosana",
		ProviderInstanceID: resp.JobAddress,
		Hostname:           hostname,
		GPUTotal:           gpuAllocated,
		VCPUTotal:          vcpuAllocated,
		RAMGBTotal:         ramAllocated,
		Region:             "global",
		NodeClass:          "fixed",
		Metadata: map[string]any{
			"job_address": resp.JobAddress,
			"image":       image,
			"tx":          resp.TxSignature,
		},
	}, nil
}

func (a *nosanaAdapter) WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error) {
	return pollSidecarReady(ctx, a.sidecar, "/jobs/status/"+providerInstanceID, timeout, a.capabilities.PollingInterval)
}

func (a *nosanaAdapter) DeprovisionNode(ctx context.Context, providerInstanceID string) error {
	return a.sidecar.postJSON(ctx, "/jobs/stop", map[string]any{"jobAddress": providerInstanceID}, nil)
}

func (a *nosanaAdapter) GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error) {
	var resp struct {
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	if err := a.sidecar.getJSON(ctx, "/jobs/"+providerInstanceID+"/logs", &resp); err != nil {
		return &LogResult{Lines: []string{"failed to fetch logs from sidecar"}}, nil
	}
	return &LogResult{Lines: resp.Logs, Status: resp.Status}, nil
}

func (a *nosanaAdapter) GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error) {
	var job struct {
		NodeAddress string `json:"nodeAddress"`
		JobState    any    `json:"jobState"`
	}
	if err := a.sidecar.getJSON(ctx, "/jobs/"+providerInstanceID, &job); err != nil {
		return nil, fmt.Errorf("nosana get_log_streaming_info: %w", err)
	}
	return &LogStreamInfo{
		Supported: true,
		WSURL:     toWebsocketURL(a.sidecar.baseURL),
		Subscription: map[string]any{
			"type":        "subscribe_logs",
			"provider":    "nosana",
			"jobId":       providerInstanceID,
			"nodeAddress": job.NodeAddress,
		},
	}, nil
}

// akashAdapter drives the Akash sidecar, which submits SDL manifests and
// tracks lease state on the Akash/Cosmos chain.
type akashAdapter struct {
	openAICompatAdapter
	sidecar *sidecarClient
}

// NewAkashAdapter builds the Akash DePIN adapter.
func NewAkashAdapter(sidecarURL, endpoint string) ProviderAdapter {
	return &akashAdapter{
		openAICompatAdapter: *newOpenAICompatAdapter("akash", AdapterTypeDePIN, Capabilities{
			SupportsMultiGPU:           true,
			IsEphemeral:                true,
			RequiresReadinessPoll:      true,
			ReadinessTimeout:           600 * time.Second,
			PollingInterval:            30 * time.Second,
			RequiresSidecar:            true,
			SupportsDirectProvisioning: true,
			PricingModel:               PricingAuction,
		}, endpoint),
		sidecar: newSidecarClient(sidecarURL),
	}
}

func (a *akashAdapter) DiscoverResources(ctx context.Context) ([]DiscoveredResource, error) {
	var stats struct {
		AvgPricePerHour  float64 `json:"avg_price_per_hour"`
		TotalProviders   int     `json:"total_providers"`
		AvailableGPUs    int     `json:"available_gpus"`
	}
	if err := a.sidecar.getJSON(ctx, "/network/stats", &stats); err != nil {
		return []DiscoveredResource{{
			Provider:           "akash",
			ProviderResourceID: "akash-gpu-market",
			GPUType:            "Various",
			Region:             "global",
			PricingModel:       PricingAuction,
		}}, nil
	}
	return []DiscoveredResource{{
		Provider:           "akash",
		ProviderResourceID: "akash-gpu-market",
		GPUType:            "Various",
		Region:             "global",
		PricingModel:       PricingAuction,
		PricePerHour:       stats.AvgPricePerHour,
		Metadata: map[string]any{
			"total_providers": stats.TotalProviders,
			"available_gpus":  stats.AvailableGPUs,
		},
	}}, nil
}

func (a *akashAdapter) ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	sdl, image, gpuUnits, cpuUnits, ramGB := buildInferenceSDL(params.Metadata)

	var resp struct {
		DeploymentID string `json:"deploymentId"`
		LeaseID      string `json:"leaseId"`
		ExposeURL    string `json:"exposeUrl"`
	}
	if err := a.sidecar.postJSON(ctx, "/deployments/create", map[string]any{
		"sdl":      sdl,
		"metadata": params.Metadata,
	}, &resp); err != nil {
		return nil, fmt.Errorf("akash provision_node: %w", err)
	}

	exposeURL := resp.ExposeURL
	if exposeURL == "" {
		exposeURL = fmt.Sprintf("http://%s.akash-provider.com:80", resp.DeploymentID)
	}

	return &ProvisionResult{
		Provider:           "akash",
		ProviderInstanceID: resp.DeploymentID,
		Hostname:           "akash-" + resp.DeploymentID,
		GPUTotal:           gpuUnits,
		VCPUTotal:          cpuUnits,
		RAMGBTotal:         ramGB,
		Region:             valueOr(params.Region, "global"),
		NodeClass:          "dynamic",
		ExposeURL:          exposeURL,
		Metadata: map[string]any{
			"lease_id": resp.LeaseID,
			"image":    image,
		},
	}, nil
}

func (a *akashAdapter) WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error) {
	return pollSidecarReady(ctx, a.sidecar, "/deployments/status/"+providerInstanceID, timeout, a.capabilities.PollingInterval)
}

func (a *akashAdapter) DeprovisionNode(ctx context.Context, providerInstanceID string) error {
	return a.sidecar.postJSON(ctx, "/deployments/close", map[string]any{"deploymentId": providerInstanceID}, nil)
}

func (a *akashAdapter) GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error) {
	var resp struct {
		Status string   `json:"status"`
		Logs   []string `json:"logs"`
	}
	if err := a.sidecar.getJSON(ctx, "/deployments/"+providerInstanceID+"/logs", &resp); err != nil {
		return &LogResult{Lines: []string{"failed to fetch logs from provider"}}, nil
	}
	return &LogResult{Lines: resp.Logs, Status: resp.Status}, nil
}

func (a *akashAdapter) GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error) {
	return &LogStreamInfo{Supported: false}, nil
}

// pollSidecarReady is the shared readiness loop both DePIN adapters use:
// poll a status endpoint until it reports an active/ready state, a
// terminal failure state, or the timeout elapses.
func pollSidecarReady(ctx context.Context, sidecar *sidecarClient, statusPath string, timeout, interval time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	if interval <= 0 {
		interval = 20 * time.Second
	}

	for {
		var status struct {
			State     string `json:"state"`
			ExposeURL string `json:"exposeUrl"`
		}
		if err := sidecar.getJSON(ctx, statusPath, &status); err == nil {
			switch status.State {
			case "active", "ready":
				if status.ExposeURL != "" {
					return status.ExposeURL, nil
				}
				return "ready", nil
			case "closed", "failed":
				return "", fmt.Errorf("deployment %s", status.State)
			}
		}

		if time.Now().After(deadline) {
			return "", fmt.Errorf("timed out after %s waiting for readiness", timeout)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
}

func intOrDefault(m map[string]any, key string, def int) int {
	if m == nil {
		return def
	}
	switch v := m[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func valueOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func shortSuffix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func toWebsocketURL(httpURL string) string {
	switch {
	case len(httpURL) >= 5 && httpURL[:5] == "https":
		return "wss" + httpURL[5:]
	case len(httpURL) >= 4 && httpURL[:4] == "http":
		return "ws" + httpURL[4:]
	default:
		return httpURL
	}
}
