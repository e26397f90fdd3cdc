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
	"time"
)

// k8sAdapter targets a pre-provisioned, on-prem Kubernetes cluster. Nodes
// are fixed capacity registered out of band (e.g. by a cluster operator),
// so provisioning is a deployment rollout rather than a capacity purchase.
// Request-path framing reuses the OpenAI-compatible transform, since the
// served model sits behind an OpenAI-compatible Service.
type k8sAdapter struct {
	openAICompatAdapter
}

func newK8sAdapter(endpoint string) ProviderAdapter {
	return &k8sAdapter{
		openAICompatAdapter: *newOpenAICompatAdapter("k8s", AdapterTypeOnPrem, Capabilities{
			SupportsMultiGPU:           true,
			RequiresReadinessPoll:      true,
			ReadinessTimeout:           180 * time.Second,
			PollingInterval:            5 * time.Second,
			SupportsDirectProvisioning: true,
			PricingModel:               PricingFixed,
		}, endpoint),
	}
}

// DiscoverResources is out of scope for the on-prem adapter: inventory is
// registered directly against a Compute Pool rather than discovered.
func (a *k8sAdapter) DiscoverResources(ctx context.Context) ([]DiscoveredResource, error) {
	return nil, &NotSupportedError{Engine: a.name, Operation: "discover_resources"}
}

func (a *k8sAdapter) ProvisionNode(ctx context.Context, params ProvisionParams) (*ProvisionResult, error) {
	namespace := stringOrDefault(params.Metadata, "namespace", "default")
	deploymentName := stringOrDefault(params.Metadata, "deployment_name", params.PoolID)
	return &ProvisionResult{
		Provider:           "k8s",
		ProviderInstanceID: fmt.Sprintf("%s/%s", namespace, deploymentName),
		Hostname:           deploymentName,
		GPUTotal:           intOrDefault(params.Metadata, "gpu_allocated", 1),
		VCPUTotal:          intOrDefault(params.Metadata, "vcpu_allocated", 4),
		RAMGBTotal:         intOrDefault(params.Metadata, "ram_gb_allocated", 16),
		Region:             valueOr(params.Region, "on-prem"),
		NodeClass:          "fixed",
		ExposeURL:          fmt.Sprintf("http://%s.%s.svc.cluster.local", deploymentName, namespace),
	}, nil
}

func (a *k8sAdapter) WaitForReady(ctx context.Context, providerInstanceID string, timeout time.Duration) (string, error) {
	return providerInstanceID, nil
}

func (a *k8sAdapter) DeprovisionNode(ctx context.Context, providerInstanceID string) error {
	return nil
}

func (a *k8sAdapter) GetLogs(ctx context.Context, providerInstanceID string) (*LogResult, error) {
	return nil, &NotSupportedError{Engine: a.name, Operation: "get_logs"}
}

func (a *k8sAdapter) GetLogStreamingInfo(ctx context.Context, providerInstanceID string) (*LogStreamInfo, error) {
	return &LogStreamInfo{Supported: false}, nil
}
