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
	"testing"

	"inferia/core/orchestrator/resolver"
	"inferia/core/shared/types"
)

type fakeDeploymentLister struct {
	byOrg map[string][]*types.Deployment
}

func (f *fakeDeploymentLister) List(_ context.Context, orgID string) ([]*types.Deployment, error) {
	return f.byOrg[orgID], nil
}

func TestListModelsReturnsOnlyRunningDeployments(t *testing.T) {
	dep := &resolver.Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4", Endpoint: "https://upstream", Engine: "openai"}
	gw := New(Config{
		Resolver: newTestResolver(dep, "sk-live-1"),
		Deployments: &fakeDeploymentLister{byOrg: map[string][]*types.Deployment{
			"org-1": {
				{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4", Engine: types.Engine("openai"), State: types.StateRunning},
				{ID: "dep-2", OrgID: "org-1", ModelName: "llama-3", Engine: types.Engine("vllm"), State: types.StatePending},
			},
		}},
	})

	models, err := gw.ListModels(context.Background(), "sk-live-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gpt-4" {
		t.Fatalf("expected only the running gpt-4 deployment, got %+v", models)
	}
}

func TestListModelsInvalidKeyFails(t *testing.T) {
	dep := &resolver.Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4", Endpoint: "https://upstream", Engine: "openai"}
	gw := New(Config{
		Resolver:    newTestResolver(dep, "sk-live-1"),
		Deployments: &fakeDeploymentLister{},
	})

	_, err := gw.ListModels(context.Background(), "sk-wrong")
	if !errors.Is(err, resolver.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
