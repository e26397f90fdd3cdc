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
	"fmt"

	"inferia/core/shared/types"
)

// DeploymentLister is satisfied by *orchestrator/deploy.Controller; kept as
// a narrow interface here so the gateway only depends on the one method it
// actually calls.
type DeploymentLister interface {
	List(ctx context.Context, orgID string) ([]*types.Deployment, error)
}

// ModelInfo is one entry in a ListModels response, modeled on the OpenAI
// /v1/models list shape.
type ModelInfo struct {
	ID       string
	OwnedBy  string
	Engine   string
	State    string
}

// ListModels returns every RUNNING (or externally-hosted) deployment the
// caller's org owns, under the model name clients pass as "model" on a
// completions call.
func (g *Gateway) ListModels(ctx context.Context, apiKey string) ([]ModelInfo, error) {
	if g.deployments == nil {
		return nil, fmt.Errorf("gateway: no deployment lister configured")
	}

	orgID, err := g.resolver.AuthenticateOrgID(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	deployments, err := g.deployments.List(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}

	models := make([]ModelInfo, 0, len(deployments))
	for _, d := range deployments {
		if d.State != types.StateRunning {
			continue
		}
		models = append(models, ModelInfo{
			ID:      d.ModelName,
			OwnedBy: d.OrgID,
			Engine:  string(d.Engine),
			State:   string(d.State),
		})
	}
	return models, nil
}
