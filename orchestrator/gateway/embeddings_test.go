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
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/resolver"
)

// fakeEmbeddingsAdapter embeds fakeProviderAdapter so it satisfies the
// full ProviderAdapter contract, and additionally implements
// adapter.EmbeddingsAdapter by talking to a real httptest server,
// exercising the gateway's HTTP plumbing end to end.
type fakeEmbeddingsAdapter struct {
	fakeProviderAdapter
	serverURL string
}

func (a *fakeEmbeddingsAdapter) EmbeddingsURL(endpoint string) string {
	return a.serverURL + "/v1/embeddings"
}

func (a *fakeEmbeddingsAdapter) TransformEmbeddingsRequest(req adapter.EmbeddingsRequest) ([]byte, error) {
	return json.Marshal(req)
}

func (a *fakeEmbeddingsAdapter) TransformEmbeddingsResponse(body []byte) (*adapter.EmbeddingsResponse, error) {
	var resp adapter.EmbeddingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func TestEmbeddingsHappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req adapter.EmbeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode upstream request: %v", err)
		}
		resp := adapter.EmbeddingsResponse{
			Embeddings:   make([][]float64, len(req.Input)),
			PromptTokens: 7,
			TotalTokens:  7,
		}
		for i := range req.Input {
			resp.Embeddings[i] = []float64{float64(i), float64(i) + 0.5}
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	dep := &resolver.Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "embed-model", Endpoint: "https://upstream", Engine: "tei"}
	fakeAdapter := &fakeEmbeddingsAdapter{serverURL: srv.URL}
	gw, _ := newTestGateway(dep, "sk-live-1", fakeAdapter)

	resp, err := gw.Embeddings(context.Background(), "sk-live-1", EmbeddingsRequest{
		Model: "embed-model",
		Input: []string{"hello", "world"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Embeddings) != 2 {
		t.Fatalf("expected 2 embedding vectors, got %d", len(resp.Embeddings))
	}
	if resp.PromptTokens != 7 {
		t.Fatalf("expected prompt_tokens 7, got %d", resp.PromptTokens)
	}
	if resp.DeploymentID != "dep-1" {
		t.Fatalf("expected deployment id dep-1, got %q", resp.DeploymentID)
	}
}

func TestEmbeddingsRejectsEngineWithoutSupport(t *testing.T) {
	dep := &resolver.Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "chat-only", Endpoint: "https://upstream", Engine: "bedrock"}
	gw, _ := newTestGateway(dep, "sk-live-1", &fakeProviderAdapter{})

	_, err := gw.Embeddings(context.Background(), "sk-live-1", EmbeddingsRequest{
		Model: "chat-only",
		Input: []string{"hello"},
	})
	if !errors.Is(err, ErrEmbeddingsNotSupported) {
		t.Fatalf("expected ErrEmbeddingsNotSupported, got %v", err)
	}
}

func TestEmbeddingsRejectsEmptyInput(t *testing.T) {
	dep := &resolver.Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "embed-model", Endpoint: "https://upstream", Engine: "tei"}
	gw, _ := newTestGateway(dep, "sk-live-1", &fakeEmbeddingsAdapter{})

	_, err := gw.Embeddings(context.Background(), "sk-live-1", EmbeddingsRequest{Model: "embed-model"})
	if err == nil {
		t.Fatal("expected an error for empty input")
	}
}
