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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNosanaAdapterProvisionNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/jobs/launch" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jobAddress":  "job-abc123",
			"txSignature": "tx-1",
		})
	}))
	defer srv.Close()

	a := NewNosanaAdapter(srv.URL, "")
	result, err := a.ProvisionNode(context.Background(), ProvisionParams{
		PoolID: "market-address",
		Metadata: map[string]any{
			"image":    "docker.io/vllm/vllm-openai:latest",
			"model_id": "meta-llama/Meta-Llama-3-8B-Instruct",
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ProviderInstanceID != "job-abc123" {
		t.Fatalf("expected job address job-abc123, got %s", result.ProviderInstanceID)
	}
	if result.Hostname != "abc123" && result.Hostname != "nosana-abc123" {
		t.Fatalf("unexpected hostname: %s", result.Hostname)
	}
}

func TestNosanaAdapterProvisionNodeRequiresImage(t *testing.T) {
	a := NewNosanaAdapter("http://unused", "")
	_, err := a.ProvisionNode(context.Background(), ProvisionParams{Metadata: map[string]any{}})
	if err == nil {
		t.Fatal("expected an error when metadata.image is missing")
	}
}

func TestNosanaAdapterWaitForReadyReturnsExposeURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"state":     "active",
			"exposeUrl": "http://nosana-job.example.com",
		})
	}))
	defer srv.Close()

	a := NewNosanaAdapter(srv.URL, "")
	url, err := a.WaitForReady(context.Background(), "job-abc123", 2*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "http://nosana-job.example.com" {
		t.Fatalf("unexpected expose url: %s", url)
	}
}

func TestNosanaAdapterWaitForReadyFailsOnClosedState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"state": "closed"})
	}))
	defer srv.Close()

	a := NewNosanaAdapter(srv.URL, "")
	_, err := a.WaitForReady(context.Background(), "job-abc123", 2*time.Second)
	if err == nil {
		t.Fatal("expected an error for a closed job")
	}
}

func TestAkashAdapterProvisionNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"deploymentId": "dseq-1",
			"leaseId":      "lease-1",
			"exposeUrl":    "http://akash-dep.example.com",
		})
	}))
	defer srv.Close()

	a := NewAkashAdapter(srv.URL, "")
	result, err := a.ProvisionNode(context.Background(), ProvisionParams{
		Metadata: map[string]any{"image": "docker.io/vllm/vllm-openai:v0.14.0"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExposeURL != "http://akash-dep.example.com" {
		t.Fatalf("unexpected expose url: %s", result.ExposeURL)
	}
	if result.NodeClass != "dynamic" {
		t.Fatalf("expected dynamic node class, got %s", result.NodeClass)
	}
}

func TestAkashAdapterCapabilitiesAreEphemeral(t *testing.T) {
	a := NewAkashAdapter("http://unused", "")
	if !a.Capabilities().IsEphemeral {
		t.Fatal("akash capacity should be marked ephemeral")
	}
	if a.Capabilities().PricingModel != PricingAuction {
		t.Fatalf("expected auction pricing, got %s", a.Capabilities().PricingModel)
	}
}
