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

import "testing"

func TestOpenAICompatAdapterTransformRequest(t *testing.T) {
	a := newOpenAICompatAdapter("vllm", AdapterTypeOnPrem, Capabilities{}, "https://dep.example.com")

	body, err := a.TransformRequest(ChatRequest{
		Model:       "llama-3-8b",
		Messages:    []ChatMessage{{Role: "user", Content: "hello"}},
		MaxTokens:   128,
		Temperature: 0.2,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty request body")
	}
}

func TestOpenAICompatAdapterTransformResponse(t *testing.T) {
	a := newOpenAICompatAdapter("vllm", AdapterTypeOnPrem, Capabilities{}, "https://dep.example.com")

	raw := []byte(`{
		"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 5, "completion_tokens": 3, "total_tokens": 8}
	}`)

	resp, err := a.TransformResponse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("expected content %q, got %q", "hi there", resp.Content)
	}
	if resp.TotalTokens != 8 {
		t.Fatalf("expected total tokens 8, got %d", resp.TotalTokens)
	}
}

func TestOpenAICompatAdapterHeaders(t *testing.T) {
	a := newOpenAICompatAdapter("vllm", AdapterTypeOnPrem, Capabilities{}, "https://dep.example.com")

	h := a.Headers("sk-test")
	if h.Get("Authorization") != "Bearer sk-test" {
		t.Fatalf("expected bearer auth header, got %q", h.Get("Authorization"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Fatalf("expected json content type, got %q", h.Get("Content-Type"))
	}
}

func TestOpenAICompatAdapterControlPathUnsupported(t *testing.T) {
	a := newOpenAICompatAdapter("vllm", AdapterTypeOnPrem, Capabilities{}, "https://dep.example.com")

	if _, err := a.DiscoverResources(nil); err == nil {
		t.Fatal("expected discover_resources to be unsupported")
	}
	if _, err := a.ProvisionNode(nil, ProvisionParams{}); err == nil {
		t.Fatal("expected provision_node to be unsupported")
	}
}
