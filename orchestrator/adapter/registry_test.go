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

func TestRegistryGetKnownEngine(t *testing.T) {
	r := NewRegistry()
	a, err := r.Get("vllm", "https://deployment.example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name() != "vllm" {
		t.Fatalf("expected vllm adapter, got %s", a.Name())
	}
}

func TestRegistryGetUnknownEngineErrors(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("does-not-exist", "")
	if err == nil {
		t.Fatal("expected an error for an unregistered engine")
	}
}

func TestRegistrySidecarEnginesWireAfterRegistration(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Get("nosana", ""); err == nil {
		t.Fatal("nosana should not resolve before sidecar URLs are registered")
	}

	r.RegisterSidecarURLs("http://nosana-sidecar", "http://akash-sidecar")

	a, err := r.Get("nosana", "")
	if err != nil {
		t.Fatalf("unexpected error after registering sidecar URLs: %v", err)
	}
	if a.Name() != "nosana" {
		t.Fatalf("expected nosana adapter, got %s", a.Name())
	}
	if !a.Capabilities().IsEphemeral {
		t.Fatal("nosana adapter should report ephemeral capacity")
	}
}

func TestRegistryRegisterOverridesFactory(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("vllm", func(endpoint string) ProviderAdapter {
		called = true
		return newOpenAICompatAdapter("vllm", AdapterTypeOnPrem, Capabilities{}, endpoint)
	})
	if _, err := r.Get("vllm", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("expected overridden factory to be invoked")
	}
}
