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

package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"
)

type fakeAPIKeyStore struct {
	records map[string]*APIKeyRecord // keyed by raw key, hashed internally in the test
	calls   int
}

func newFakeAPIKeyStore() *fakeAPIKeyStore {
	return &fakeAPIKeyStore{records: make(map[string]*APIKeyRecord)}
}

func (f *fakeAPIKeyStore) addKey(rawKey string, rec *APIKeyRecord) {
	hash := sha256.Sum256([]byte(rawKey))
	f.records[hex.EncodeToString(hash[:])] = rec
}

func (f *fakeAPIKeyStore) LookupByHash(_ context.Context, keyHash string) (*APIKeyRecord, error) {
	f.calls++
	return f.records[keyHash], nil
}

type fakeDeploymentStore struct {
	deployment *Deployment
	calls      int
}

func (f *fakeDeploymentStore) FindDeployment(_ context.Context, orgID, modelName, requiredDeploymentID string) (*Deployment, error) {
	f.calls++
	if f.deployment == nil {
		return nil, nil
	}
	if f.deployment.OrgID != orgID || f.deployment.ModelName != modelName {
		return nil, nil
	}
	if requiredDeploymentID != "" && f.deployment.ID != requiredDeploymentID {
		return nil, ErrDeploymentMismatch
	}
	d := *f.deployment
	return &d, nil
}

type fakePolicyStore struct {
	org        map[string]map[string]any
	deployment map[string]map[string]any
}

func newFakePolicyStore() *fakePolicyStore {
	return &fakePolicyStore{org: map[string]map[string]any{}, deployment: map[string]map[string]any{}}
}

func (f *fakePolicyStore) FetchPolicy(_ context.Context, orgID, deploymentID, policyType string) (map[string]any, bool, error) {
	if deploymentID != "" {
		cfg, ok := f.deployment[deploymentID+":"+policyType]
		if ok {
			return cfg, true, nil
		}
		return nil, false, nil
	}
	cfg, ok := f.org[orgID+":"+policyType]
	return cfg, ok, nil
}

func setupResolver(ttlSeconds float64, maxEntries int) (*Resolver, *fakeAPIKeyStore, *fakeDeploymentStore, *fakePolicyStore) {
	keys := newFakeAPIKeyStore()
	deployments := &fakeDeploymentStore{}
	policies := newFakePolicyStore()
	r := New(keys, deployments, policies, ttlSeconds, maxEntries)
	return r, keys, deployments, policies
}

func TestResolveUnknownKeyReturnsErrUnauthorized(t *testing.T) {
	r, _, _, _ := setupResolver(30, 1000)

	_, err := r.Resolve(context.Background(), "bogus-key", "gpt-4")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for an unknown key, got %v", err)
	}
}

func TestResolveUnknownModelReturnsErrNotFound(t *testing.T) {
	r, keys, _, _ := setupResolver(30, 1000)
	keys.addKey("sk-live-1", &APIKeyRecord{KeyID: "key-1", OrgID: "org-1"})

	_, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound when no deployment matches the model name, got %v", err)
	}
}

func TestResolveDeploymentScopedKeyAgainstOtherDeploymentReturnsErrForbidden(t *testing.T) {
	r, keys, deployments, _ := setupResolver(30, 1000)
	keys.addKey("sk-live-1", &APIKeyRecord{KeyID: "key-1", OrgID: "org-1", DeploymentID: "dep-other"})
	deployments.deployment = &Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4"}

	_, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4")
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden when the key is scoped to a different deployment, got %v", err)
	}
}

func TestResolveSuccessMergesDeploymentOverOrgPolicy(t *testing.T) {
	r, keys, deployments, policies := setupResolver(30, 1000)
	keys.addKey("sk-live-1", &APIKeyRecord{KeyID: "key-1", OrgID: "org-1", LogPayloads: true})
	deployments.deployment = &Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4", Endpoint: "https://upstream", Engine: "openai"}
	policies.org["org-1:guardrail"] = map[string]any{"enabled": true, "pii_enabled": false}
	policies.deployment["dep-1:guardrail"] = map[string]any{"enabled": true, "pii_enabled": true}

	ctxResult, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ctxResult.GuardrailCfg.PIIEnabled {
		t.Fatal("expected deployment-scoped policy to override org-scoped policy")
	}
	if ctxResult.UserIDContext != "apikey:key-1" {
		t.Fatalf("expected user id context apikey:key-1, got %q", ctxResult.UserIDContext)
	}
}

func TestResolveUsesOrgPolicyWhenNoDeploymentOverride(t *testing.T) {
	r, keys, deployments, policies := setupResolver(30, 1000)
	keys.addKey("sk-live-1", &APIKeyRecord{KeyID: "key-1", OrgID: "org-1"})
	deployments.deployment = &Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4"}
	policies.org["org-1:rate_limit"] = map[string]any{"enabled": true, "rpm": float64(60)}

	ctxResult, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctxResult.RateLimitCfg.RPM != 60 {
		t.Fatalf("expected rpm 60 from org policy, got %d", ctxResult.RateLimitCfg.RPM)
	}
}

func TestResolveCachesSuccessfulResult(t *testing.T) {
	r, keys, deployments, _ := setupResolver(30, 1000)
	keys.addKey("sk-live-1", &APIKeyRecord{KeyID: "key-1", OrgID: "org-1"})
	deployments.deployment = &Deployment{ID: "dep-1", OrgID: "org-1", ModelName: "gpt-4"}

	if _, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "sk-live-1", "gpt-4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deployments.calls != 1 {
		t.Fatalf("expected deployment store to be hit once due to caching, got %d calls", deployments.calls)
	}
}

func TestResolveDoesNotCacheNegativeResult(t *testing.T) {
	r, keys, _, _ := setupResolver(30, 1000)

	_, _ = r.Resolve(context.Background(), "sk-nope", "gpt-4")
	_, _ = r.Resolve(context.Background(), "sk-nope", "gpt-4")

	if keys.calls != 2 {
		t.Fatalf("expected every failed resolve to re-hit the api key store, got %d calls", keys.calls)
	}
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	c := newCache(0.01, 1000) // 10ms TTL
	c.set("k", &Context{OrgID: "org-1"})

	if _, ok := c.get("k"); !ok {
		t.Fatal("expected entry present immediately after set")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok := c.get("k"); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestCacheEvictsLeastRecentlyUsedBeyondBound(t *testing.T) {
	c := newCache(30, 2)
	c.set("a", &Context{OrgID: "a"})
	c.set("b", &Context{OrgID: "b"})
	c.get("a") // touch a, making b the least recently used
	c.set("c", &Context{OrgID: "c"})

	if _, ok := c.get("b"); ok {
		t.Fatal("expected b to be evicted as least recently used")
	}
	if _, ok := c.get("a"); !ok {
		t.Fatal("expected a to survive since it was touched")
	}
	if _, ok := c.get("c"); !ok {
		t.Fatal("expected c to be present as the newest entry")
	}
}
