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

package deploy

import (
	"context"
	"testing"

	"inferia/core/shared/types"
)

type fakeStore struct {
	rows map[string]*types.Deployment
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*types.Deployment)}
}

func (s *fakeStore) Create(ctx context.Context, d *types.Deployment) error {
	cp := *d
	s.rows[d.ID] = &cp
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*types.Deployment, error) {
	d, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) List(ctx context.Context, orgID string) ([]*types.Deployment, error) {
	var out []*types.Deployment
	for _, d := range s.rows {
		if d.OrgID == orgID {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) Update(ctx context.Context, d *types.Deployment) error {
	if _, ok := s.rows[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	s.rows[d.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateStateIf(ctx context.Context, id string, expected, newState types.DeploymentState) error {
	d, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	if d.State != expected {
		return ErrCASFailed
	}
	d.State = newState
	return nil
}

func (s *fakeStore) UpdateEndpoint(ctx context.Context, id, endpoint string) error {
	d, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	d.Endpoint = endpoint
	return nil
}

func (s *fakeStore) AttachNodeIDs(ctx context.Context, id string, nodeIDs []string) error {
	d, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	d.NodeIDs = append(d.NodeIDs, nodeIDs...)
	return nil
}

func (s *fakeStore) AttachAllocationIDs(ctx context.Context, id string, allocationIDs []string) error {
	d, ok := s.rows[id]
	if !ok {
		return ErrNotFound
	}
	d.AllocationIDs = append(d.AllocationIDs, allocationIDs...)
	return nil
}

type fakeOutbox struct {
	events []string
}

func (o *fakeOutbox) Write(ctx context.Context, aggregateID, eventType string, payload map[string]any) error {
	o.events = append(o.events, eventType)
	return nil
}

type fakeBus struct {
	published []string
}

func (b *fakeBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	b.published = append(b.published, topic)
	return nil
}

func TestDeployModelInferenceStartsPending(t *testing.T) {
	store := newFakeStore()
	outbox := &fakeOutbox{}
	bus := &fakeBus{}
	c := NewController(store, outbox, bus)

	id, err := c.DeployModel(context.Background(), DeployModelParams{
		ModelName:    "llama-3",
		OrgID:        "org-1",
		WorkloadType: types.WorkloadInference,
		Engine:       types.EngineVLLM,
		PoolID:       "pool-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), id)
	if d.State != types.StatePending {
		t.Fatalf("expected PENDING, got %s", d.State)
	}
	if len(bus.published) != 1 || bus.published[0] != EventDeployRequested {
		t.Fatalf("expected one deploy-requested publish, got %v", bus.published)
	}
}

func TestDeployModelExternalStartsRunningAndSkipsPublish(t *testing.T) {
	store := newFakeStore()
	outbox := &fakeOutbox{}
	bus := &fakeBus{}
	c := NewController(store, outbox, bus)

	id, err := c.DeployModel(context.Background(), DeployModelParams{
		ModelName:    "gpt-4o",
		OrgID:        "org-1",
		WorkloadType: types.WorkloadExternal,
		Engine:       types.EngineOpenAI,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d, _ := store.Get(context.Background(), id)
	if d.State != types.StateRunning {
		t.Fatalf("expected RUNNING, got %s", d.State)
	}
	if len(bus.published) != 0 {
		t.Fatalf("external workloads must not publish a deploy-requested event, got %v", bus.published)
	}
}

func TestRequestDeleteIsIdempotent(t *testing.T) {
	store := newFakeStore()
	outbox := &fakeOutbox{}
	bus := &fakeBus{}
	c := NewController(store, outbox, bus)

	id, _ := c.DeployModel(context.Background(), DeployModelParams{
		ModelName: "llama-3", OrgID: "org-1",
		WorkloadType: types.WorkloadInference, Engine: types.EngineVLLM,
	})
	store.rows[id].State = types.StateRunning

	if err := c.RequestDelete(context.Background(), id); err != nil {
		t.Fatalf("first delete: unexpected error: %v", err)
	}
	d, _ := store.Get(context.Background(), id)
	if d.State != types.StateTerminating {
		t.Fatalf("expected TERMINATING, got %s", d.State)
	}

	if err := c.RequestDelete(context.Background(), id); err != nil {
		t.Fatalf("second delete must be a no-op, got error: %v", err)
	}
}

func TestRequestDeleteOnTerminalStateIsNoop(t *testing.T) {
	store := newFakeStore()
	outbox := &fakeOutbox{}
	bus := &fakeBus{}
	c := NewController(store, outbox, bus)

	id, _ := c.DeployModel(context.Background(), DeployModelParams{
		ModelName: "llama-3", OrgID: "org-1",
		WorkloadType: types.WorkloadInference, Engine: types.EngineVLLM,
	})
	store.rows[id].State = types.StateStopped
	// DeployModel already wrote its own deployment-requested event.
	outbox.events = nil

	if err := c.RequestDelete(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(outbox.events) != 0 {
		t.Fatalf("expected no outbox events for an already-terminal deployment, got %v", outbox.events)
	}
}
