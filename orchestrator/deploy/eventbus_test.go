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
	"time"
)

func TestInMemoryBusDeliversToSubscriber(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe(EventDeployRequested)

	if err := bus.Publish(context.Background(), EventDeployRequested, map[string]any{"deployment_id": "dep-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-ch:
		if payload["deployment_id"] != "dep-1" {
			t.Fatalf("unexpected payload: %v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestInMemoryBusIgnoresUnrelatedTopics(t *testing.T) {
	bus := NewInMemoryBus()
	ch := bus.Subscribe(EventDeployRequested)

	if err := bus.Publish(context.Background(), EventTerminateRequested, map[string]any{"deployment_id": "dep-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case payload := <-ch:
		t.Fatalf("did not expect a delivery on an unrelated topic, got %v", payload)
	case <-time.After(50 * time.Millisecond):
	}
}
