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
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
)

// RedisEventBus publishes deployment lifecycle events over Redis Pub/Sub.
// No message-broker client appears anywhere in the dependency set this
// module was built from, but go-redis already does — it is used both for
// rate limiting and as a generic connector — so Pub/Sub on that same
// client is the in-pack way to move these events between the Controller
// and Worker processes rather than introducing an unrelated broker.
type RedisEventBus struct {
	client *redis.Client
}

// NewRedisEventBus wraps an existing client. The caller owns its
// lifecycle (Close etc.).
func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	return &RedisEventBus{client: client}
}

func (b *RedisEventBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if err := b.client.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event on %s: %w", topic, err)
	}
	return nil
}

// Subscribe listens on topic until ctx is canceled, invoking handler for
// each decoded payload. Handler errors are not fatal to the subscription;
// they are returned to the caller through errs so the caller can decide
// whether to log-and-continue or tear the subscriber down.
func (b *RedisEventBus) Subscribe(ctx context.Context, topic string, handler func(context.Context, map[string]any) error) <-chan error {
	errs := make(chan error, 1)
	sub := b.client.Subscribe(ctx, topic)
	ch := sub.Channel()

	go func() {
		defer close(errs)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var payload map[string]any
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					errs <- fmt.Errorf("failed to decode event on %s: %w", topic, err)
					continue
				}
				if err := handler(ctx, payload); err != nil {
					errs <- err
				}
			}
		}
	}()
	return errs
}

// InMemoryBus is a channel-based Bus for tests and single-process
// deployments that don't need a real broker.
type InMemoryBus struct {
	mu   sync.Mutex
	subs map[string][]chan map[string]any
}

// NewInMemoryBus builds an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[string][]chan map[string]any)}
}

func (b *InMemoryBus) Publish(ctx context.Context, topic string, payload map[string]any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[topic] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of payloads published to topic from this
// point forward. The channel is buffered; slow consumers drop messages
// rather than block publishers.
func (b *InMemoryBus) Subscribe(topic string) <-chan map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan map[string]any, 16)
	b.subs[topic] = append(b.subs[topic], ch)
	return ch
}
