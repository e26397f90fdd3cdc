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

package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// CassandraLedger appends raw usage events to a wide, write-optimized
// table partitioned by org and day — the shape Cassandra is good at, and
// a poor fit for Postgres, which is why the raw ledger and the daily
// Rollup live in different stores. Grounded on the connector idiom of
// gocql.NewCluster + session.Query, adapted here to a single
// fire-and-forget append rather than a pluggable MCP connector.
type CassandraLedger struct {
	session *gocql.Session
}

// NewCassandraLedger dials a Cassandra/Scylla cluster and returns a ledger
// bound to keyspace, using the consistency level the caller passes
// (cmd/inferia-gateway passes QUORUM).
func NewCassandraLedger(hosts []string, keyspace string, consistency gocql.Consistency) (*CassandraLedger, error) {
	cluster := gocql.NewCluster(hosts...)
	cluster.Keyspace = keyspace
	cluster.Consistency = consistency
	cluster.Timeout = 5 * time.Second

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("usage: failed to connect to cassandra: %w", err)
	}
	return &CassandraLedger{session: session}, nil
}

// Close releases the underlying session.
func (l *CassandraLedger) Close() {
	if l.session != nil {
		l.session.Close()
	}
}

// AppendEvent inserts one raw usage event. The partition key is
// (org_id, day) so a billing export can scan one org-day without a
// cluster-wide table scan; event_id makes each row unique within the
// partition.
func (l *CassandraLedger) AppendEvent(ctx context.Context, e Event) error {
	const query = `
		INSERT INTO usage_events (
			org_id, day, event_id, user_id, deployment_id, instance_id,
			provider, model, prompt_tokens, completion_tokens, total_tokens,
			cost_cents, latency_ms, http_status_code, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	eventID := uuid.New()
	return l.session.Query(query,
		e.OrgID, dayKey(e.OccurredAt), eventID, e.UserID, e.DeploymentID, e.InstanceID,
		e.Provider, e.Model, e.PromptTokens, e.CompletionTokens, e.TotalTokens,
		e.CostCents, e.LatencyMs, e.HTTPStatusCode, e.OccurredAt,
	).WithContext(ctx).Exec()
}
