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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresOutbox writes outbox rows. Each Write is its own INSERT on db
// (a *sql.DB, typically the same pool as PostgresStore); it does not join
// a transaction with the state change it announces.
type PostgresOutbox struct {
	db *sql.DB
}

// NewPostgresOutbox builds an outbox writer.
func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

func (o *PostgresOutbox) Write(ctx context.Context, aggregateID, eventType string, payload map[string]any) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}
	const query = `
		INSERT INTO outbox_events (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, 'deployment', $2, $3, $4, $5)
	`
	_, err = o.db.ExecContext(ctx, query, uuid.NewString(), aggregateID, eventType, payloadJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to write outbox event: %w", err)
	}
	return nil
}

// DispatchPending polls outbox rows with no dispatched_at and publishes
// them to bus, marking each dispatched afterward. Consumers are expected
// to be idempotent on (aggregate_id, event_type, payload), since a crash
// between publish and mark-dispatched redelivers.
func DispatchPending(ctx context.Context, db *sql.DB, bus Bus, batchSize int) (int, error) {
	const selectQuery = `
		SELECT id, aggregate_id, event_type, payload FROM outbox_events
		WHERE dispatched_at IS NULL ORDER BY created_at ASC LIMIT $1
	`
	rows, err := db.QueryContext(ctx, selectQuery, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query pending outbox events: %w", err)
	}

	type pending struct {
		id          string
		aggregateID string
		eventType   string
		payload     []byte
	}
	var batch []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.aggregateID, &p.eventType, &p.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan outbox row: %w", err)
		}
		batch = append(batch, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	dispatched := 0
	for _, p := range batch {
		var payload map[string]any
		if err := json.Unmarshal(p.payload, &payload); err != nil {
			return dispatched, fmt.Errorf("failed to decode outbox payload %s: %w", p.id, err)
		}
		if err := bus.Publish(ctx, p.eventType, payload); err != nil {
			return dispatched, fmt.Errorf("failed to publish outbox event %s: %w", p.id, err)
		}
		if _, err := db.ExecContext(ctx, `UPDATE outbox_events SET dispatched_at = now() WHERE id = $1`, p.id); err != nil {
			return dispatched, fmt.Errorf("failed to mark outbox event dispatched %s: %w", p.id, err)
		}
		dispatched++
	}
	return dispatched, nil
}
