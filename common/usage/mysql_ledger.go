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
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLLedgerPoolDefaults mirror the connector idiom's pooling constants:
// a billing export job opens short bursts of connections, not a steady
// stream, so idle connections are trimmed aggressively.
const (
	MySQLLedgerMaxOpenConns    = 25
	MySQLLedgerMaxIdleConns    = 5
	MySQLLedgerConnMaxLifetime = 5 * time.Minute
)

// MySQLLedger is the alternate Ledger backend for on-prem installs whose
// billing system already lives in MySQL rather than Cassandra — selected
// at boot, never both, since the raw events only need one home.
type MySQLLedger struct {
	db *sql.DB
}

// NewMySQLLedger opens a pooled connection to dsn (standard
// go-sql-driver/mysql DSN form) and applies the ledger's pool defaults.
func NewMySQLLedger(dsn string) (*MySQLLedger, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("usage: failed to open mysql ledger: %w", err)
	}
	db.SetMaxOpenConns(MySQLLedgerMaxOpenConns)
	db.SetMaxIdleConns(MySQLLedgerMaxIdleConns)
	db.SetConnMaxLifetime(MySQLLedgerConnMaxLifetime)
	return &MySQLLedger{db: db}, nil
}

// Close releases the underlying pool.
func (l *MySQLLedger) Close() error {
	return l.db.Close()
}

// AppendEvent inserts one raw usage event, MySQL placeholder style.
func (l *MySQLLedger) AppendEvent(ctx context.Context, e Event) error {
	const query = `
		INSERT INTO usage_events (
			org_id, user_id, deployment_id, instance_id, provider, model,
			prompt_tokens, completion_tokens, total_tokens, cost_cents,
			latency_ms, http_status_code, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := l.db.ExecContext(ctx, query,
		e.OrgID, e.UserID, e.DeploymentID, e.InstanceID, e.Provider, e.Model,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CostCents,
		e.LatencyMs, e.HTTPStatusCode, e.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("usage: failed to append event to mysql ledger: %w", err)
	}
	return nil
}
