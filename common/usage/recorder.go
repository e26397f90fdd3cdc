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
	"log"
)

// Ledger appends the raw per-request Event a Rollup increment was derived
// from, for audit and after-the-fact reconciliation. CassandraLedger and
// MySQLLedger are the two concrete backends; a UsageRecorder holds at
// most one of them.
type Ledger interface {
	AppendEvent(ctx context.Context, e Event) error
}

// UsageRecorder maintains the Usage entity: a Postgres-backed daily
// Rollup per (org, user, model), derived from Events it also forwards to
// an optional Ledger. Grounded on orchestrator/deploy's PostgresStore
// idiom: database/sql with $N placeholders and explicit upserts.
type UsageRecorder struct {
	db     *sql.DB
	ledger Ledger
}

// NewUsageRecorder builds a recorder around an open Postgres pool. ledger
// may be nil, in which case only the daily rollup is maintained.
func NewUsageRecorder(db *sql.DB, ledger Ledger) *UsageRecorder {
	return &UsageRecorder{db: db, ledger: ledger}
}

// RecordLLMRequest computes the event's cost if unset, appends it to the
// ledger, and increments the day's Rollup. The rollup increment and the
// ledger append both run even if the other fails — billing should not go
// blind just because the audit ledger is down, and the audit trail should
// not go blind just because a rollup write raced a schema migration.
func (r *UsageRecorder) RecordLLMRequest(ctx context.Context, e Event) error {
	if e.CostCents == 0 && (e.PromptTokens > 0 || e.CompletionTokens > 0) {
		e.CostCents = CalculateCostCents(e.Provider, e.Model, e.PromptTokens, e.CompletionTokens)
	}

	var ledgerErr, rollupErr error
	if r.ledger != nil {
		if ledgerErr = r.ledger.AppendEvent(ctx, e); ledgerErr != nil {
			log.Printf("[usage] ledger append failed: %v", ledgerErr)
		}
	}
	rollupErr = r.incrementRollup(ctx, e)
	if rollupErr != nil {
		log.Printf("[usage] rollup increment failed: %v", rollupErr)
	}

	if ledgerErr != nil {
		return ledgerErr
	}
	return rollupErr
}

func (r *UsageRecorder) incrementRollup(ctx context.Context, e Event) error {
	if r.db == nil {
		return nil
	}
	day := dayKey(e.OccurredAt)
	const query = `
		INSERT INTO usage_rollups (
			org_id, user_id, model, day, request_count,
			prompt_tokens, completion_tokens, total_tokens, cost_cents
		) VALUES ($1, $2, $3, $4, 1, $5, $6, $7, $8)
		ON CONFLICT (org_id, user_id, model, day) DO UPDATE SET
			request_count     = usage_rollups.request_count + 1,
			prompt_tokens     = usage_rollups.prompt_tokens + excluded.prompt_tokens,
			completion_tokens = usage_rollups.completion_tokens + excluded.completion_tokens,
			total_tokens      = usage_rollups.total_tokens + excluded.total_tokens,
			cost_cents        = usage_rollups.cost_cents + excluded.cost_cents
	`
	_, err := r.db.ExecContext(ctx, query,
		e.OrgID, e.UserID, e.Model, day,
		e.PromptTokens, e.CompletionTokens, e.TotalTokens, e.CostCents,
	)
	if err != nil {
		return fmt.Errorf("failed to increment usage rollup: %w", err)
	}
	return nil
}

// RollupFor fetches the current day's running total for one (org, user,
// model), the read side of the same invariant RecordLLMRequest maintains.
func (r *UsageRecorder) RollupFor(ctx context.Context, orgID, userID, model, day string) (*Rollup, error) {
	if r.db == nil {
		return nil, fmt.Errorf("usage: no rollup store configured")
	}
	const query = `
		SELECT request_count, prompt_tokens, completion_tokens, total_tokens, cost_cents
		FROM usage_rollups WHERE org_id = $1 AND user_id = $2 AND model = $3 AND day = $4
	`
	row := r.db.QueryRowContext(ctx, query, orgID, userID, model, day)
	out := &Rollup{OrgID: orgID, UserID: userID, Model: model, Day: day}
	err := row.Scan(&out.RequestCount, &out.PromptTokens, &out.CompletionTokens, &out.TotalTokens, &out.CostCents)
	if err == sql.ErrNoRows {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage rollup: %w", err)
	}
	return out, nil
}
