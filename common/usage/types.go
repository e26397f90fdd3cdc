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

// Package usage implements the Usage entity: a (user_id, model, date)
// keyed counter of request and token volume that only ever grows within a
// day, plus the raw per-request event each counter increment is derived
// from. The daily counter is what quota checks and billing read; the raw
// event is what the ledger keeps for audit and after-the-fact cost
// reconciliation.
package usage

import "time"

// Event is one completed LLM request, the unit the ledger records and the
// daily Rollup is built from.
type Event struct {
	OrgID            string
	UserID           string
	DeploymentID     string
	InstanceID       string // which gateway process handled the request
	Provider         string // "openai", "anthropic", "bedrock", "vllm", ...
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostCents        int
	LatencyMs        int64
	TTFTMs           int64 // time to first token; 0 for non-streaming requests
	Streaming        bool
	HTTPStatusCode   int
	OccurredAt       time.Time
}

// Rollup is the Usage entity itself: the day's running total for one
// (user_id, model) pair within an org. RequestCount, PromptTokens,
// CompletionTokens and TotalTokens are monotonically non-decreasing for a
// given (OrgID, UserID, Model, Day) as long as the day hasn't rolled
// over.
type Rollup struct {
	OrgID            string
	UserID           string
	Model            string
	Day              string // UTC date, YYYY-MM-DD
	RequestCount     int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostCents        int64
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
