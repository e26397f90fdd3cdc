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

package prompt

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresTemplateStore resolves a stored prompt template's content by ID
// from the prompt_templates table, mirroring the lib/pq-backed storage
// idiom used for LLM provider configuration.
type PostgresTemplateStore struct {
	db *sql.DB
}

// NewPostgresTemplateStore builds a store around an open connection pool.
func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

// FetchTemplate looks up a template's content by ID. A missing template is
// reported as an error so the caller's fail-closed handling turns it into
// a 500 rather than silently rendering an empty system message.
func (s *PostgresTemplateStore) FetchTemplate(ctx context.Context, templateID string) (string, error) {
	const query = `SELECT content FROM prompt_templates WHERE id = $1`

	var content string
	err := s.db.QueryRowContext(ctx, query, templateID).Scan(&content)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("template %q not found", templateID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch template %q: %w", templateID, err)
	}
	return content, nil
}
