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

	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/prompt"
)

// These merge* helpers translate a policy store's untyped JSON config
// (stored as-is the way the source system persisted dicts) into this
// module's explicit config structs, per the design note that dynamic
// config objects become named structs at the boundary rather than being
// threaded through the pipeline as maps.

func (r *Resolver) mergeGuardrailCfg(ctx context.Context, orgID, deploymentID string) (guardrail.Config, error) {
	raw, err := r.resolvePolicy(ctx, orgID, deploymentID, "guardrail")
	if err != nil || raw == nil {
		return guardrail.Config{}, err
	}
	return guardrail.Config{
		Enabled:              boolField(raw, "enabled"),
		PIIEnabled:           boolField(raw, "pii_enabled"),
		PIIEntities:          stringSliceField(raw, "pii_entities"),
		InputScanners:        stringSliceField(raw, "input_scanners"),
		OutputScanners:       stringSliceField(raw, "output_scanners"),
		CustomBannedKeywords: stringSliceField(raw, "custom_banned_keywords"),
		ProceedOnViolation:   boolField(raw, "proceed_on_violation"),
	}, nil
}

func (r *Resolver) mergeRagCfg(ctx context.Context, orgID, deploymentID string) (prompt.RagCfg, error) {
	raw, err := r.resolvePolicy(ctx, orgID, deploymentID, "rag")
	if err != nil || raw == nil {
		return prompt.RagCfg{}, err
	}
	return prompt.RagCfg{
		Enabled:           boolField(raw, "enabled"),
		DefaultCollection: stringField(raw, "default_collection"),
		TopK:              intField(raw, "top_k"),
	}, nil
}

func (r *Resolver) mergeTemplateCfg(ctx context.Context, orgID, deploymentID string) (prompt.TemplateCfg, error) {
	raw, err := r.resolvePolicy(ctx, orgID, deploymentID, "prompt_template")
	if err != nil || raw == nil {
		return prompt.TemplateCfg{}, err
	}
	cfg := prompt.TemplateCfg{
		Enabled:        boolField(raw, "enabled"),
		BaseTemplateID: stringField(raw, "base_template_id"),
		Content:        stringField(raw, "content"),
	}
	if mapping, ok := raw["variable_mapping"].(map[string]any); ok {
		cfg.VariableMapping = make(map[string]prompt.VariableSource, len(mapping))
		for varName, rawSource := range mapping {
			source, ok := rawSource.(map[string]any)
			if !ok {
				continue
			}
			cfg.VariableMapping[varName] = prompt.VariableSource{
				Source:       stringField(source, "source"),
				CollectionID: stringField(source, "collection_id"),
				TopK:         intField(source, "top_k"),
				Value:        stringField(source, "value"),
				Key:          stringField(source, "key"),
			}
		}
	}
	return cfg, nil
}

func (r *Resolver) mergeRateLimitCfg(ctx context.Context, orgID, deploymentID string) (RateLimitCfg, error) {
	raw, err := r.resolvePolicy(ctx, orgID, deploymentID, "rate_limit")
	if err != nil || raw == nil {
		return RateLimitCfg{}, err
	}
	return RateLimitCfg{
		Enabled: boolField(raw, "enabled"),
		RPM:     intField(raw, "rpm"),
	}, nil
}

func (r *Resolver) mergeQuotaCfg(ctx context.Context, orgID, deploymentID string) (QuotaCfg, error) {
	raw, err := r.resolvePolicy(ctx, orgID, deploymentID, "quota")
	if err != nil || raw == nil {
		return QuotaCfg{}, err
	}
	return QuotaCfg{
		Enabled:           boolField(raw, "enabled"),
		MaxRequestsPerDay: int64Field(raw, "max_requests_per_day"),
		MaxTokensPerDay:   int64Field(raw, "max_tokens_per_day"),
	}, nil
}

func boolField(m map[string]any, key string) bool {
	v, _ := m[key].(bool)
	return v
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func intField(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func int64Field(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
