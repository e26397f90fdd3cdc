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

package gateway

import (
	"context"
	"fmt"

	"inferia/core/orchestrator/guardrail"
	"inferia/core/orchestrator/resolver"
)

// checkRateLimit enforces rc's per-deployment requests-per-minute budget,
// shared by chat completions, streaming chat, and embeddings (all three
// address the same deployment key and must not let one bypass the other's
// budget).
func (g *Gateway) checkRateLimit(ctx context.Context, rc *resolver.Context) error {
	if !rc.RateLimitCfg.Enabled || rc.RateLimitCfg.RPM <= 0 {
		return nil
	}
	allowed, retryAfter, err := g.rateLimiter.Allow(ctx, "deployment:"+rc.Deployment.ID, rc.RateLimitCfg.RPM)
	if err != nil {
		return fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		return &ErrRateLimited{RetryAfter: retryAfter}
	}
	return nil
}

// quotaKey scopes a quota budget to the caller and model that consumed
// it, rather than the whole org: an org with ten users each calling a
// different model must not let one user's traffic on one model exhaust
// a budget the other nine never touched.
func quotaKey(rc *resolver.Context, model string) string {
	return rc.UserIDContext + ":" + model
}

// checkQuota enforces rc's daily request and token quota, scoped to the
// (user, model) pair making this call. It only checks; the token
// increment happens later, once the response's actual token count is
// known (recordUsage).
func (g *Gateway) checkQuota(ctx context.Context, rc *resolver.Context, model string) error {
	if g.quota == nil || !rc.QuotaCfg.Enabled {
		return nil
	}
	key := quotaKey(rc, model)
	if rc.QuotaCfg.MaxRequestsPerDay > 0 {
		allowed, err := g.quota.CheckRequest(ctx, key, rc.QuotaCfg.MaxRequestsPerDay)
		if err != nil {
			return fmt.Errorf("quota check failed: %w", err)
		}
		if !allowed {
			return ErrQuotaExceeded
		}
	}
	if rc.QuotaCfg.MaxTokensPerDay > 0 {
		used, err := g.quota.TokensUsedToday(ctx, key)
		if err != nil {
			return fmt.Errorf("quota check failed: %w", err)
		}
		if used >= rc.QuotaCfg.MaxTokensPerDay {
			return ErrQuotaExceeded
		}
	}
	return nil
}

// scanInput runs the input guardrail scan over text (the last user
// message for chat, the joined input for embeddings) and returns the
// sanitized text to use downstream. A blocking violation that the config
// doesn't allow proceeding past surfaces as *ErrBlocked.
func (g *Gateway) scanInput(ctx context.Context, rc *resolver.Context, text string) (string, error) {
	if g.guardrails == nil || !rc.GuardrailCfg.Enabled || text == "" {
		return text, nil
	}
	result, err := g.guardrails.Scan(ctx, guardrail.ScanInput, text, "", rc.UserIDContext, rc.GuardrailCfg)
	if err != nil {
		return "", fmt.Errorf("input guardrail scan failed: %w", err)
	}
	recordViolations(result.Violations)
	if !result.IsValid && !rc.GuardrailCfg.ProceedOnViolation {
		return "", &ErrBlocked{ScanType: guardrail.ScanInput, Violations: result.Violations}
	}
	if result.SanitizedText != "" {
		return result.SanitizedText, nil
	}
	return text, nil
}

// scanOutput runs the output guardrail scan. It's only ever invoked on the
// non-streaming path; a streaming response has no single complete text to
// scan until the relay has already finished sending it to the caller, so
// output scanning does not apply there. context is the last user message
// content, which content scanners use to judge relevance of the reply.
func (g *Gateway) scanOutput(ctx context.Context, rc *resolver.Context, text, context string) (string, error) {
	if g.guardrails == nil || !rc.GuardrailCfg.Enabled || len(rc.GuardrailCfg.OutputScanners) == 0 || text == "" {
		return text, nil
	}
	result, err := g.guardrails.Scan(ctx, guardrail.ScanOutput, text, context, rc.UserIDContext, rc.GuardrailCfg)
	if err != nil {
		return "", fmt.Errorf("output guardrail scan failed: %w", err)
	}
	recordViolations(result.Violations)
	if !result.IsValid && !rc.GuardrailCfg.ProceedOnViolation {
		return "", &ErrBlocked{ScanType: guardrail.ScanOutput, Violations: result.Violations}
	}
	return result.SanitizedText, nil
}
