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

import "fmt"

// ModelPricing holds per-1K-token pricing, in cents, for one provider-model
// pair. Cents avoid float accumulation error across millions of rows.
type ModelPricing struct {
	PromptCostPer1K     int
	CompletionCostPer1K int
}

// pricingTable is seeded from published provider rate cards as of whenever
// this binary was built; self-hosted engines (vllm, ollama, triton, ...)
// carry no per-token provider cost since the org already pays for the
// compute pool directly, so they default to zero and are billed instead
// through the pool's GPU-hour rate, outside this package's scope.
var pricingTable = map[string]ModelPricing{
	"openai-gpt-4":              {PromptCostPer1K: 3000, CompletionCostPer1K: 6000},
	"openai-gpt-4-turbo":        {PromptCostPer1K: 1000, CompletionCostPer1K: 3000},
	"openai-gpt-3.5-turbo":      {PromptCostPer1K: 50, CompletionCostPer1K: 150},
	"openai-gpt-3.5-turbo-1106": {PromptCostPer1K: 100, CompletionCostPer1K: 200},

	"anthropic-claude-3-opus":     {PromptCostPer1K: 1500, CompletionCostPer1K: 7500},
	"anthropic-claude-3-sonnet":   {PromptCostPer1K: 300, CompletionCostPer1K: 1500},
	"anthropic-claude-3-haiku":    {PromptCostPer1K: 25, CompletionCostPer1K: 125},
	"anthropic-claude-3.5-sonnet": {PromptCostPer1K: 300, CompletionCostPer1K: 1500},

	// Bedrock-hosted models are billed by Amazon at roughly the same rate
	// as the underlying model's native API, not a separate Bedrock rate.
	"bedrock-anthropic.claude-3-sonnet-v1":  {PromptCostPer1K: 300, CompletionCostPer1K: 1500},
	"bedrock-anthropic.claude-3-haiku-v1":   {PromptCostPer1K: 25, CompletionCostPer1K: 125},
	"bedrock-meta.llama3-70b-instruct-v1":   {PromptCostPer1K: 265, CompletionCostPer1K: 350},

	"default": {PromptCostPer1K: 1000, CompletionCostPer1K: 3000},
}

var zeroCostProviders = map[string]bool{
	"vllm": true, "ollama": true, "triton": true, "vllm-omni": true,
	"infinity": true, "tei": true, "nosana": true, "akash": true, "k8s": true,
}

// CalculateCostCents returns the cost in cents for a completed request,
// or 0 for a self-hosted engine with no per-token provider charge.
func CalculateCostCents(provider, model string, promptTokens, completionTokens int) int {
	if zeroCostProviders[provider] {
		return 0
	}
	pricing, ok := pricingTable[provider+"-"+model]
	if !ok {
		pricing = pricingTable["default"]
	}
	return (promptTokens*pricing.PromptCostPer1K)/1000 + (completionTokens*pricing.CompletionCostPer1K)/1000
}

// FormatCostToDollars renders a cents value as a "$X.YZ" string for
// display in usage reports.
func FormatCostToDollars(cents int64) string {
	return fmt.Sprintf("$%.2f", float64(cents)/100.0)
}
