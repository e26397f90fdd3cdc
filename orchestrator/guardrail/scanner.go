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

package guardrail

import (
	"context"
	"regexp"
	"strings"
)

// KeywordScanner is the default ContentScanner: it blocks on custom banned
// keywords and on a small set of built-in prompt-injection heuristics. Every
// match marks the result invalid; RiskScore is the mean score of the
// violations that fired.
type KeywordScanner struct {
	injectionPatterns []*regexp.Regexp
}

// NewKeywordScanner builds a scanner with the built-in injection heuristics
// loaded.
func NewKeywordScanner() *KeywordScanner {
	return &KeywordScanner{
		injectionPatterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
			regexp.MustCompile(`(?i)disregard (all )?(previous|prior|your) (instructions|rules|guidelines)`),
			regexp.MustCompile(`(?i)you are now (in )?(dan|jailbreak|developer) mode`),
			regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`),
		},
	}
}

// ScanInput implements ContentScanner.
func (s *KeywordScanner) ScanInput(_ context.Context, prompt, _ string, customKeywords []string, _ Config) (*Result, error) {
	return s.scan(prompt, customKeywords)
}

// ScanOutput implements ContentScanner. It scans the model's output text;
// prompt is kept only as context for future richer scanners (e.g. scoring
// whether the output actually answers an injected instruction).
func (s *KeywordScanner) ScanOutput(_ context.Context, _ string, output string, _ string, customKeywords []string, _ Config) (*Result, error) {
	return s.scan(output, customKeywords)
}

func (s *KeywordScanner) scan(text string, customKeywords []string) (*Result, error) {
	result := &Result{IsValid: true, SanitizedText: text}

	lower := strings.ToLower(text)
	for _, kw := range customKeywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			result.Violations = append(result.Violations, Violation{
				Scanner: "keyword",
				Type:    "banned_keyword",
				Score:   1.0,
				Details: kw,
			})
			result.IsValid = false
		}
	}

	for _, pattern := range s.injectionPatterns {
		if pattern.MatchString(text) {
			result.Violations = append(result.Violations, Violation{
				Scanner: "injection",
				Type:    "prompt_injection",
				Score:   0.9,
				Details: pattern.String(),
			})
			result.IsValid = false
		}
	}

	if len(result.Violations) > 0 {
		var total float64
		for _, v := range result.Violations {
			total += v.Score
		}
		result.RiskScore = total / float64(len(result.Violations))
	}

	return result, nil
}
