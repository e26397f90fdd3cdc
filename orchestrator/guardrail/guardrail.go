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

// Package guardrail runs the PII anonymization pass and the content scan
// pass concurrently and merges their results into one decision, following
// the scan protocol: both scanners see the raw text, never the sanitized
// one, so a content scanner looking for injection attempts is never fooled
// by PII masking that happened to remove the attack's structure.
package guardrail

import (
	"context"
	"time"
)

// ScanType distinguishes an input (prompt) scan from an output (response)
// scan; output scans also see the prompt as context.
type ScanType string

const (
	ScanInput  ScanType = "input"
	ScanOutput ScanType = "output"
)

// Config mirrors the RateLimitCfg-style explicit config struct used
// elsewhere: a Resolved Context's GuardrailCfg, never a loose map.
type Config struct {
	Enabled               bool
	PIIEnabled            bool
	PIIEntities           []string
	InputScanners         []string
	OutputScanners        []string
	CustomBannedKeywords  []string
	ProceedOnViolation    bool
}

// Violation is one rule that fired during a scan.
type Violation struct {
	Scanner string
	Type    string
	Score   float64
	Details string
}

// Result is the merged outcome of a PII pass and a content-scan pass.
type Result struct {
	IsValid       bool
	SanitizedText string
	RiskScore     float64
	Violations    []Violation
	ScanTimeMS    int64
	ActionsTaken  []string
}

// ContentScanner performs the non-PII guardrail checks: toxicity, banned
// keywords, jailbreak/prompt-injection heuristics. It always scans the raw
// text it is given.
type ContentScanner interface {
	ScanInput(ctx context.Context, prompt, userID string, customKeywords []string, cfg Config) (*Result, error)
	ScanOutput(ctx context.Context, prompt, output, userID string, customKeywords []string, cfg Config) (*Result, error)
}

// PIIAnonymizer returns text with entities redacted, plus the PII findings
// it redacted.
type PIIAnonymizer interface {
	Anonymize(text string, entities []string) (sanitized string, violations []Violation, err error)
}

// Engine runs the parallel scan protocol.
type Engine struct {
	content ContentScanner
	pii     PIIAnonymizer
}

// New builds an Engine from a content scanner and a PII anonymizer. Either
// may be nil; a nil PIIAnonymizer disables PII scanning regardless of
// Config.PIIEnabled.
func New(content ContentScanner, pii PIIAnonymizer) *Engine {
	return &Engine{content: content, pii: pii}
}

// Scan runs the PII and content scan passes concurrently against text and
// merges them. For an output scan, prompt is the original request used as
// context. As a legacy fallback, when cfg.PIIEnabled is false, "PII" or
// "Anonymize" appearing in the configured input scanners also turns PII
// scanning on.
func (e *Engine) Scan(ctx context.Context, scanType ScanType, text, prompt, userID string, cfg Config) (*Result, error) {
	start := time.Now()

	piiEnabled := cfg.PIIEnabled
	if !piiEnabled {
		for _, s := range cfg.InputScanners {
			if s == "PII" || s == "Anonymize" {
				piiEnabled = true
				break
			}
		}
	}

	type piiOutcome struct {
		sanitized  string
		violations []Violation
		err        error
	}
	piiDone := make(chan piiOutcome, 1)
	go func() {
		if !piiEnabled || e.pii == nil {
			piiDone <- piiOutcome{sanitized: text}
			return
		}
		sanitized, violations, err := e.pii.Anonymize(text, cfg.PIIEntities)
		piiDone <- piiOutcome{sanitized: sanitized, violations: violations, err: err}
	}()

	type scanOutcome struct {
		result *Result
		err    error
	}
	scanDone := make(chan scanOutcome, 1)
	go func() {
		if e.content == nil {
			scanDone <- scanOutcome{result: &Result{IsValid: true, SanitizedText: text}}
			return
		}
		var r *Result
		var err error
		if scanType == ScanInput {
			r, err = e.content.ScanInput(ctx, text, userID, cfg.CustomBannedKeywords, cfg)
		} else {
			r, err = e.content.ScanOutput(ctx, prompt, text, userID, cfg.CustomBannedKeywords, cfg)
		}
		scanDone <- scanOutcome{result: r, err: err}
	}()

	pii := <-piiDone
	if pii.err != nil {
		return nil, pii.err
	}
	scan := <-scanDone
	if scan.err != nil {
		return nil, scan.err
	}
	result := scan.result

	// Merge PII violations into the guardrail result.
	if len(pii.violations) > 0 {
		result.Violations = append(result.Violations, pii.violations...)
	}

	// Ensure the final sanitized text reflects PII changes even when the
	// content scanner didn't touch the text itself.
	if pii.sanitized != text {
		if result.SanitizedText == text {
			result.SanitizedText = pii.sanitized
		}
		if !containsString(result.ActionsTaken, "anonymized") {
			result.ActionsTaken = append(result.ActionsTaken, "anonymized")
		}
	}

	result.ScanTimeMS = time.Since(start).Milliseconds()
	return result, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
