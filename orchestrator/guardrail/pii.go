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
	"sort"
	"strings"
)

// detectorPIIAnonymizer adapts EnhancedPIIDetector, built for read-only
// detection, into the redact-and-report shape the scan protocol needs.
type detectorPIIAnonymizer struct {
	detector *EnhancedPIIDetector
}

// NewPIIAnonymizer wraps an EnhancedPIIDetector so it can anonymize text
// in place of only reporting findings.
func NewPIIAnonymizer(detector *EnhancedPIIDetector) PIIAnonymizer {
	return &detectorPIIAnonymizer{detector: detector}
}

// Anonymize detects every configured PII entity in text and replaces each
// match with a [TYPE_REDACTED] placeholder, scanning right to left so
// earlier match offsets stay valid as the string shrinks or grows.
func (a *detectorPIIAnonymizer) Anonymize(text string, entities []string) (string, []Violation, error) {
	var findings []PIIDetectionResult
	if len(entities) == 0 {
		findings = a.detector.DetectAll(text)
	} else {
		for _, e := range entities {
			findings = append(findings, a.detector.DetectType(text, PIIType(strings.ToLower(e)))...)
		}
	}
	if len(findings) == 0 {
		return text, nil, nil
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].StartIndex < findings[j].StartIndex })

	sanitized := []byte(text)
	violations := make([]Violation, 0, len(findings))
	for i := len(findings) - 1; i >= 0; i-- {
		f := findings[i]
		placeholder := "[" + strings.ToUpper(string(f.Type)) + "_REDACTED]"
		sanitized = append(sanitized[:f.StartIndex], append([]byte(placeholder), sanitized[f.EndIndex:]...)...)
		violations = append(violations, Violation{
			Scanner: "pii",
			Type:    string(f.Type),
			Score:   f.Confidence,
			Details: string(f.Severity),
		})
	}
	return string(sanitized), violations, nil
}
