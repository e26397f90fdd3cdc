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
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// PIIType categorizes a kind of personally identifiable information.
type PIIType string

const (
	PIITypeSSN           PIIType = "ssn"
	PIITypeCreditCard    PIIType = "credit_card"
	PIITypeEmail         PIIType = "email"
	PIITypePhone         PIIType = "phone"
	PIITypeIPAddress     PIIType = "ip_address"
	PIITypeBankAccount   PIIType = "bank_account"
	PIITypeIBAN          PIIType = "iban"
	PIITypePassport      PIIType = "passport"
	PIITypeDateOfBirth   PIIType = "date_of_birth"
	PIITypeDriverLicense PIIType = "driver_license"
)

// PIISeverity is the risk level of a detected entity.
type PIISeverity string

const (
	PIISeverityLow      PIISeverity = "low"
	PIISeverityMedium   PIISeverity = "medium"
	PIISeverityHigh     PIISeverity = "high"
	PIISeverityCritical PIISeverity = "critical"
)

// PIIDetectionResult is one match EnhancedPIIDetector found.
type PIIDetectionResult struct {
	Type       PIIType
	Value      string
	Severity   PIISeverity
	Confidence float64
	StartIndex int
	EndIndex   int
	Context    string
}

// piiPattern is a compiled regex plus an optional validator that turns a
// raw regex match into a confidence score, rejecting matches that fit the
// shape but fail a domain check (e.g. a Luhn-invalid card number).
type piiPattern struct {
	Type      PIIType
	Pattern   *regexp.Regexp
	Severity  PIISeverity
	Validator func(match, context string) (bool, float64)
	MinLength int
	MaxLength int
}

// EnhancedPIIDetector finds PII entities in free text and scores each
// match's confidence using surrounding context and format-specific
// validation (Luhn, IBAN checksum, ABA routing checksum, ...), the same
// multi-pattern-plus-validator design the platform has always used for
// content scanning.
type EnhancedPIIDetector struct {
	patterns         []*piiPattern
	contextWindow    int
	minConfidence    float64
	enableValidation bool
}

// PIIDetectorConfig configures EnhancedPIIDetector.
type PIIDetectorConfig struct {
	ContextWindow    int
	MinConfidence    float64
	EnableValidation bool
	EnabledTypes     []PIIType // empty means all types
}

// DefaultPIIDetectorConfig returns the detector's default tuning.
func DefaultPIIDetectorConfig() PIIDetectorConfig {
	return PIIDetectorConfig{ContextWindow: 50, MinConfidence: 0.5, EnableValidation: true}
}

// NewEnhancedPIIDetector builds a detector from cfg.
func NewEnhancedPIIDetector(cfg PIIDetectorConfig) *EnhancedPIIDetector {
	d := &EnhancedPIIDetector{
		contextWindow:    cfg.ContextWindow,
		minConfidence:    cfg.MinConfidence,
		enableValidation: cfg.EnableValidation,
	}
	d.loadPatterns(cfg.EnabledTypes)
	return d
}

func (d *EnhancedPIIDetector) loadPatterns(enabledTypes []PIIType) {
	all := []*piiPattern{
		{
			Type:      PIITypeSSN,
			Pattern:   regexp.MustCompile(`\b(\d{3})[- ]?(\d{2})[- ]?(\d{4})\b`),
			Severity:  PIISeverityCritical,
			Validator: validateSSN,
			MinLength: 9, MaxLength: 11,
		},
		{
			Type:      PIITypeCreditCard,
			Pattern:   regexp.MustCompile(`\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12}|3(?:0[0-5]|[68][0-9])[0-9]{11}|(?:2131|1800|35\d{3})\d{11})\b|\b(\d{4})[- ]?(\d{4})[- ]?(\d{4})[- ]?(\d{4})\b`),
			Severity:  PIISeverityCritical,
			Validator: validateCreditCard,
			MinLength: 13, MaxLength: 19,
		},
		{
			Type:      PIITypeEmail,
			Pattern:   regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			Severity:  PIISeverityMedium,
			Validator: validateEmail,
			MinLength: 5, MaxLength: 254,
		},
		{
			Type:      PIITypePhone,
			Pattern:   regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(?[0-9]{3}\)?[-.\s]?)?[0-9]{3}[-.\s]?[0-9]{4}\b|\+[0-9]{1,3}[-.\s]?[0-9]{6,14}\b`),
			Severity:  PIISeverityMedium,
			Validator: validatePhone,
			MinLength: 7, MaxLength: 20,
		},
		{
			Type:      PIITypeIPAddress,
			Pattern:   regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			Severity:  PIISeverityMedium,
			Validator: validateIPAddress,
			MinLength: 7, MaxLength: 15,
		},
		{
			Type:      PIITypeIBAN,
			Pattern:   regexp.MustCompile(`\b[A-Z]{2}[0-9]{2}[A-Z0-9]{4}[0-9]{7}(?:[A-Z0-9]?){0,16}\b`),
			Severity:  PIISeverityCritical,
			Validator: validateIBAN,
			MinLength: 15, MaxLength: 34,
		},
		{
			Type:      PIITypePassport,
			Pattern:   regexp.MustCompile(`\b[A-Z]{1,2}[0-9]{6,9}\b`),
			Severity:  PIISeverityHigh,
			Validator: validatePassport,
			MinLength: 7, MaxLength: 11,
		},
		{
			Type:      PIITypeDateOfBirth,
			Pattern:   regexp.MustCompile(`\b(?:(?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12][0-9]|3[01])[/\-](?:19|20)\d{2}|(?:19|20)\d{2}[/\-](?:0?[1-9]|1[0-2])[/\-](?:0?[1-9]|[12][0-9]|3[01]))\b`),
			Severity:  PIISeverityHigh,
			Validator: validateDateOfBirth,
			MinLength: 8, MaxLength: 10,
		},
		{
			Type:      PIITypeDriverLicense,
			Pattern:   regexp.MustCompile(`\b[A-Z][0-9]{7,14}\b`),
			Severity:  PIISeverityHigh,
			Validator: validateDriverLicense,
			MinLength: 7, MaxLength: 15,
		},
		{
			Type:      PIITypeBankAccount,
			Pattern:   regexp.MustCompile(`\b[0-9]{9}[- ]?[0-9]{8,17}\b`),
			Severity:  PIISeverityCritical,
			Validator: validateBankAccount,
			MinLength: 17, MaxLength: 27,
		},
	}

	if len(enabledTypes) == 0 {
		d.patterns = all
		return
	}
	enabled := make(map[PIIType]bool, len(enabledTypes))
	for _, t := range enabledTypes {
		enabled[t] = true
	}
	for _, p := range all {
		if enabled[p.Type] {
			d.patterns = append(d.patterns, p)
		}
	}
}

// DetectAll scans text for every configured PII type.
func (d *EnhancedPIIDetector) DetectAll(text string) []PIIDetectionResult {
	var results []PIIDetectionResult
	for _, p := range d.patterns {
		results = append(results, d.detectWithPattern(text, p)...)
	}
	return results
}

// DetectType scans text for one PII type.
func (d *EnhancedPIIDetector) DetectType(text string, t PIIType) []PIIDetectionResult {
	var results []PIIDetectionResult
	for _, p := range d.patterns {
		if p.Type == t {
			results = append(results, d.detectWithPattern(text, p)...)
		}
	}
	return results
}

func (d *EnhancedPIIDetector) detectWithPattern(text string, p *piiPattern) []PIIDetectionResult {
	var results []PIIDetectionResult
	for _, match := range p.Pattern.FindAllStringIndex(text, -1) {
		start, end := match[0], match[1]
		value := text[start:end]
		if len(value) < p.MinLength || len(value) > p.MaxLength {
			continue
		}
		context := d.extractContext(text, start, end)

		confidence := 1.0
		if d.enableValidation && p.Validator != nil {
			valid, score := p.Validator(value, context)
			if !valid {
				continue
			}
			confidence = score
		}
		if confidence < d.minConfidence {
			continue
		}

		results = append(results, PIIDetectionResult{
			Type: p.Type, Value: value, Severity: p.Severity, Confidence: confidence,
			StartIndex: start, EndIndex: end, Context: context,
		})
	}
	return results
}

func (d *EnhancedPIIDetector) extractContext(text string, start, end int) string {
	from := start - d.contextWindow
	if from < 0 {
		from = 0
	}
	to := end + d.contextWindow
	if to > len(text) {
		to = len(text)
	}
	return text[from:to]
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}

func validateSSN(match, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) != 9 {
		return false, 0
	}
	area, _ := strconv.Atoi(clean[0:3])
	group, _ := strconv.Atoi(clean[3:5])
	serial, _ := strconv.Atoi(clean[5:9])
	if area == 0 || area == 666 || area >= 900 || group == 0 || serial == 0 {
		return false, 0
	}
	ctx := strings.ToLower(context)
	for _, neg := range []string{"order", "invoice", "ref", "tracking", "confirmation", "booking", "receipt", "sku", "ticket"} {
		if strings.Contains(ctx, neg) {
			return false, 0.3
		}
	}
	for _, pos := range []string{"ssn", "social security", "taxpayer", "tin", "tax id"} {
		if strings.Contains(ctx, pos) {
			return true, 0.95
		}
	}
	return true, 0.7
}

func validateCreditCard(match, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) < 13 || len(clean) > 19 || !luhnCheck(clean) {
		return false, 0
	}
	ctx := strings.ToLower(context)
	for _, neg := range []string{"phone", "fax", "tel:", "mobile"} {
		if strings.Contains(ctx, neg) {
			return false, 0.2
		}
	}
	for _, pos := range []string{"card", "credit", "debit", "visa", "mastercard", "amex", "payment"} {
		if strings.Contains(ctx, pos) {
			return true, 0.95
		}
	}
	return true, 0.85
}

func luhnCheck(number string) bool {
	sum := 0
	alt := false
	for i := len(number) - 1; i >= 0; i-- {
		digit := int(number[i] - '0')
		if alt {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		alt = !alt
	}
	return sum%10 == 0
}

func validateEmail(match, context string) (bool, float64) {
	at := strings.LastIndex(match, "@")
	if at < 1 || at >= len(match)-4 {
		return false, 0
	}
	domain := match[at+1:]
	lastDot := strings.LastIndex(domain, ".")
	if lastDot < 0 || len(domain)-lastDot-1 < 2 || strings.Contains(match, "..") {
		return false, 0
	}
	for _, disposable := range []string{"example.com", "test.com", "localhost", "mailinator", "tempmail"} {
		if strings.Contains(strings.ToLower(domain), disposable) {
			return true, 0.5
		}
	}
	return true, 0.9
}

func validatePhone(match, context string) (bool, float64) {
	digits := digitsOnly(match)
	if len(digits) < 7 || len(digits) > 15 || isRepeatedDigits(digits) {
		return false, 0
	}
	ctx := strings.ToLower(context)
	for _, neg := range []string{"zip", "postal", "year", "amount", "price", "quantity"} {
		if strings.Contains(ctx, neg) {
			return false, 0.2
		}
	}
	for _, pos := range []string{"phone", "tel", "call", "mobile", "cell", "fax", "contact"} {
		if strings.Contains(ctx, pos) {
			return true, 0.95
		}
	}
	return true, 0.7
}

func validateIPAddress(match, context string) (bool, float64) {
	parts := strings.Split(match, ".")
	if len(parts) != 4 {
		return false, 0
	}
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 255 {
			return false, 0
		}
	}
	if match == "0.0.0.0" || strings.HasPrefix(match, "127.") || strings.HasPrefix(match, "192.168.") || strings.HasPrefix(match, "10.") {
		return true, 0.5
	}
	if strings.Contains(strings.ToLower(context), "version") {
		return false, 0.1
	}
	return true, 0.8
}

func validateIBAN(match, context string) (bool, float64) {
	clean := strings.ReplaceAll(strings.ToUpper(match), " ", "")
	if len(clean) < 15 || len(clean) > 34 || !unicode.IsLetter(rune(clean[0])) || !unicode.IsLetter(rune(clean[1])) {
		return false, 0
	}
	if !validateIBANChecksum(clean) {
		return false, 0
	}
	return true, 0.9
}

func validateIBANChecksum(iban string) bool {
	rearranged := iban[4:] + iban[0:4]
	var numeric strings.Builder
	for _, ch := range rearranged {
		if unicode.IsLetter(ch) {
			numeric.WriteString(strconv.Itoa(int(unicode.ToUpper(ch) - 'A' + 10)))
		} else {
			numeric.WriteRune(ch)
		}
	}
	remainder := 0
	for _, digit := range numeric.String() {
		remainder = (remainder*10 + int(digit-'0')) % 97
	}
	return remainder == 1
}

func validatePassport(match, context string) (bool, float64) {
	letters, digits := 0, 0
	for i, ch := range match {
		switch {
		case unicode.IsLetter(ch):
			if i > 1 {
				return false, 0
			}
			letters++
		case unicode.IsDigit(ch):
			digits++
		default:
			return false, 0
		}
	}
	if letters < 1 || letters > 2 || digits < 6 {
		return false, 0
	}
	if strings.Contains(strings.ToLower(context), "passport") {
		return true, 0.95
	}
	return true, 0.5
}

func validateDateOfBirth(match, context string) (bool, float64) {
	ctx := strings.ToLower(context)
	for _, pos := range []string{"dob", "date of birth", "birth date", "birthday", "born"} {
		if strings.Contains(ctx, pos) {
			return true, 0.95
		}
	}
	return true, 0.4
}

func validateDriverLicense(match, context string) (bool, float64) {
	ctx := strings.ToLower(context)
	for _, pos := range []string{"driver", "license", "dmv", "driving"} {
		if strings.Contains(ctx, pos) {
			return true, 0.9
		}
	}
	return true, 0.3
}

func validateBankAccount(match, context string) (bool, float64) {
	clean := digitsOnly(match)
	if len(clean) < 17 || len(clean) > 26 {
		return false, 0
	}
	if !validateABARoutingNumber(clean[0:9]) {
		return false, 0.3
	}
	ctx := strings.ToLower(context)
	for _, pos := range []string{"routing", "account", "bank", "aba", "wire"} {
		if strings.Contains(ctx, pos) {
			return true, 0.95
		}
	}
	return true, 0.7
}

func validateABARoutingNumber(routing string) bool {
	if len(routing) != 9 || routing == "000000000" {
		return false
	}
	weights := [9]int{3, 7, 1, 3, 7, 1, 3, 7, 1}
	sum := 0
	for i, ch := range routing {
		sum += int(ch-'0') * weights[i]
	}
	return sum%10 == 0
}

func isRepeatedDigits(s string) bool {
	if len(s) == 0 {
		return false
	}
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}
