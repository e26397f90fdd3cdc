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

// Package apierror defines the platform's client-facing error shape: a
// bounded enum of error kinds, each with a fixed HTTP status, rendered as
// the OpenAI-style nested envelope ({"error": {"code", "message", ...}})
// every /v1 handler uses instead of ad hoc status codes and flat strings.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Kind is the bounded set of error codes a client can branch on via
// err.error.code, instead of parsing message text.
type Kind string

const (
	KindUnauthorized       Kind = "unauthorized"
	KindForbidden          Kind = "forbidden"
	KindNotFound           Kind = "not_found"
	KindInvalidRequest     Kind = "invalid_request"
	KindGuardrailViolation Kind = "guardrail_violation"
	KindRateLimited        Kind = "rate_limited"
	KindQuotaExceeded      Kind = "quota_exceeded"
	KindInternal           Kind = "internal_error"
	KindProviderError      Kind = "provider_error"
)

// defaultStatus is the one true mapping from error kind to HTTP status.
// Every /v1 handler routes through New so this table is the single place
// that decides status codes, rather than each call site picking its own.
var defaultStatus = map[Kind]int{
	KindUnauthorized:       http.StatusUnauthorized,
	KindForbidden:          http.StatusForbidden,
	KindNotFound:           http.StatusNotFound,
	KindInvalidRequest:     http.StatusBadRequest,
	KindGuardrailViolation: http.StatusBadRequest,
	KindRateLimited:        http.StatusTooManyRequests,
	KindQuotaExceeded:      http.StatusTooManyRequests,
	KindInternal:           http.StatusInternalServerError,
	KindProviderError:      http.StatusBadGateway,
}

// Error is the platform's client-facing error value. It implements the
// standard error interface so it can flow through %w wrapping and
// errors.As like any other error.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	Details    map[string]any
}

func (e *Error) Error() string { return e.Message }

// New builds an Error with kind's default HTTP status. Callers that need
// a non-default status (a rare exception to the table) can overwrite
// HTTPStatus directly on the returned value.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, HTTPStatus: defaultStatus[kind], Message: message}
}

// WithDetails attaches extra fields (e.g. which guardrail scanner fired)
// to the error body and returns the same Error for chaining.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// WriteJSON renders err as the nested error envelope. requestID, when
// non-empty, rides along so a caller can correlate a failed response with
// server-side logs without the handler having to repeat itself.
func WriteJSON(w http.ResponseWriter, err *Error, requestID string) {
	status := err.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := map[string]any{
		"code":    string(err.Kind),
		"message": err.Message,
	}
	for k, v := range err.Details {
		body[k] = v
	}
	if requestID != "" {
		body["request_id"] = requestID
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"error": body})
}
