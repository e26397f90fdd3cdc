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
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/limiter"
	"inferia/core/orchestrator/resolver"
	"inferia/core/shared/apierror"
)

// chatCompletionWireRequest is the JSON body clients POST to
// /v1/chat/completions, modeled on the OpenAI chat/completions schema.
type chatCompletionWireRequest struct {
	Model       string            `json:"model"`
	Messages    []chatMessageWire `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float64           `json:"temperature,omitempty"`
	Stream      bool              `json:"stream,omitempty"`
	Extra       map[string]any    `json:"extra,omitempty"`
}

type chatMessageWire struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionWireResponse struct {
	Model   string                     `json:"model"`
	Choices []chatCompletionWireChoice `json:"choices"`
	Usage   chatCompletionWireUsage    `json:"usage"`
}

type chatCompletionWireChoice struct {
	Index        int             `json:"index"`
	Message      chatMessageWire `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

type chatCompletionWireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// embeddingsWireRequest accepts either a single string or an array of
// strings for input, matching the OpenAI embeddings wire shape.
type embeddingsWireRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

type embeddingsWireResponse struct {
	Object string                   `json:"object"`
	Model  string                   `json:"model"`
	Data   []embeddingsWireDatum    `json:"data"`
	Usage  embeddingsWireUsage      `json:"usage"`
}

type embeddingsWireDatum struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float64 `json:"embedding"`
}

type embeddingsWireUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// RegisterRoutes wires the gateway's HTTP surface onto r.
func (g *Gateway) RegisterRoutes(r *mux.Router) {
	r.Use(requestIDMiddleware)
	r.Use(accessLogMiddleware)
	r.HandleFunc("/v1/chat/completions", g.handleChatCompletions).Methods(http.MethodPost)
	r.HandleFunc("/v1/embeddings", g.handleEmbeddings).Methods(http.MethodPost)
	r.HandleFunc("/v1/models", g.handleListModels).Methods(http.MethodGet)
	r.HandleFunc("/v1/health", g.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/health/ready", g.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// requestIDMiddleware echoes an inbound X-Request-ID back on the response,
// generating one when the caller didn't send one, so every response -
// success or error - carries an ID a caller can hand back for support.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote, since
// http.ResponseWriter doesn't expose it after the fact.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// Flush forwards to the underlying ResponseWriter so a streaming handler
// can still type-assert its way to http.Flusher through the wrapper.
func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLogMiddleware logs one line per request: method, path, resolved
// caller IP, status, and how long the handler took. Streaming responses
// run the handler for the whole relay lifetime, so this also doubles as
// the stream's duration.
func accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[gateway] %s %s ip=%s status=%d duration=%s request_id=%s",
			r.Method, r.URL.Path, clientIP(r), rec.status, time.Since(start), w.Header().Get("X-Request-ID"))
	})
}

func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	apiKey := bearerToken(r)
	if apiKey == "" {
		writeAPIError(w, apierror.New(apierror.KindUnauthorized, "missing Authorization bearer token"))
		return
	}

	var wire chatCompletionWireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	req := toDomainRequest(wire)
	if wire.Stream {
		g.handleStreamingChatCompletion(w, r, apiKey, req)
		return
	}

	resp, err := g.ChatCompletion(r.Context(), apiKey, req)
	if err != nil {
		writeChatError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(chatCompletionWireResponse{
		Model: resp.Model,
		Choices: []chatCompletionWireChoice{{
			Index:        0,
			Message:      chatMessageWire{Role: "assistant", Content: resp.Content},
			FinishReason: resp.FinishReason,
		}},
		Usage: chatCompletionWireUsage{
			PromptTokens:     resp.PromptTokens,
			CompletionTokens: resp.CompletionTokens,
			TotalTokens:      resp.TotalTokens,
		},
	})
}

// handleStreamingChatCompletion opens an upstream SSE relay and copies its
// bytes to the client as they arrive, flushing after every chunk so the
// caller sees tokens as the provider produces them instead of buffered in
// one shot at the end. The relay ends either when the upstream body hits
// EOF or when the client disconnects (request context canceled); either
// way session.Close() runs exactly once and schedules usage accounting.
func (g *Gateway) handleStreamingChatCompletion(w http.ResponseWriter, r *http.Request, apiKey string, req ChatCompletionRequest) {
	session, err := g.StreamChatCompletion(r.Context(), apiKey, req)
	if err != nil {
		writeChatError(w, err)
		return
	}
	defer session.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeAPIError(w, apierror.New(apierror.KindInternal, "streaming not supported by this transport"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	buf := make([]byte, 4096)
	for {
		n, readErr := session.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			flusher.Flush()
		}
		if readErr != nil {
			return
		}
	}
}

func (g *Gateway) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	apiKey := bearerToken(r)
	if apiKey == "" {
		writeAPIError(w, apierror.New(apierror.KindUnauthorized, "missing Authorization bearer token"))
		return
	}

	var wire embeddingsWireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, "invalid request body: "+err.Error()))
		return
	}

	input, err := decodeEmbeddingsInput(wire.Input)
	if err != nil {
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, err.Error()))
		return
	}

	resp, err := g.Embeddings(r.Context(), apiKey, EmbeddingsRequest{Model: wire.Model, Input: input})
	if err != nil {
		writeChatError(w, err)
		return
	}

	data := make([]embeddingsWireDatum, len(resp.Embeddings))
	for i, vec := range resp.Embeddings {
		data[i] = embeddingsWireDatum{Object: "embedding", Index: i, Embedding: vec}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(embeddingsWireResponse{
		Object: "list",
		Model:  resp.Model,
		Data:   data,
		Usage: embeddingsWireUsage{
			PromptTokens: resp.PromptTokens,
			TotalTokens:  resp.TotalTokens,
		},
	})
}

// decodeEmbeddingsInput accepts either a bare JSON string or a JSON array
// of strings, normalizing both to a slice.
func decodeEmbeddingsInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, errors.New("input is required")
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, errors.New("input is required")
		}
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, errors.New("input must be a string or array of strings")
	}
	if len(many) == 0 {
		return nil, errors.New("input is required")
	}
	return many, nil
}

func (g *Gateway) handleListModels(w http.ResponseWriter, r *http.Request) {
	apiKey := bearerToken(r)
	if apiKey == "" {
		writeAPIError(w, apierror.New(apierror.KindUnauthorized, "missing Authorization bearer token"))
		return
	}

	models, err := g.ListModels(r.Context(), apiKey)
	if err != nil {
		writeChatError(w, err)
		return
	}

	data := make([]map[string]any, len(models))
	for i, m := range models {
		data[i] = map[string]any{"id": m.ID, "owned_by": m.OwnedBy, "engine": m.Engine, "state": m.State}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

// handleHealth is a pure liveness probe: if the process can answer HTTP at
// all, it reports healthy.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady additionally checks that the gateway's collaborators were
// actually wired in, catching a misconfigured startup before it serves
// traffic that would fail on every request.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if g.resolver == nil || g.adapters == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// writeChatError maps a pipeline error to an apierror.Kind: each kind of
// failure (bad credentials, forbidden deployment scope, unknown model,
// guardrail block, rate limit, quota, bad deployment, unreachable
// provider) gets its own HTTP status and code so a client can branch on
// err.error.code instead of parsing message text.
func writeChatError(w http.ResponseWriter, err error) {
	var rl *ErrRateLimited
	var blocked *ErrBlocked
	var slot *limiter.ErrSlotTimeout

	switch {
	case errors.Is(err, resolver.ErrUnauthorized):
		writeAPIError(w, apierror.New(apierror.KindUnauthorized, "invalid api key"))
	case errors.Is(err, resolver.ErrForbidden):
		writeAPIError(w, apierror.New(apierror.KindForbidden, "api key not permitted for this model"))
	case errors.Is(err, resolver.ErrNotFound):
		writeAPIError(w, apierror.New(apierror.KindNotFound, "model not found"))
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())+1))
		writeAPIError(w, apierror.New(apierror.KindRateLimited, err.Error()))
	case errors.As(err, &slot):
		w.Header().Set("Retry-After", strconv.Itoa(limiter.RetryAfterSeconds))
		writeAPIError(w, apierror.New(apierror.KindRateLimited, err.Error()))
	case errors.As(err, &blocked):
		details := map[string]any{"scan_type": string(blocked.ScanType)}
		if len(blocked.Violations) > 0 {
			details["violation"] = map[string]any{
				"scanner": blocked.Violations[0].Scanner,
				"type":    blocked.Violations[0].Type,
			}
		}
		writeAPIError(w, apierror.New(apierror.KindGuardrailViolation, err.Error()).WithDetails(details))
	case errors.Is(err, ErrBadDeployment):
		writeAPIError(w, apierror.New(apierror.KindInternal, err.Error()))
	case errors.Is(err, ErrQuotaExceeded):
		writeAPIError(w, apierror.New(apierror.KindQuotaExceeded, err.Error()))
	case errors.Is(err, ErrEmbeddingsNotSupported):
		writeAPIError(w, apierror.New(apierror.KindInvalidRequest, err.Error()))
	default:
		log.Printf("[gateway] request failed: %v", err)
		writeAPIError(w, apierror.New(apierror.KindProviderError, "upstream request failed"))
	}
}

// writeAPIError renders err through apierror.WriteJSON, attaching the
// request ID requestIDMiddleware already stamped on the response so a
// client can correlate a failed call with server-side logs.
func writeAPIError(w http.ResponseWriter, err *apierror.Error) {
	apierror.WriteJSON(w, err, w.Header().Get("X-Request-ID"))
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// clientIP extracts the caller's address for logging and usage records,
// preferring explicit proxy-supplied headers over the raw TCP source in
// the order a gateway typically sits behind: a trusted internal header,
// then the common reverse-proxy conventions, falling back to RemoteAddr.
func clientIP(r *http.Request) string {
	for _, h := range []string{"X-IP-Address", "X-Client-IP"} {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.Index(xff, ","); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if v := r.Header.Get("X-Real-IP"); v != "" {
		return v
	}
	return r.RemoteAddr
}

func toDomainRequest(wire chatCompletionWireRequest) ChatCompletionRequest {
	messages := make([]adapter.ChatMessage, len(wire.Messages))
	for i, m := range wire.Messages {
		messages[i] = adapter.ChatMessage{Role: m.Role, Content: m.Content}
	}
	return ChatCompletionRequest{
		Model:       wire.Model,
		Messages:    messages,
		MaxTokens:   wire.MaxTokens,
		Temperature: wire.Temperature,
		Stream:      wire.Stream,
		Extra:       wire.Extra,
	}
}
