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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"inferia/core/orchestrator/adapter"
	"inferia/core/orchestrator/limiter"
	"inferia/core/orchestrator/resolver"
)

// StreamSession is a live upstream SSE relay. The caller copies Body's
// bytes to the client byte-for-byte, untouched, and must call Close
// exactly once when the relay ends, whether that's a clean upstream close
// or a client disconnect. Close runs usage accounting on a detached
// goroutine and releases the concurrency slot the stream held for its
// entire lifetime.
type StreamSession struct {
	Body         io.ReadCloser
	DeploymentID string

	g        *Gateway
	rc       *resolver.Context
	model    string
	release  limiter.Release
	start    time.Time
	tracker  *sseTokenTracker
	closeOnce sync.Once
}

// Close stops tracking, releases the deployment's concurrency slot, and
// schedules the background accounting write. Safe to call more than once.
func (s *StreamSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Body.Close()
		latency := time.Since(s.start)
		promptTokens, completionTokens, totalTokens, ttft := s.tracker.snapshot()
		resp := &adapter.ChatResponse{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      totalTokens,
		}
		go s.g.recordUsage(s.rc, s.model, resp, latency, ttft, true)
		s.release()
	})
	return err
}

// StreamChatCompletion runs the same pipeline stages as ChatCompletion
// (resolve, rate limit, quota, input scan, prompt process, adapter/key
// resolution) but opens the upstream call as an SSE stream instead of
// waiting for a complete JSON body. There is no output guardrail scan on
// this path: the response is relayed to the caller incrementally, before
// any complete text exists to scan.
func (g *Gateway) StreamChatCompletion(ctx context.Context, apiKey string, req ChatCompletionRequest) (*StreamSession, error) {
	if req.Model == "" || len(req.Messages) == 0 {
		return nil, errors.New("model and messages are required")
	}

	rc, err := g.resolver.Resolve(ctx, apiKey, req.Model)
	if err != nil {
		return nil, err
	}

	if err := g.checkRateLimit(ctx, rc); err != nil {
		return nil, err
	}
	if err := g.checkQuota(ctx, rc, req.Model); err != nil {
		return nil, err
	}

	lastUser := lastUserContent(req.Messages)
	sanitized, err := g.scanInput(ctx, rc, lastUser)
	if err != nil {
		return nil, err
	}
	if sanitized != lastUser {
		req.Messages = replaceLastUserContent(req.Messages, sanitized)
	}

	release, err := g.acquireSlot(ctx, rc.Deployment.ID)
	if err != nil {
		return nil, err
	}

	messages, _, _, err := g.processPrompt(ctx, req, rc)
	if err != nil {
		release()
		return nil, err
	}

	if rc.Deployment.Endpoint == "" {
		release()
		return nil, ErrBadDeployment
	}

	a, err := g.adapters.Get(rc.Deployment.Engine, rc.Deployment.Endpoint)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to resolve adapter for engine %s: %w", rc.Deployment.Engine, err)
	}
	if _, ok := a.(adapter.DirectInvoker); ok {
		release()
		return nil, fmt.Errorf("engine %s does not support streaming", rc.Deployment.Engine)
	}

	providerKey, err := g.resolveProviderKeyRef(ctx, rc)
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to resolve provider credential: %w", err)
	}

	upstreamReq := adapter.ChatRequest{
		Model:       resolveModelName(rc),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
		Extra:       req.Extra,
	}

	upstreamResp, err := g.openUpstreamStream(ctx, a, rc.Deployment.Endpoint, providerKey, upstreamReq)
	if err != nil {
		release()
		if g.breakers != nil {
			g.breakers.RecordFailure(rc.Deployment.ID)
		}
		return nil, err
	}
	if g.breakers != nil {
		g.breakers.RecordSuccess(rc.Deployment.ID)
	}

	tracker := newSSETokenTracker()
	pr, pw := io.Pipe()
	go tracker.consume(pr)

	return &StreamSession{
		Body:         &teeCloser{r: io.TeeReader(upstreamResp.Body, pw), c: upstreamResp.Body, pw: pw},
		DeploymentID: rc.Deployment.ID,
		g:            g,
		rc:           rc,
		model:        req.Model,
		release:      release,
		start:        time.Now(),
		tracker:      tracker,
	}, nil
}

// teeCloser relays Read calls through a TeeReader (mirroring every byte
// into the accounting pipe) while Close closes both the upstream body and
// the pipe writer, so the tracker goroutine's Read on the far end of the
// pipe always unblocks with io.EOF instead of hanging past the relay's
// own lifetime.
type teeCloser struct {
	r  io.Reader
	c  io.Closer
	pw *io.PipeWriter
}

func (t *teeCloser) Read(p []byte) (int, error) { return t.r.Read(p) }

func (t *teeCloser) Close() error {
	t.pw.CloseWithError(io.EOF)
	return t.c.Close()
}

// sseTokenTracker scans `data: {...}` frames mirrored off the live relay
// to estimate completion_tokens/TTFT without ever touching the bytes the
// client receives. Usage fields are taken verbatim when an upstream
// reports them (vLLM/OpenAI both support stream_options.include_usage);
// completion_tokens otherwise falls back to a delta count, one token per
// non-empty content chunk, which is the best estimate available without
// a real tokenizer on the relay path.
type sseTokenTracker struct {
	mu               sync.Mutex
	start            time.Time
	ttft             time.Duration
	ttftSet          bool
	promptTokens     int
	completionTokens int
	totalTokens      int
	usageSeen        bool
}

func newSSETokenTracker() *sseTokenTracker {
	return &sseTokenTracker{start: time.Now()}
}

type sseChatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// consume reads lines off the mirrored pipe until EOF. It never returns
// an error to anything the client can see: the pipe is accounting-only.
func (t *sseTokenTracker) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			data, ok = strings.CutPrefix(line, "data:")
		}
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk sseChatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		t.observe(chunk)
	}
}

func (t *sseTokenTracker) observe(chunk sseChatChunk) {
	t.mu.Lock()
	defer t.mu.Unlock()

	contentSeen := false
	for _, c := range chunk.Choices {
		if c.Delta.Content != "" {
			contentSeen = true
			if !t.usageSeen {
				t.completionTokens++
			}
		}
	}
	if contentSeen && !t.ttftSet {
		t.ttft = time.Since(t.start)
		t.ttftSet = true
	}
	if chunk.Usage != nil {
		t.usageSeen = true
		t.promptTokens = chunk.Usage.PromptTokens
		t.completionTokens = chunk.Usage.CompletionTokens
		t.totalTokens = chunk.Usage.TotalTokens
	}
}

func (t *sseTokenTracker) snapshot() (promptTokens, completionTokens, totalTokens int, ttft time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := t.totalTokens
	if total == 0 {
		total = t.promptTokens + t.completionTokens
	}
	return t.promptTokens, t.completionTokens, total, t.ttft
}
