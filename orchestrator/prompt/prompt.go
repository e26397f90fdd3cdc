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

// Package prompt implements prompt assembly: retrieval-augmented context
// composition and template variable resolution, run ahead of the upstream
// call on the request path and after it on none (output is never
// templated).
package prompt

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
)

// Message mirrors the OpenAI chat message shape used across the request
// pipeline.
type Message struct {
	Role    string
	Content string
}

// RagCfg is the Resolved Context's rag_cfg, an explicit struct rather than
// a loose map.
type RagCfg struct {
	Enabled           bool
	DefaultCollection string
	TopK              int
}

// VariableSource describes how one template variable is resolved.
type VariableSource struct {
	Source       string // "rag", "static", or "request"
	CollectionID string
	TopK         int
	Value        string
	Key          string
}

// TemplateCfg is the Resolved Context's template_cfg.
type TemplateCfg struct {
	Enabled         bool
	BaseTemplateID  string
	Content         string
	VariableMapping map[string]VariableSource
}

// Retriever fetches joined retrieval context for a query against a named
// collection, scoped to an org.
type Retriever interface {
	AssembleContext(ctx context.Context, query, collection, orgID string, topK int) (string, error)
}

// TemplateStore resolves a stored template's content by ID.
type TemplateStore interface {
	FetchTemplate(ctx context.Context, templateID string) (string, error)
}

// Result is what Process returns: the (possibly rewritten) message list
// plus bookkeeping the caller logs into the inference record.
type Result struct {
	Messages       []Message
	UsedTemplateID string
	RAGContextUsed bool
}

// Processor runs the RAG + template composition algorithm.
type Processor struct {
	retriever Retriever
	templates TemplateStore
}

// New builds a Processor. Either dependency may be nil; a nil Retriever
// makes any rag-sourced variable or rag fallback resolve to "" (so no RAG
// content is injected), and a nil TemplateStore makes a template-by-ID
// lookup (as opposed to inline content) fail closed.
func New(retriever Retriever, templates TemplateStore) *Processor {
	return &Processor{retriever: retriever, templates: templates}
}

// Process runs Rewrite -> RAG -> Template against messages. Rewrite is a
// no-op stage kept for pipeline-shape parity; upstream prompt rewriting is
// out of scope.
//
// Fails closed: any retrieval or template error is returned to the caller,
// which must turn it into a 500 prompt_processing_failed response rather
// than silently passing the unprocessed prompt through.
func (p *Processor) Process(ctx context.Context, messages []Message, orgID string, ragCfg RagCfg, templateCfg TemplateCfg, templateVars map[string]string) (*Result, error) {
	if len(messages) == 0 {
		return &Result{Messages: messages}, nil
	}

	userIdx := lastUserMessageIndex(messages)
	if userIdx == -1 {
		return &Result{Messages: messages}, nil
	}
	query := messages[userIdx].Content

	if !ragCfg.Enabled && !templateCfg.Enabled {
		return &Result{Messages: messages}, nil
	}

	if templateCfg.Enabled {
		return p.processTemplate(ctx, messages, orgID, query, ragCfg, templateCfg, templateVars)
	}

	// No template: RAG-only fallback, prepended to the query message.
	ctxText, err := p.retrieve(ctx, query, ragCfg.DefaultCollection, orgID, ragCfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("prompt_processing_failed: %w", err)
	}
	if ctxText == "" {
		return &Result{Messages: messages}, nil
	}
	out := make([]Message, len(messages))
	copy(out, messages)
	out[userIdx].Content = fmt.Sprintf("Context Information:\n%s\n\n%s", ctxText, query)
	return &Result{Messages: out, RAGContextUsed: true}, nil
}

func (p *Processor) processTemplate(ctx context.Context, messages []Message, orgID, query string, ragCfg RagCfg, templateCfg TemplateCfg, templateVars map[string]string) (*Result, error) {
	variables := make(map[string]string, len(templateVars)+2)
	for k, v := range templateVars {
		variables[k] = v
	}

	ragUsed := false
	for varName, mapping := range templateCfg.VariableMapping {
		switch mapping.Source {
		case "rag":
			collection := mapping.CollectionID
			if collection == "" {
				collection = "default"
			}
			topK := mapping.TopK
			if topK == 0 {
				topK = 3
			}
			val, err := p.retrieve(ctx, query, collection, orgID, topK)
			if err != nil {
				return nil, fmt.Errorf("prompt_processing_failed: %w", err)
			}
			if val != "" {
				variables[varName] = val
				ragUsed = true
			}
		case "static":
			variables[varName] = mapping.Value
		case "request":
			key := mapping.Key
			if key == "" {
				key = varName
			}
			if v, ok := variables[key]; ok {
				variables[varName] = v
			}
		}
	}

	if _, ok := variables["query"]; !ok {
		variables["query"] = query
	}

	if ragCfg.Enabled && !ragUsed {
		if _, ok := variables["context"]; !ok {
			collection := ragCfg.DefaultCollection
			if collection == "" {
				collection = "default"
			}
			topK := ragCfg.TopK
			if topK == 0 {
				topK = 3
			}
			ctxText, err := p.retrieve(ctx, query, collection, orgID, topK)
			if err != nil {
				return nil, fmt.Errorf("prompt_processing_failed: %w", err)
			}
			if ctxText != "" {
				variables["context"] = ctxText
				ragUsed = true
			}
		}
	}

	content := templateCfg.Content
	usedTemplateID := templateCfg.BaseTemplateID
	if content == "" {
		if p.templates == nil {
			return nil, fmt.Errorf("prompt_processing_failed: no template store configured for template %q", templateCfg.BaseTemplateID)
		}
		fetched, err := p.templates.FetchTemplate(ctx, templateCfg.BaseTemplateID)
		if err != nil {
			return nil, fmt.Errorf("prompt_processing_failed: %w", err)
		}
		content = fetched
	} else if usedTemplateID == "" {
		usedTemplateID = "custom_override"
	}
	if usedTemplateID == "" {
		usedTemplateID = "dynamic"
	}

	rendered, err := render(content, variables)
	if err != nil {
		return nil, fmt.Errorf("prompt_processing_failed: %w", err)
	}

	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: rendered})
	for _, m := range messages {
		if m.Role != "system" {
			out = append(out, m)
		}
	}

	return &Result{Messages: out, UsedTemplateID: usedTemplateID, RAGContextUsed: ragUsed}, nil
}

func (p *Processor) retrieve(ctx context.Context, query, collection, orgID string, topK int) (string, error) {
	if p.retriever == nil {
		return "", nil
	}
	if orgID == "" {
		orgID = "default"
	}
	return p.retriever.AssembleContext(ctx, query, collection, orgID, topK)
}

func render(content string, variables map[string]string) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func lastUserMessageIndex(messages []Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return i
		}
	}
	return -1
}
