// Package llm contains the resilient completion client and the backend
// adapters it fans out to. Adapters are a capability set behind one
// interface; a factory keyed by backend id and environment picks the real
// SDK/HTTP implementation or the deterministic mock.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/neuralmesh/orchestrator/internal/core"
	"github.com/neuralmesh/orchestrator/internal/registry"
)

// Options tunes a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64

	// Mode overrides the execution mode for this call: "mock" or "real".
	// Empty defers to the client-level mode.
	Mode string
}

// AdapterResult is the raw backend output before timing and audit.
type AdapterResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Adapter invokes one backend family.
type Adapter interface {
	Complete(ctx context.Context, model registry.Model, prompt string, opts Options) (AdapterResult, error)
}

// AdapterFactory resolves adapters per backend. Missing API keys degrade to
// the mock adapter with a startup warning, never a hard failure.
type AdapterFactory struct {
	registry *registry.Registry
	mock     *MockAdapter
	logger   *log.Logger

	httpClient *http.Client
}

// NewAdapterFactory builds the factory over the catalogue.
func NewAdapterFactory(reg *registry.Registry, mock *MockAdapter) *AdapterFactory {
	if mock == nil {
		mock = NewMockAdapter(MockConfig{})
	}
	return &AdapterFactory{
		registry:   reg,
		mock:       mock,
		logger:     log.New(log.Writer(), "[LLM] ", log.LstdFlags),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Mock returns the shared mock adapter.
func (f *AdapterFactory) Mock() *MockAdapter { return f.mock }

// ForBackend returns the real adapter for a backend family, degrading to
// mock when the configured API key is absent from the environment.
func (f *AdapterFactory) ForBackend(id core.BackendID) Adapter {
	cfg, ok := f.registry.BackendConfig(id)
	if !ok {
		f.logger.Printf("⚠️ Unknown backend %q, using mock adapter", id)
		return f.mock
	}

	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	if apiKey == "" {
		f.logger.Printf("⚠️ %s not set, backend %q falls back to mock", cfg.APIKeyEnv, id)
		return f.mock
	}

	switch id {
	case core.BackendAnthropic:
		return newAnthropicAdapter(apiKey)
	case core.BackendOpenAI:
		return &openAIAdapter{apiKey: apiKey, client: f.httpClient}
	case core.BackendGemini:
		return &geminiAdapter{apiKey: apiKey, client: f.httpClient}
	default:
		return f.mock
	}
}

// ----------------------------------------------------------------------------
// Anthropic (official SDK)
// ----------------------------------------------------------------------------

type anthropicAdapter struct {
	client anthropic.Client
}

func newAnthropicAdapter(apiKey string) *anthropicAdapter {
	return &anthropicAdapter{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (a *anthropicAdapter) Complete(ctx context.Context, model registry.Model, prompt string, opts Options) (AdapterResult, error) {
	maxTokens := opts.MaxTokens
	if maxTokens == 0 || maxTokens > model.MaxOutputTokens {
		maxTokens = model.MaxOutputTokens
	}

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model.ID),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return AdapterResult{}, fmt.Errorf("anthropic completion: %w", err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return AdapterResult{
		Content:      content,
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// ----------------------------------------------------------------------------
// OpenAI (chat completions REST)
// ----------------------------------------------------------------------------

type openAIAdapter struct {
	apiKey string
	client *http.Client
}

func (a *openAIAdapter) Complete(ctx context.Context, model registry.Model, prompt string, opts Options) (AdapterResult, error) {
	body := map[string]interface{}{
		"model":    model.ID,
		"messages": []map[string]string{{"role": "user", "content": prompt}},
	}
	if opts.MaxTokens > 0 {
		body["max_completion_tokens"] = opts.MaxTokens
	}

	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := a.postJSON(ctx, "https://api.openai.com/v1/chat/completions", body, &resp); err != nil {
		return AdapterResult{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return AdapterResult{}, fmt.Errorf("openai completion: empty choices for model %s", model.ID)
	}
	return AdapterResult{
		Content:      resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

func (a *openAIAdapter) postJSON(ctx context.Context, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	res, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return fmt.Errorf("status %d: %s", res.StatusCode, msg)
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// ----------------------------------------------------------------------------
// Gemini (generateContent REST)
// ----------------------------------------------------------------------------

type geminiAdapter struct {
	apiKey string
	client *http.Client
}

func (a *geminiAdapter) Complete(ctx context.Context, model registry.Model, prompt string, opts Options) (AdapterResult, error) {
	url := fmt.Sprintf(
		"https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		model.ID, a.apiKey)

	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return AdapterResult{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return AdapterResult{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := a.client.Do(req)
	if err != nil {
		return AdapterResult{}, fmt.Errorf("gemini completion: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return AdapterResult{}, fmt.Errorf("gemini completion: status %d: %s", res.StatusCode, msg)
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return AdapterResult{}, fmt.Errorf("gemini completion: decode: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return AdapterResult{}, fmt.Errorf("gemini completion: no candidates for model %s", model.ID)
	}

	var content string
	for _, part := range parsed.Candidates[0].Content.Parts {
		content += part.Text
	}
	return AdapterResult{
		Content:      content,
		InputTokens:  parsed.UsageMetadata.PromptTokenCount,
		OutputTokens: parsed.UsageMetadata.CandidatesTokenCount,
	}, nil
}
