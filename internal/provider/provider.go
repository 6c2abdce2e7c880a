// Package provider implements the LLM provider adapter contract:
// {promptText, modeLabel, model} -> {rawText, mementoDraft}, with typed,
// retryable-aware errors.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/SolLabsHQ/solserver/pkg/contracts"
	"github.com/cenkalti/backoff/v4"
)

// FakeDriver is the deterministic, dependency-free default provider. It
// echoes a well-formed envelope derived from the prompt so the pipeline is
// runnable without any external credentials.
type FakeDriver struct{}

func (FakeDriver) Kind() string { return "fake" }

func (FakeDriver) Call(_ context.Context, req contracts.ProviderRequest) (*contracts.ProviderResponse, error) {
	payload, _ := json.Marshal(map[string]string{"assistant_text": "Acknowledged: " + truncate(req.PromptText, 80)})
	text := string(payload)
	return &contracts.ProviderResponse{
		RawText: text,
		Usage: contracts.ProviderUsage{
			PromptTokens:     int64(len(req.PromptText) / 4),
			CompletionTokens: int64(len(text) / 4),
			TotalTokens:      int64((len(req.PromptText) + len(text)) / 4),
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OpenAIDriver calls the OpenAI chat completions API. Retries transient
// upstream failures with exponential backoff via cenkalti/backoff.
type OpenAIDriver struct {
	APIKey string
	Model  string
	Client *http.Client
}

func NewOpenAIDriver(apiKey, model string) *OpenAIDriver {
	return &OpenAIDriver{
		APIKey: apiKey,
		Model:  model,
		Client: &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

type openAIChatRequest struct {
	Model    string              `json:"model"`
	Messages []openAIChatMessage `json:"messages"`
}

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (d *OpenAIDriver) Call(ctx context.Context, req contracts.ProviderRequest) (*contracts.ProviderResponse, error) {
	if d.APIKey == "" {
		return nil, &contracts.ProviderError{Code: "openai_api_key_missing", Message: "OPENAI_API_KEY is not set", Retryable: false}
	}
	model := req.Model
	if model == "" {
		model = d.Model
	}
	if model == "" {
		return nil, &contracts.ProviderError{Code: "openai_model_missing", Message: "OPENAI_MODEL is not set", Retryable: false}
	}

	var resp *contracts.ProviderResponse
	op := func() error {
		r, err := d.doCall(ctx, model, req.PromptText)
		if err != nil {
			if perr, ok := err.(*contracts.ProviderError); ok && !perr.Retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return resp, nil
}

func (d *OpenAIDriver) doCall(ctx context.Context, model, prompt string) (*contracts.ProviderResponse, error) {
	body, _ := json.Marshal(openAIChatRequest{
		Model: model,
		Messages: []openAIChatMessage{
			{Role: "user", Content: prompt},
		},
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.openai.com/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &contracts.ProviderError{Code: "provider_invalid_request", Message: err.Error(), Retryable: false}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+d.APIKey)

	httpResp, err := d.Client.Do(httpReq)
	if err != nil {
		return nil, &contracts.ProviderError{Code: "provider_upstream_failed", Message: err.Error(), Retryable: true}
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &contracts.ProviderError{Code: "provider_upstream_failed", Message: err.Error(), Retryable: true}
	}

	var parsed openAIChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &contracts.ProviderError{Code: "provider_failed", Message: "invalid upstream response", Retryable: true}
	}

	if httpResp.StatusCode >= 500 {
		return nil, &contracts.ProviderError{Code: "provider_upstream_failed", Message: "upstream server error", Retryable: true}
	}
	if httpResp.StatusCode == http.StatusTooManyRequests {
		return nil, &contracts.ProviderError{Code: "provider_upstream_failed", Message: "rate limited", Retryable: true}
	}
	if httpResp.StatusCode >= 400 {
		msg := "upstream request rejected"
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, &contracts.ProviderError{Code: "provider_invalid_request", Message: msg, Retryable: false}
	}
	if len(parsed.Choices) == 0 {
		return nil, &contracts.ProviderError{Code: "provider_failed", Message: "no choices returned", Retryable: true}
	}

	return &contracts.ProviderResponse{
		RawText: parsed.Choices[0].Message.Content,
		Usage: contracts.ProviderUsage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}, nil
}

var _ contracts.LLMProviderDriver = FakeDriver{}
var _ contracts.LLMProviderDriver = (*OpenAIDriver)(nil)
