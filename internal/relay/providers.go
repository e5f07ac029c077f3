package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"AIChatbot/internal/backend"
	"AIChatbot/internal/config"
)

const (
	openAITextModel  = "gpt-4o-mini"
	openAIImageModel = "dall-e-3"
	anthropicModel   = "claude-sonnet-4-20250514"
	grokModel        = "grok-1"
	maxTokens        = 500
)

// providerError is a non-200 answer from an upstream provider
type providerError struct {
	status int
	body   string
}

func (e *providerError) Error() string {
	return fmt.Sprintf("provider API error: %d - %s", e.status, e.body)
}

// apiKey returns the credential the backend needs, or "" when none is needed
func (h *Handler) apiKey(backendName string) (string, string) {
	switch backendName {
	case config.BackendOpenAI:
		return h.cfg.OpenAIKey, "OpenAI"
	case config.BackendAnthropic:
		return h.cfg.AnthropicKey, "Anthropic"
	case config.BackendGrok:
		return h.cfg.GrokKey, "Grok"
	}
	return "", ""
}

func (h *Handler) chatMessages(message string) []map[string]string {
	return []map[string]string{
		{"role": "system", "content": h.cfg.SystemPrompt},
		{"role": "user", "content": message},
	}
}

// completeText runs a text completion on the configured backend
func (h *Handler) completeText(ctx context.Context, message string) (string, error) {
	switch h.cfg.Backend {
	case config.BackendOpenAI:
		return h.callOpenAICompatible(ctx, "openai_api_call", h.cfg.OpenAIBaseURL+"/v1/chat/completions", h.cfg.OpenAIKey, openAITextModel, message)
	case config.BackendGrok:
		return h.callOpenAICompatible(ctx, "grok_api_call", h.cfg.GrokBaseURL+"/v1/chat/completions", h.cfg.GrokKey, grokModel, message)
	case config.BackendAnthropic:
		return h.callAnthropic(ctx, message)
	case config.BackendOllama:
		return h.callOllama(ctx, message)
	}
	return "", fmt.Errorf("unknown backend: %s", h.cfg.Backend)
}

// callOpenAICompatible calls an OpenAI-compatible chat completions API
func (h *Handler) callOpenAICompatible(ctx context.Context, spanName, url, apiKey, model, message string) (string, error) {
	ctx, span := h.tracer.Start(ctx, spanName)
	defer span.End()

	reqBody := backend.OpenAIRequest{
		Model:     model,
		Messages:  h.chatMessages(message),
		MaxTokens: maxTokens,
	}

	var apiResp backend.OpenAIResponse
	if err := h.postJSON(ctx, url, map[string]string{"Authorization": "Bearer " + apiKey}, reqBody, &apiResp); err != nil {
		return "", err
	}

	h.recordMetrics(ctx, apiResp.Usage)

	if len(apiResp.Choices) > 0 {
		return apiResp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("empty response from %s", model)
}

// callAnthropic calls the Anthropic messages API
func (h *Handler) callAnthropic(ctx context.Context, message string) (string, error) {
	ctx, span := h.tracer.Start(ctx, "anthropic_api_call")
	defer span.End()

	reqBody := backend.AnthropicRequest{
		Model:     anthropicModel,
		MaxTokens: maxTokens,
		System:    h.cfg.SystemPrompt,
		Messages:  []backend.AnthropicMessage{{Role: "user", Content: message}},
	}
	headers := map[string]string{
		"x-api-key":         h.cfg.AnthropicKey,
		"anthropic-version": "2023-06-01",
	}

	var apiResp backend.AnthropicResponse
	if err := h.postJSON(ctx, h.cfg.AnthropicBaseURL+"/v1/messages", headers, reqBody, &apiResp); err != nil {
		return "", err
	}

	h.recordMetrics(ctx, apiResp.Usage)

	for _, content := range apiResp.Content {
		if content.Type == "text" {
			return content.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from Anthropic")
}

// callOllama calls the Ollama chat API
func (h *Handler) callOllama(ctx context.Context, message string) (string, error) {
	ctx, span := h.tracer.Start(ctx, "ollama_api_call")
	defer span.End()

	reqBody := backend.OllamaRequest{
		Model:    h.cfg.OllamaModel,
		Messages: h.chatMessages(message),
		Stream:   false,
	}

	var apiResp backend.OllamaResponse
	if err := h.postJSON(ctx, h.cfg.OllamaBaseURL+"/api/chat", nil, reqBody, &apiResp); err != nil {
		return "", err
	}

	h.recordMetrics(ctx, map[string]interface{}{
		"prompt_tokens":     float64(apiResp.PromptEvalCount),
		"completion_tokens": float64(apiResp.EvalCount),
	})

	return apiResp.Message.Content, nil
}

// generateImage calls the OpenAI images API and returns the image URL
func (h *Handler) generateImage(ctx context.Context, prompt string) (string, error) {
	ctx, span := h.tracer.Start(ctx, "openai_image_call")
	defer span.End()

	reqBody := backend.OpenAIImageRequest{
		Model:   openAIImageModel,
		Prompt:  prompt,
		N:       1,
		Size:    "1024x1024",
		Quality: "standard",
	}

	var apiResp backend.OpenAIImageResponse
	if err := h.postJSON(ctx, h.cfg.OpenAIBaseURL+"/v1/images/generations", map[string]string{"Authorization": "Bearer " + h.cfg.OpenAIKey}, reqBody, &apiResp); err != nil {
		return "", err
	}

	if len(apiResp.Data) == 0 || apiResp.Data[0].URL == "" {
		return "", fmt.Errorf("empty response from %s", openAIImageModel)
	}
	return apiResp.Data[0].URL, nil
}

// postJSON posts body to url and decodes a 200 response into out
func (h *Handler) postJSON(ctx context.Context, url string, headers map[string]string, body, out interface{}) error {
	start := time.Now()

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if h.duration != nil {
		h.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if resp.StatusCode != http.StatusOK {
		return &providerError{status: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// recordMetrics records OpenTelemetry metrics from usage data
func (h *Handler) recordMetrics(ctx context.Context, usage map[string]interface{}) {
	for key, value := range usage {
		intVal, ok := value.(float64)
		if !ok {
			continue
		}
		counter, err := h.meter.Int64Counter(
			fmt.Sprintf("llm.usage.%s", key),
			metric.WithDescription(fmt.Sprintf("LLM usage metric: %s", key)),
		)
		if err != nil {
			h.logger.Warn("failed to create counter", "key", key, "error", err)
			continue
		}
		counter.Add(ctx, int64(intVal))
	}
}
