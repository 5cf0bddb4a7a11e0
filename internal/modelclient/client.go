// Package modelclient is a thin JSON client for a remote completion API.
// Request defaults (model name, token budget, temperature, timeout) come
// from configuration so callers only supply a prompt.
package modelclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"fanout/internal/config"
)

// Client talks to the configured model API endpoint.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	logger      *slog.Logger
}

// CompletionRequest is the wire format sent to the model API.
type CompletionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

// CompletionResponse is the wire format returned by the model API.
type CompletionResponse struct {
	Completion string `json:"completion"`
	Error      string `json:"error,omitempty"`
}

// New constructs a client from config defaults.
func New(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL:     strings.TrimRight(cfg.ModelAPIURL, "/"),
		apiKey:      cfg.ModelAPIKey,
		model:       cfg.ModelName,
		maxTokens:   cfg.ModelMaxTokens,
		temperature: cfg.ModelTemperature,
		httpClient:  &http.Client{Timeout: cfg.ModelTimeout()},
		logger:      logger,
	}
}

// Complete sends one prompt and returns the completion text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(CompletionRequest{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/complete", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode >= 400 {
		c.logger.Warn("Model API rejected request",
			slog.Int("status", resp.StatusCode))
		return "", fmt.Errorf("model api returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out CompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("model api error: %s", out.Error)
	}
	return out.Completion, nil
}
