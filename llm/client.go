// Package llm talks to an OpenAI-compatible chat completion endpoint to
// translate serialized Blueprint graphs into source code.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/flashpoint493/NodeToCode-sub001/task"
)

const systemPrompt = "You are an expert Unreal Engine developer. Translate the " +
	"provided Blueprint graph JSON into clean, idiomatic source code in the " +
	"requested language. Return only the code."

// Config holds the backend connection settings.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	HTTPTimeout time.Duration
}

// Client is a task.Translator backed by an OpenAI-compatible HTTP API.
// Transient failures are retried with exponential backoff.
type Client struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

// NewClient constructs a Client. A non-positive HTTP timeout falls back to
// two minutes; MaxRetries below one falls back to three.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 2 * time.Minute
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		logger: logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// TranslateBlueprint implements task.Translator.
func (c *Client) TranslateBlueprint(ctx context.Context, req task.TranslateRequest) (string, error) {
	userPrompt := fmt.Sprintf("Target language: %s\n\nBlueprint graph:\n%s",
		req.TargetLanguage, string(req.Blueprint))

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode translation request: %w", err)
	}

	operation := func() (string, error) {
		return c.doRequest(ctx, body)
	}

	code, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(c.cfg.MaxRetries)))
	if err != nil {
		return "", fmt.Errorf("translation request failed: %w", err)
	}
	return code, nil
}

func (c *Client) doRequest(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.logger.Warn("LLM request failed, will retry", "error", err)
		return "", err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.logger.Warn("LLM backend returned retryable status",
			"status", resp.StatusCode)
		return "", fmt.Errorf("backend status %d", resp.StatusCode)
	default:
		return "", backoff.Permanent(fmt.Errorf("backend status %d: %s", resp.StatusCode, respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	if parsed.Error != nil {
		return "", backoff.Permanent(fmt.Errorf("backend error: %s", parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("backend returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}
