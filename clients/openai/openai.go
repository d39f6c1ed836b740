package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tippelaget/config"
	"tippelaget/internal/breakers"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("openai api key not configured")

// APIError is a non-2xx response from the completions endpoint.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai status=%d: %s", e.Status, e.Message)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Client calls the chat completions API.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	breaker    *breakers.Breaker
	baseURL    string
	apiKey     string
}

func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OpenAI.APIKey == "" {
		logger.Warn("OPENAI_API_KEY not set, assistants disabled")
	}

	return &Client{
		logger:     logger,
		httpClient: &http.Client{Timeout: cfg.OpenAI.Timeout},
		breaker:    breakers.New(logger, "openai"),
		baseURL:    strings.TrimRight(cfg.OpenAI.BaseURL, "/"),
		apiKey:     cfg.OpenAI.APIKey,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Complete sends prompt as a single user message and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, model, prompt string) (string, error) {
	if !c.Enabled() {
		return "", ErrNotConfigured
	}

	var answer string
	err := c.breaker.Do(func() error {
		var err error
		answer, err = c.complete(ctx, model, prompt)
		return err
	})
	if err != nil {
		return "", err
	}
	return answer, nil
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:    model,
		Messages: []message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var er errorResponse
		msg := string(raw)
		if json.Unmarshal(raw, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return "", &APIError{Status: resp.StatusCode, Message: msg}
	}

	var out completionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode json: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}

	c.logger.Debug("completion received", zap.String("model", model))
	return out.Choices[0].Message.Content, nil
}
