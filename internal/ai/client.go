// Package ai implements the generator collaborator over an OpenAI-compatible
// chat-completions API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/quizmate/quizmate/internal/prompt"
)

// Client calls a chat-completions endpoint and returns the reply text blob.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewClient creates a generator client. baseURL is the completions endpoint
// root (e.g. https://api.openai.com/v1).
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model       string           `json:"model"`
	Temperature float64          `json:"temperature"`
	Messages    []prompt.Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message prompt.Message `json:"message"`
	} `json:"choices"`
}

// Generate sends the message window and returns the model's reply text.
func (c *Client) Generate(ctx context.Context, msgs []prompt.Message) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.model,
		Temperature: 0.7,
		Messages:    msgs,
	})
	if err != nil {
		return "", fmt.Errorf("ai: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("ai: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ai: status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var out chatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("ai: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("ai: empty response")
	}
	return out.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
