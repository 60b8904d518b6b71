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
	"time"

	"github.com/sheetgenius/sheetgenius/internal/pkg/env"
)

const (
	defaultAPIBaseURL = "https://api.openai.com/v1"

	chatModel          = "gpt-3.5-turbo"
	chatMaxTokens      = 200
	chatTemperature    = 0.1
	systemInstructions = "You are a spreadsheet formula expert. Generate Excel/Google Sheets formulas based on user descriptions. Return only the formula and a brief explanation."
)

// ErrNotConfigured is returned on generation attempts while OPENAI_API_KEY
// is absent. The server boots without the key; only generation requests fail.
var ErrNotConfigured = errors.New("openai api key is not configured")

// Client generates a raw completion for a formula prompt. Tests substitute it
// with a fake.
type Client interface {
	GenerateFormulaText(ctx context.Context, prompt string) (string, error)
}

type httpClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
}

// NewClientFromEnv builds the OpenAI client from OPENAI_API_KEY. The key is
// checked per request, not at construction time, so the server comes up even
// when generation is unconfigured; calls then fail with ErrNotConfigured.
func NewClientFromEnv() Client {
	return &httpClient{
		APIKey:     strings.TrimSpace(env.GetEnv("OPENAI_API_KEY", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("OPENAI_API_BASE_URL", defaultAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// GenerateFormulaText asks the chat completion API for a formula and returns
// the raw assistant message content.
func (c *httpClient) GenerateFormulaText(ctx context.Context, prompt string) (string, error) {
	if c.APIKey == "" {
		return "", ErrNotConfigured
	}
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("prompt is required")
	}

	payload := chatCompletionRequest{
		Model: chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: systemInstructions},
			{Role: "user", Content: "Generate a spreadsheet formula for: " + prompt},
		},
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("openai chat completion failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if out.Error != nil {
		return "", fmt.Errorf("openai chat completion error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("openai chat completion returned no choices")
	}
	return out.Choices[0].Message.Content, nil
}
