// Package editorial implements the AI editorialisation stage: calling a
// chat-completion API for a summary, recording attempts, and enforcing
// per-site token budgets.
package editorial

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/curatorhq/curator/internal/content"
)

// maxResponseBody bounds how much of the completion response is read.
const maxResponseBody = 1 << 20

// Request is one completion call.
type Request struct {
	System    string
	User      string
	MaxTokens int
}

// Completion is the model output plus the token accounting the budget
// tracker needs.
type Completion struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client calls a completion API.
type Client interface {
	Complete(ctx context.Context, req Request) (Completion, error)
}

// HTTPClientConfig configures HTTPClient.
type HTTPClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	cfg    HTTPClientConfig
	client *http.Client
}

// NewHTTPClient constructs an HTTPClient.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request. The model is asked for a JSON
// object response.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Completion, error) {
	if c.cfg.BaseURL == "" {
		return Completion{}, &content.ConfigurationError{
			Key: "editorial.base_url",
			Err: errors.New("no completion endpoint configured"),
		}
	}
	if c.cfg.APIKey == "" {
		return Completion{}, &content.ConfigurationError{
			Key: "editorial.api_key",
			Err: errors.New("no api key configured"),
		}
	}

	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens: req.MaxTokens,
		ResponseFormat: &struct {
			Type string `json:"type"`
		}{Type: "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Completion{}, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Completion{}, &content.ConfigurationError{Key: "editorial.base_url", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return Completion{}, &content.TransientError{Err: fmt.Errorf("completion request: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Completion{}, &content.TransientError{Err: fmt.Errorf("read completion response: %w", err)}
	}
	if err := classifyAPIStatus(resp.StatusCode, raw); err != nil {
		return Completion{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Completion{}, &content.DataShapeError{Err: fmt.Errorf("decode completion response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return Completion{}, &content.DataShapeError{Err: errors.New("completion response has no choices")}
	}

	return Completion{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

func classifyAPIStatus(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail := apiErrorMessage(body)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &content.ConfigurationError{
			Key: "editorial.api_key",
			Err: fmt.Errorf("completion api rejected credentials with status %d: %s", status, detail),
		}
	case status == http.StatusTooManyRequests:
		return &content.RateLimitedError{Err: fmt.Errorf("completion api returned status %d: %s", status, detail)}
	case status >= 500:
		return &content.TransientError{Err: fmt.Errorf("completion api returned status %d: %s", status, detail)}
	default:
		return &content.DataShapeError{Err: fmt.Errorf("completion api returned status %d: %s", status, detail)}
	}
}

func apiErrorMessage(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return "unrecognized error body"
}
