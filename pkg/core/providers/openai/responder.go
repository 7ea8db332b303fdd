// Package openai implements the OpenAI Chat Completions responder used to
// generate the agent's conversational replies.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shanewala/voice-agent-websocket/pkg/core/types"
)

const (
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com/v1"

	// DefaultModel is the chat model used when the agent profile does not
	// name one.
	DefaultModel = "gpt-4o-mini"

	// DefaultMaxTokens caps reply length. Spoken replies are short; long
	// completions only add synthesis latency.
	DefaultMaxTokens = 150

	// DefaultTemperature is the sampling temperature for replies.
	DefaultTemperature = 0.7
)

// Responder generates chat replies via the Chat Completions API.
type Responder struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
}

// Option configures the responder.
type Option func(*Responder)

// WithBaseURL sets a custom base URL (for testing or proxying).
func WithBaseURL(url string) Option {
	return func(r *Responder) {
		if url != "" {
			r.baseURL = url
		}
	}
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(r *Responder) {
		if model != "" {
			r.model = model
		}
	}
}

// WithMaxTokens overrides the reply token cap.
func WithMaxTokens(n int) Option {
	return func(r *Responder) {
		if n > 0 {
			r.maxTokens = n
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(r *Responder) {
		if client != nil {
			r.httpClient = client
		}
	}
}

// New creates a responder for the given API key.
func New(apiKey string, opts ...Option) *Responder {
	r := &Responder{
		apiKey:      apiKey,
		baseURL:     DefaultBaseURL,
		model:       DefaultModel,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		httpClient:  &http.Client{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the provider identifier.
func (r *Responder) Name() string { return "openai" }

type chatRequest struct {
	Model       string          `json:"model"`
	Messages    []types.Message `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Respond produces the next assistant reply for the given conversation.
// The history must already include the latest user message. An empty
// choices list yields an empty reply without error.
func (r *Responder) Respond(ctx context.Context, history []types.Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       r.model,
		Messages:    history,
		MaxTokens:   r.maxTokens,
		Temperature: r.temperature,
		Stream:      false,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(r.baseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", r.parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", nil
	}
	return parsed.Choices[0].Message.Content, nil
}

func (r *Responder) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return fmt.Errorf("openai: %s (status %d)", parsed.Error.Message, resp.StatusCode)
	}
	return fmt.Errorf("openai: unexpected status %d", resp.StatusCode)
}
