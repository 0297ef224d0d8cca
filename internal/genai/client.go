// Package genai is the HTTP client for the external generative-AI
// service. It speaks an OpenAI-compatible chat-completions dialect and
// supports JSON-schema constrained output for structured responses.
package genai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ArhamBafna/discord-poll-bot/internal/resilience"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Message is one chat message in the request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Schema describes the expected JSON output structure for structured
// chat responses.
type Schema struct {
	Type       string                    `json:"type"`
	Properties map[string]SchemaProperty `json:"properties"`
	Required   []string                  `json:"required,omitempty"`
}

// SchemaProperty describes a single field within a Schema.
type SchemaProperty struct {
	Type        string          `json:"type"`
	Description string          `json:"description,omitempty"`
	Items       *SchemaProperty `json:"items,omitempty"`
}

// Client communicates with the generative-AI service over HTTP.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// New creates a Client for the given model using the default endpoint.
func New(apiKey, model string) *Client {
	return &Client{
		baseURL: defaultBaseURL,
		apiKey:  apiKey,
		model:   model,
		// Per-call deadlines come from the resilience wrapper's attempt
		// context, not a client-wide timeout.
		httpClient: &http.Client{},
	}
}

// NewWithBaseURL creates a client pointing at a custom base URL (for testing).
func NewWithBaseURL(apiKey, model, baseURL string) *Client {
	c := New(apiKey, model)
	c.baseURL = strings.TrimRight(baseURL, "/")
	return c
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string       `json:"type"`
	JSONSchema *namedSchema `json:"json_schema,omitempty"`
}

type namedSchema struct {
	Name   string  `json:"name"`
	Schema *Schema `json:"schema"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat sends messages to the model and returns the assistant's reply.
// When jsonSchema is non-nil the service is asked for schema-constrained
// JSON output. Overload signals (HTTP 429/5xx) and connection failures
// are marked retryable via resilience.Transient; any other failure is
// returned as-is and treated as permanent upstream.
func (c *Client) Chat(ctx context.Context, messages []Message, jsonSchema *Schema) (string, error) {
	cr := chatRequest{
		Model:    c.model,
		Messages: messages,
	}
	if jsonSchema != nil {
		cr.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &namedSchema{Name: "response", Schema: jsonSchema},
		}
	}

	body, err := json.Marshal(cr)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Connection-level failure: the service may be briefly
		// unreachable, so let the caller retry.
		return "", resilience.Transient(fmt.Errorf("chat request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", resilience.Transient(fmt.Errorf("chat: service returned status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("chat: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(result.Choices) == 0 {
		return "", fmt.Errorf("chat: response contained no choices")
	}

	return result.Choices[0].Message.Content, nil
}

// Ping reports whether the service answers within the given timeout.
// Used by the status command only.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
