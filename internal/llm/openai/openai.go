// Package openai calls the chat completions endpoint and runs Batch API jobs.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// DefaultBaseURL is the public API root
const DefaultBaseURL = "https://api.openai.com/v1"

const chatCompletionsPath = "/v1/chat/completions"

// Message is one chat message; Content is a string or a list of parts
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ImageContent struct {
	Type     string   `json:"type"`
	ImageURL ImageURL `json:"image_url"`
}

// ChatRequest is the chat completions body, also embedded in batch lines
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal string  `json:"refusal,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

// Client talks to one OpenAI model
type Client struct {
	apiKey  string
	model   string
	baseURL string
	http    *http.Client
}

// NewClient creates a client; an empty baseURL selects DefaultBaseURL
func NewClient(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name returns the provider label
func (c *Client) Name() string {
	return "openai"
}

// encodeImage converts image bytes to a base64 data URL
func encodeImage(img *llm.Image) string {
	mime := img.MIME
	if mime == "" {
		mime = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(img.Data))
}

func (c *Client) chatRequest(req llm.Request) ChatRequest {
	user := []any{TextContent{Type: "text", Text: req.Prompt}}
	if req.Image != nil && len(req.Image.Data) > 0 {
		user = append(user, ImageContent{Type: "image_url", ImageURL: ImageURL{URL: encodeImage(req.Image)}})
	}

	var messages []Message
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, Message{Role: "user", Content: user})

	return ChatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
	}
}

// Generate sends one chat completion request
func (c *Client) Generate(ctx context.Context, req llm.Request) llm.Response {
	data, err := json.Marshal(c.chatRequest(req))
	if err != nil {
		return llm.Failure(0, fmt.Sprintf("failed to marshal request: %v", err), false)
	}

	status, body, err := c.do(ctx, http.MethodPost, "/chat/completions", "application/json", bytes.NewReader(data))
	if err != nil {
		return llm.Failure(0, err.Error(), ctx.Err() == nil)
	}
	if status < 200 || status >= 300 {
		return llm.Failure(status, errorMessage(body), llm.IsRetryableStatus(status))
	}

	var cr chatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return llm.Failure(status, fmt.Sprintf("failed to parse response: %v", err), true)
	}
	return decodeChat(cr)
}

// decodeChat maps a chat completion body onto the response union
func decodeChat(cr chatResponse) llm.Response {
	if len(cr.Choices) == 0 {
		return llm.Blocked("No choices in response.")
	}
	choice := cr.Choices[0]
	if choice.Message.Content == nil {
		reason := choice.FinishReason
		if choice.Message.Refusal != "" {
			reason = "refusal: " + choice.Message.Refusal
		}
		return llm.Blocked(fmt.Sprintf("No content in response (Finish reason: %s)", reason))
	}
	return llm.Success(*choice.Message.Content)
}

// do issues an authenticated request against baseURL+path
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func errorMessage(body []byte) string {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return strings.TrimSpace(string(body))
}
