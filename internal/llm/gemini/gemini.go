// Package gemini calls the Gemini generateContent REST endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// DefaultBaseURL is the public v1beta endpoint
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *content         `json:"system_instruction,omitempty"`
	Contents          []content        `json:"contents"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type safetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text,omitempty"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason  string         `json:"finishReason"`
		SafetyRatings []safetyRating `json:"safetyRatings"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason   string         `json:"blockReason"`
		SafetyRatings []safetyRating `json:"safetyRatings"`
	} `json:"promptFeedback"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Client talks to one Gemini model
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
		model:   strings.TrimPrefix(model, "models/"),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name returns the provider label
func (c *Client) Name() string {
	return "gemini"
}

// Generate sends one generateContent request: the prompt text followed by the inline image
func (c *Client) Generate(ctx context.Context, req llm.Request) llm.Response {
	parts := []part{{Text: req.Prompt}}
	if req.Image != nil && len(req.Image.Data) > 0 {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: req.Image.MIME,
				Data:     base64.StdEncoding.EncodeToString(req.Image.Data),
			},
		})
	}

	body := geminiRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &content{Parts: []part{{Text: req.System}}}
	}

	return c.generateContent(ctx, body)
}

func (c *Client) generateContent(ctx context.Context, body geminiRequest) llm.Response {
	data, err := json.Marshal(body)
	if err != nil {
		return llm.Failure(0, fmt.Sprintf("failed to marshal request: %v", err), false)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, url.QueryEscape(c.apiKey))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return llm.Failure(0, fmt.Sprintf("failed to create request: %v", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// transport errors are worth another attempt unless we were cancelled
		return llm.Failure(0, fmt.Sprintf("failed to send request: %v", err), ctx.Err() == nil)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return llm.Failure(0, fmt.Sprintf("failed to read response: %v", err), true)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(bodyBytes))
		var er errorResponse
		if json.Unmarshal(bodyBytes, &er) == nil && er.Error.Message != "" {
			msg = er.Error.Message
		}
		return llm.Failure(resp.StatusCode, msg, llm.IsRetryableStatus(resp.StatusCode))
	}

	var gr geminiResponse
	if err := json.Unmarshal(bodyBytes, &gr); err != nil {
		return llm.Failure(resp.StatusCode, fmt.Sprintf("failed to parse response: %v", err), true)
	}
	return decode(gr)
}

// decode maps a 2xx body onto the response union
func decode(gr geminiResponse) llm.Response {
	if len(gr.Candidates) > 0 {
		cand := gr.Candidates[0]
		if len(cand.Content.Parts) > 0 {
			return llm.Success(strings.TrimSpace(cand.Content.Parts[0].Text))
		}
		return llm.Blocked(blockReason(orUnknown(cand.FinishReason), cand.SafetyRatings))
	}

	reason := "UNKNOWN"
	var ratings []safetyRating
	if gr.PromptFeedback != nil {
		reason = orUnknown(gr.PromptFeedback.BlockReason)
		ratings = gr.PromptFeedback.SafetyRatings
	}
	return llm.Blocked(blockReason(reason, ratings))
}

func blockReason(finish string, ratings []safetyRating) string {
	rs := make([]string, 0, len(ratings))
	for _, r := range ratings {
		rs = append(rs, r.Category+"="+r.Probability)
	}
	return fmt.Sprintf("No content in response (Finish reason: %s, Safety: [%s])", finish, strings.Join(rs, ", "))
}

func orUnknown(s string) string {
	if s == "" {
		return "UNKNOWN"
	}
	return s
}
