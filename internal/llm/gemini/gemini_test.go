package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

func TestClient_Generate(t *testing.T) {
	var captured geminiRequest
	var path, key string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		key = r.URL.Query().Get("key")
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"  an airport protest \n"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	c := NewClient("secret", "models/gemini-test", srv.URL)
	resp := c.Generate(context.Background(), llm.Request{
		System:          "be thorough",
		Prompt:          "describe",
		Image:           &llm.Image{MIME: "image/png", Data: []byte{1, 2, 3}},
		Temperature:     0,
		MaxOutputTokens: 1024,
	})

	if !resp.OK() || resp.Text != "an airport protest" {
		t.Fatalf("Generate() = %+v, want trimmed success", resp)
	}
	if path != "/models/gemini-test:generateContent" {
		t.Errorf("path = %q", path)
	}
	if key != "secret" {
		t.Errorf("key = %q, want secret", key)
	}
	if captured.SystemInstruction == nil || captured.SystemInstruction.Parts[0].Text != "be thorough" {
		t.Errorf("system instruction = %+v", captured.SystemInstruction)
	}
	parts := captured.Contents[0].Parts
	if len(parts) != 2 || parts[0].Text != "describe" {
		t.Fatalf("parts = %+v, want prompt then image", parts)
	}
	if parts[1].InlineData.MimeType != "image/png" || parts[1].InlineData.Data != base64.StdEncoding.EncodeToString([]byte{1, 2, 3}) {
		t.Errorf("inline data = %+v", parts[1].InlineData)
	}
	if captured.GenerationConfig.MaxOutputTokens != 1024 {
		t.Errorf("MaxOutputTokens = %d", captured.GenerationConfig.MaxOutputTokens)
	}
}

func TestClient_GenerateOutcomes(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		body          string
		wantKind      llm.Kind
		wantRetryable bool
		wantContains  string
	}{
		{
			name:         "safety block on candidate",
			status:       200,
			body:         `{"candidates":[{"content":{"parts":[]},"finishReason":"SAFETY","safetyRatings":[{"category":"HARM_CATEGORY_HARASSMENT","probability":"HIGH"}]}]}`,
			wantKind:     llm.KindBlocked,
			wantContains: "Finish reason: SAFETY, Safety: [HARM_CATEGORY_HARASSMENT=HIGH]",
		},
		{
			name:         "prompt blocked without candidates",
			status:       200,
			body:         `{"promptFeedback":{"blockReason":"OTHER"}}`,
			wantKind:     llm.KindBlocked,
			wantContains: "Finish reason: OTHER",
		},
		{
			name:         "empty body",
			status:       200,
			body:         `{}`,
			wantKind:     llm.KindBlocked,
			wantContains: "Finish reason: UNKNOWN",
		},
		{
			name:          "rate limited",
			status:        429,
			body:          `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`,
			wantKind:      llm.KindFailure,
			wantRetryable: true,
			wantContains:  "Status 429, Message: Resource has been exhausted",
		},
		{
			name:         "bad request",
			status:       400,
			body:         `{"error":{"code":400,"message":"API key not valid"}}`,
			wantKind:     llm.KindFailure,
			wantContains: "API key not valid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			resp := NewClient("k", "m", srv.URL).Generate(context.Background(), llm.Request{Prompt: "p"})
			if resp.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", resp.Kind, tt.wantKind)
			}
			if resp.Retryable != tt.wantRetryable {
				t.Errorf("Retryable = %v, want %v", resp.Retryable, tt.wantRetryable)
			}
			if !strings.Contains(resp.ResultValue(), tt.wantContains) {
				t.Errorf("ResultValue() = %q, want it to contain %q", resp.ResultValue(), tt.wantContains)
			}
		})
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	resp := NewClient("k", "m", url).Generate(context.Background(), llm.Request{Prompt: "p"})
	if resp.Kind != llm.KindFailure || !resp.Retryable {
		t.Errorf("Generate() = %+v, want retryable failure", resp)
	}
}
