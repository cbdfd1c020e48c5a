package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// BatchLine is one request in a batch input artifact
type BatchLine struct {
	CustomID string      `json:"custom_id"`
	Method   string      `json:"method"`
	URL      string      `json:"url"`
	Body     ChatRequest `json:"body"`
}

type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int             `json:"status_code"`
		Body       json.RawMessage `json:"body"`
	} `json:"response"`
	Error *apiError `json:"error"`
}

type fileObject struct {
	ID    string `json:"id"`
	Bytes int64  `json:"bytes"`
}

type batchObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	InputFileID   string `json:"input_file_id"`
	OutputFileID  string `json:"output_file_id"`
	ErrorFileID   string `json:"error_file_id"`
	CreatedAt     int64  `json:"created_at"`
	RequestCounts *struct {
		Total     int `json:"total"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"request_counts"`
}

func (b batchObject) job() domain.BatchJob {
	job := domain.BatchJob{
		JobID:            b.ID,
		InputArtifactID:  b.InputFileID,
		OutputArtifactID: b.OutputFileID,
		ErrorArtifactID:  b.ErrorFileID,
		Status:           domain.NormalizeJobStatus(b.Status),
	}
	if b.CreatedAt > 0 {
		job.CreatedAt = time.Unix(b.CreatedAt, 0)
	}
	if b.RequestCounts != nil {
		job.Counts = domain.RequestCounts{
			Total:     b.RequestCounts.Total,
			Completed: b.RequestCounts.Completed,
			Failed:    b.RequestCounts.Failed,
		}
	}
	return job
}

// EncodeRequest renders one JSONL line for the batch input file
func (c *Client) EncodeRequest(customID string, req llm.Request) ([]byte, error) {
	line := BatchLine{
		CustomID: customID,
		Method:   http.MethodPost,
		URL:      chatCompletionsPath,
		Body:     c.chatRequest(req),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(line); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Submit uploads the artifact with purpose=batch and creates a 24h job for it
func (c *Client) Submit(ctx context.Context, artifact llm.Artifact) (domain.BatchJob, error) {
	fileID, err := c.upload(ctx, artifact.Path)
	if err != nil {
		return domain.BatchJob{}, err
	}

	payload, _ := json.Marshal(map[string]string{
		"input_file_id":     fileID,
		"endpoint":          chatCompletionsPath,
		"completion_window": "24h",
	})
	status, body, err := c.do(ctx, http.MethodPost, "/batches", "application/json", bytes.NewReader(payload))
	if err != nil {
		return domain.BatchJob{}, err
	}
	if status < 200 || status >= 300 {
		return domain.BatchJob{}, fmt.Errorf("create batch: status %d: %s", status, errorMessage(body))
	}

	var b batchObject
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.BatchJob{}, fmt.Errorf("parse batch: %w", err)
	}
	job := b.job()
	if job.InputArtifactID == "" {
		job.InputArtifactID = fileID
	}
	if job.Counts.Total == 0 {
		job.Counts.Total = artifact.Requests
	}
	return job, nil
}

func (c *Client) upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	status, body, err := c.do(ctx, http.MethodPost, "/files", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("upload artifact: status %d: %s", status, errorMessage(body))
	}
	var fo fileObject
	if err := json.Unmarshal(body, &fo); err != nil {
		return "", fmt.Errorf("parse file object: %w", err)
	}
	return fo.ID, nil
}

// Retrieve fetches the current state of a batch
func (c *Client) Retrieve(ctx context.Context, jobID string) (domain.BatchJob, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/batches/"+jobID, "", nil)
	if err != nil {
		return domain.BatchJob{}, err
	}
	if status < 200 || status >= 300 {
		return domain.BatchJob{}, fmt.Errorf("retrieve batch %s: status %d: %s", jobID, status, errorMessage(body))
	}
	var b batchObject
	if err := json.Unmarshal(body, &b); err != nil {
		return domain.BatchJob{}, fmt.Errorf("parse batch: %w", err)
	}
	return b.job(), nil
}

// Download returns the content of a file
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/files/"+fileID+"/content", "", nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("download %s: status %d: %s", fileID, status, errorMessage(body))
	}
	return body, nil
}

// DecodeResult parses one output or error file line. A non-200 embedded status
// becomes a failure carrying the line's error message.
func (c *Client) DecodeResult(line []byte) (string, llm.Response, error) {
	var rl resultLine
	if err := json.Unmarshal(line, &rl); err != nil {
		return "", llm.Response{}, fmt.Errorf("decode result line: %w", err)
	}

	if rl.Response != nil && rl.Response.StatusCode == http.StatusOK {
		var cr chatResponse
		if err := json.Unmarshal(rl.Response.Body, &cr); err != nil {
			return rl.CustomID, llm.Failure(http.StatusOK, fmt.Sprintf("failed to parse body: %v", err), false), nil
		}
		return rl.CustomID, decodeChat(cr), nil
	}

	code := 0
	msg := "Unknown error"
	if rl.Response != nil {
		code = rl.Response.StatusCode
		if m := errorMessage(rl.Response.Body); m != "" && m != "null" {
			msg = m
		}
	}
	if rl.Error != nil && rl.Error.Message != "" {
		msg = rl.Error.Message
	}
	return rl.CustomID, llm.Failure(code, msg, false), nil
}
