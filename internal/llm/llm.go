// Package llm defines the provider boundary: one-shot generation and batch jobs.
package llm

import (
	"context"
	"fmt"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
)

// Image is an inline image payload
type Image struct {
	MIME string
	Data []byte
}

// Request is one generation call
type Request struct {
	System          string
	Prompt          string
	Image           *Image
	Temperature     float64
	MaxOutputTokens int
}

// Kind discriminates Response
type Kind int

const (
	KindSuccess Kind = iota
	KindBlocked
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindBlocked:
		return "blocked"
	case KindFailure:
		return "failure"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Response is the decoded outcome of one request: Success(text), Blocked(reason)
// or Failure(code, message). Only retryable failures are worth another attempt.
type Response struct {
	Kind      Kind
	Text      string // Success
	Reason    string // Blocked: provider's stated block or finish reason
	Code      int    // Failure: HTTP-like status, 0 for transport errors
	Message   string // Failure
	Retryable bool   // Failure
}

// Success builds a successful response
func Success(text string) Response {
	return Response{Kind: KindSuccess, Text: text}
}

// Blocked builds a content-policy or empty response
func Blocked(reason string) Response {
	return Response{Kind: KindBlocked, Reason: reason}
}

// Failure builds a failed response
func Failure(code int, message string, retryable bool) Response {
	return Response{Kind: KindFailure, Code: code, Message: message, Retryable: retryable}
}

// OK returns true for a successful response
func (r Response) OK() bool {
	return r.Kind == KindSuccess
}

// ResultValue renders the response for storage in a result set
func (r Response) ResultValue() string {
	switch r.Kind {
	case KindSuccess:
		return r.Text
	case KindBlocked:
		return domain.ErrorValue(r.Reason)
	default:
		return domain.ErrorValue(r.Error())
	}
}

// Error describes a failure, or returns "" for other kinds
func (r Response) Error() string {
	if r.Kind != KindFailure {
		return ""
	}
	if r.Code == 0 {
		return r.Message
	}
	return fmt.Sprintf("Status %d, Message: %s", r.Code, r.Message)
}

// IsRetryableStatus returns true for rate limits and server errors
func IsRetryableStatus(code int) bool {
	return code == 408 || code == 429 || code >= 500
}

// Client generates text for one request. Implementations must be safe for
// concurrent use; errors are reported inside the Response, never panicked.
type Client interface {
	Generate(ctx context.Context, req Request) Response
	Name() string
}

// Artifact is a rendered job-submission file on local disk
type Artifact struct {
	Path     string
	Requests int
}

// JobClient runs batches of requests as provider-side jobs
type JobClient interface {
	// EncodeRequest renders one artifact line carrying the correlation ID
	EncodeRequest(customID string, req Request) ([]byte, error)
	// Submit uploads the artifact and creates a job for it
	Submit(ctx context.Context, artifact Artifact) (domain.BatchJob, error)
	// Retrieve fetches the current job state
	Retrieve(ctx context.Context, jobID string) (domain.BatchJob, error)
	// Download fetches a provider file (output or error artifact)
	Download(ctx context.Context, fileID string) ([]byte, error)
	// DecodeResult parses one output line into its correlation ID and response
	DecodeResult(line []byte) (customID string, resp Response, err error)
}
