// Package stub is a deterministic, network-free provider for tests and dry runs.
package stub

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

// Responder decides the response for one request
type Responder func(req llm.Request) llm.Response

// Echo returns a stable rationale derived from the prompt and image bytes
func Echo(req llm.Request) llm.Response {
	sum := sha256.New()
	sum.Write([]byte(req.System))
	sum.Write([]byte(req.Prompt))
	if req.Image != nil {
		sum.Write(req.Image.Data)
	}
	return llm.Success(fmt.Sprintf("Stub rationale (%s)", hex.EncodeToString(sum.Sum(nil)[:8])))
}

// Client answers Generate and batch jobs in memory
type Client struct {
	Respond Responder

	// Outcomes gives the terminal status of the n-th submitted job; missing entries complete
	Outcomes []domain.JobStatus
	// PollsBeforeDone is the number of Retrieve calls that report in_progress first
	PollsBeforeDone int
	// DropOutput completes jobs without an output file
	DropOutput bool
	// ExtraLines are appended to every output file (e.g. unknown correlation IDs)
	ExtraLines []string

	mu          sync.Mutex
	calls       int
	submissions []int
	jobs        map[string]*job
	files       map[string][]byte
	seq         int
}

type job struct {
	batch domain.BatchJob
	polls int
	final domain.JobStatus
}

// NewClient creates a stub answering with Echo
func NewClient() *Client {
	return &Client{Respond: Echo}
}

// Name returns the provider label
func (c *Client) Name() string {
	return "stub"
}

// Calls returns the number of Generate calls so far
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Submissions returns the request count of every submitted job, in order
func (c *Client) Submissions() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.submissions...)
}

func (c *Client) respond(req llm.Request) llm.Response {
	if c.Respond == nil {
		return Echo(req)
	}
	return c.Respond(req)
}

// Generate answers one request
func (c *Client) Generate(ctx context.Context, req llm.Request) llm.Response {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return llm.Failure(0, err.Error(), false)
	}
	return c.respond(req)
}

type requestLine struct {
	CustomID  string `json:"custom_id"`
	System    string `json:"system"`
	Prompt    string `json:"prompt"`
	ImageMIME string `json:"image_mime,omitempty"`
	Image     []byte `json:"image,omitempty"`
}

type outputLine struct {
	CustomID string `json:"custom_id"`
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Code     int    `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// EncodeRequest renders one artifact line
func (c *Client) EncodeRequest(customID string, req llm.Request) ([]byte, error) {
	line := requestLine{CustomID: customID, System: req.System, Prompt: req.Prompt}
	if req.Image != nil {
		line.ImageMIME = req.Image.MIME
		line.Image = req.Image.Data
	}
	return json.Marshal(line)
}

// Submit reads the artifact and answers every line up front
func (c *Client) Submit(ctx context.Context, artifact llm.Artifact) (domain.BatchJob, error) {
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return domain.BatchJob{}, fmt.Errorf("read artifact: %w", err)
	}

	var out bytes.Buffer
	n := 0
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var rl requestLine
		if err := json.Unmarshal(sc.Bytes(), &rl); err != nil {
			return domain.BatchJob{}, fmt.Errorf("artifact line %d: %w", n+1, err)
		}
		req := llm.Request{System: rl.System, Prompt: rl.Prompt}
		if rl.Image != nil {
			req.Image = &llm.Image{MIME: rl.ImageMIME, Data: rl.Image}
		}
		resp := c.respond(req)
		line, _ := json.Marshal(outputLine{
			CustomID: rl.CustomID,
			Kind:     resp.Kind.String(),
			Text:     resp.Text,
			Reason:   resp.Reason,
			Code:     resp.Code,
			Message:  resp.Message,
		})
		out.Write(line)
		out.WriteByte('\n')
		n++
	}
	if err := sc.Err(); err != nil {
		return domain.BatchJob{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, extra := range c.ExtraLines {
		out.WriteString(extra)
		out.WriteByte('\n')
	}

	if c.jobs == nil {
		c.jobs = make(map[string]*job)
		c.files = make(map[string][]byte)
	}
	idx := len(c.submissions)
	c.submissions = append(c.submissions, n)
	c.seq++

	final := domain.JobCompleted
	if idx < len(c.Outcomes) {
		final = c.Outcomes[idx]
	}

	j := &job{
		batch: domain.BatchJob{
			JobID:           fmt.Sprintf("stub_batch_%d", c.seq),
			InputArtifactID: fmt.Sprintf("stub_in_%d", c.seq),
			Status:          domain.JobSubmitted,
			Counts:          domain.RequestCounts{Total: n},
			CreatedAt:       time.Now(),
		},
		final: final,
	}
	switch {
	case final == domain.JobCompleted && !c.DropOutput:
		id := fmt.Sprintf("stub_out_%d", c.seq)
		c.files[id] = out.Bytes()
		j.batch.OutputArtifactID = id
	case final != domain.JobCompleted:
		id := fmt.Sprintf("stub_err_%d", c.seq)
		c.files[id] = []byte(fmt.Sprintf(`{"custom_id":"","kind":"failure","code":500,"message":"job %s"}`+"\n", final))
		j.batch.ErrorArtifactID = id
	}
	c.jobs[j.batch.JobID] = j
	return j.batch, nil
}

// Retrieve advances the job one poll and returns its state
func (c *Client) Retrieve(ctx context.Context, jobID string) (domain.BatchJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	j, ok := c.jobs[jobID]
	if !ok {
		return domain.BatchJob{}, fmt.Errorf("unknown job %s", jobID)
	}
	j.polls++
	if j.polls <= c.PollsBeforeDone {
		j.batch.Status = domain.JobInProgress
	} else {
		j.batch.Status = j.final
		if j.final == domain.JobCompleted {
			j.batch.Counts.Completed = j.batch.Counts.Total
		}
	}
	return j.batch, nil
}

// Download returns a stored file
func (c *Client) Download(ctx context.Context, fileID string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.files[fileID]
	if !ok {
		return nil, fmt.Errorf("unknown file %s", fileID)
	}
	return data, nil
}

// DecodeResult parses one output line
func (c *Client) DecodeResult(line []byte) (string, llm.Response, error) {
	var ol outputLine
	if err := json.Unmarshal(line, &ol); err != nil {
		return "", llm.Response{}, err
	}
	switch ol.Kind {
	case llm.KindSuccess.String():
		return ol.CustomID, llm.Success(ol.Text), nil
	case llm.KindBlocked.String():
		return ol.CustomID, llm.Blocked(ol.Reason), nil
	default:
		return ol.CustomID, llm.Failure(ol.Code, ol.Message, false), nil
	}
}
