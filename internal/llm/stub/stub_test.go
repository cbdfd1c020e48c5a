package stub

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

func TestEcho_Deterministic(t *testing.T) {
	req := llm.Request{Prompt: "p", Image: &llm.Image{Data: []byte{1}}}
	a, b := Echo(req), Echo(req)
	if !a.OK() || a.Text != b.Text {
		t.Errorf("Echo() not deterministic: %q vs %q", a.Text, b.Text)
	}
	if Echo(llm.Request{Prompt: "q"}).Text == a.Text {
		t.Error("different prompts should give different output")
	}
}

func TestClient_BatchRoundTrip(t *testing.T) {
	c := NewClient()
	c.PollsBeforeDone = 1
	ctx := context.Background()

	var artifact bytes.Buffer
	for _, id := range []string{"img_1", "img_2"} {
		line, err := c.EncodeRequest(id, llm.Request{Prompt: id})
		if err != nil {
			t.Fatal(err)
		}
		artifact.Write(line)
		artifact.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "a.jsonl")
	if err := os.WriteFile(path, artifact.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	job, err := c.Submit(ctx, llm.Artifact{Path: path, Requests: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Retrieve(ctx, job.JobID); got.Status != domain.JobInProgress {
		t.Errorf("first poll status = %v, want in_progress", got.Status)
	}
	done, _ := c.Retrieve(ctx, job.JobID)
	if done.Status != domain.JobCompleted || done.OutputArtifactID == "" {
		t.Fatalf("second poll = %+v, want completed with output", done)
	}

	data, err := c.Download(ctx, done.OutputArtifactID)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("output lines = %d, want 2", len(lines))
	}
	id, resp, err := c.DecodeResult(lines[1])
	if err != nil || id != "img_2" || !resp.OK() {
		t.Errorf("DecodeResult() = %q, %+v, %v", id, resp, err)
	}
	if got := c.Submissions(); len(got) != 1 || got[0] != 2 {
		t.Errorf("Submissions() = %v, want [2]", got)
	}
}
