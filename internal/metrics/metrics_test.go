package metrics

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
)

var spec = domain.TaskSpec{Language: domain.Language{Name: "Japanese", Code: "Jp"}, Task: 6}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	return rec.Body.String()
}

func TestHooks(t *testing.T) {
	m := New()
	h := m.Hooks("gemini")

	h.Resolved(spec, 1, "a rationale")
	h.Resolved(spec, 2, domain.ErrorValue("SAFETY"))
	h.Resolved(spec, 3, "another")
	h.Request(llm.KindSuccess, 2*time.Second)
	h.Job(dispatch.JobEvent{Spec: spec, Job: domain.BatchJob{Status: domain.JobFailed}})

	body := scrape(t, m)
	tests := []string{
		`vlm_rationales_items_resolved_total{language="Japanese",outcome="success",task="task6"} 2`,
		`vlm_rationales_items_resolved_total{language="Japanese",outcome="error",task="task6"} 1`,
		`vlm_rationales_requests_total{kind="success",provider="gemini"} 1`,
		`vlm_rationales_request_duration_seconds_count{provider="gemini"} 1`,
		`vlm_rationales_batch_jobs_total{language="Japanese",status="failed",task="task6"} 1`,
	}
	for _, want := range tests {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestCheckpointSaved(t *testing.T) {
	m := New()
	m.CheckpointSaved(spec.Language, spec.Task, 40)
	m.CheckpointSaved(spec.Language, spec.Task, 50)

	body := scrape(t, m)
	for _, want := range []string{
		`vlm_rationales_checkpoint_saves_total{language="Japanese",task="task6"} 2`,
		`vlm_rationales_checkpoint_items{language="Japanese",task="task6"} 50`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RunFinished(time.Unix(1700000000, 0))
	path := filepath.Join(t.TempDir(), "vlm.prom")

	if err := m.WriteTextfile(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "vlm_rationales_last_run_timestamp_seconds 1.7e+09") {
		t.Errorf("textfile missing timestamp:\n%s", data)
	}
}
