//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func artifactPath(env testEnv, lang, code string, task int) string {
	name := "results_stub-model_1shot_" + code + "_task" + string(rune('0'+task)) + "_Rationales.json"
	return filepath.Join(env.OutputRoot, "stub-model", "results_1shot_rationales", lang, name)
}

func readArtifact(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact %s: %v", path, err)
	}
	var out map[string]string
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("artifact %s is not a JSON object: %v", path, err)
	}
	return out
}

// TestCLI_Run covers a full direct run over two languages and two tasks
func TestCLI_Run(t *testing.T) {
	env := createTestConfig(t, "direct", "")

	out, err := runCLI(t, env, "run", "--no-progress")
	if err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	tests := []struct {
		lang, code string
		task       int
		want       int
	}{
		{"English", "En", 1, 6},
		{"English", "En", 6, 3},
		{"Swahili", "Sw", 1, 6},
		{"Swahili", "Sw", 6, 3},
	}
	for _, tt := range tests {
		got := readArtifact(t, artifactPath(env, tt.lang, tt.code, tt.task))
		if len(got) != tt.want {
			t.Errorf("%s task%d: %d entries, want %d", tt.code, tt.task, len(got), tt.want)
		}
		for id, v := range got {
			if !strings.HasPrefix(v, "Stub rationale") {
				t.Errorf("%s task%d item %s = %q", tt.code, tt.task, id, v)
			}
		}
	}

	// Text-paired task only covers items with reference text
	task6 := readArtifact(t, artifactPath(env, "English", "En", 6))
	for _, id := range []string{"2", "4", "6"} {
		if _, ok := task6[id]; !ok {
			t.Errorf("task6 missing text-paired item %s", id)
		}
	}
}

// TestCLI_RunResumes checks a second run finds nothing left to do
func TestCLI_RunResumes(t *testing.T) {
	env := createTestConfig(t, "direct", "")

	if out, err := runCLI(t, env, "run", "--no-progress"); err != nil {
		t.Fatalf("first run failed: %v\n%s", err, out)
	}
	before, err := os.ReadFile(artifactPath(env, "English", "En", 1))
	if err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "run", "--no-progress")
	if err != nil {
		t.Fatalf("second run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "up_to_date") {
		t.Errorf("second run should report up_to_date pairs:\n%s", out)
	}
	after, err := os.ReadFile(artifactPath(env, "English", "En", 1))
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Error("artifact changed on a resumed run")
	}
}

// TestCLI_BatchRun runs the job-based path against the stub provider
func TestCLI_BatchRun(t *testing.T) {
	env := createTestConfig(t, "batch", "")

	out, err := runCLI(t, env, "run", "--no-progress", "--languages", "English", "--tasks", "1")
	if err != nil {
		t.Fatalf("batch run failed: %v\n%s", err, out)
	}
	got := readArtifact(t, artifactPath(env, "English", "En", 1))
	if len(got) != 6 {
		t.Errorf("batch artifact has %d entries, want 6", len(got))
	}
	if _, err := os.Stat(artifactPath(env, "English", "En", 6)); !os.IsNotExist(err) {
		t.Error("task 6 was not requested and must not have an artifact")
	}

	out, err = runCLI(t, env, "jobs")
	if err != nil {
		t.Fatalf("jobs failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "English") || !strings.Contains(out, "completed") {
		t.Errorf("jobs output should list the completed run:\n%s", out)
	}
}

// TestCLI_StatusAndFinalize checks the read-only commands
func TestCLI_StatusAndFinalize(t *testing.T) {
	env := createTestConfig(t, "direct", "")

	out, err := runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "En/task1") || !strings.Contains(out, "0/6") {
		t.Errorf("status before run:\n%s", out)
	}

	if out, err := runCLI(t, env, "run", "--no-progress", "--tasks", "1"); err != nil {
		t.Fatalf("run failed: %v\n%s", err, out)
	}

	// Artifacts are rebuilt from checkpoints alone
	path := artifactPath(env, "Swahili", "Sw", 1)
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, env, "finalize")
	if err != nil {
		t.Fatalf("finalize failed: %v\n%s", err, out)
	}
	if got := readArtifact(t, path); len(got) != 6 {
		t.Errorf("finalized artifact has %d entries, want 6", len(got))
	}

	out, err = runCLI(t, env, "status")
	if err != nil {
		t.Fatalf("status failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "6/6") {
		t.Errorf("status after run should show full coverage:\n%s", out)
	}
}

// TestCLI_Items checks the dataset scan summary
func TestCLI_Items(t *testing.T) {
	env := createTestConfig(t, "direct", "")
	if err := os.WriteFile(filepath.Join(env.DataDir, "cover.png"), []byte("not an id"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, env, "items", "--verbose")
	if err != nil {
		t.Fatalf("items failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "6 items (3 with text, 3 image only)") {
		t.Errorf("unexpected scan summary:\n%s", out)
	}
	if !strings.Contains(out, "cover.png") {
		t.Errorf("rejected file should be listed:\n%s", out)
	}
}

// TestCLI_ConfigCheck validates and prints the effective config
func TestCLI_ConfigCheck(t *testing.T) {
	env := createTestConfig(t, "direct", "")

	out, err := runCLI(t, env, "config", "--check")
	if err != nil {
		t.Fatalf("config --check failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "config ok") {
		t.Errorf("unexpected output:\n%s", out)
	}

	bad := createTestConfig(t, "streaming", "")
	if _, err := runCLI(t, bad, "config", "--check"); err == nil {
		t.Error("an unknown run mode should fail validation")
	}

	out, err = runCLI(t, env, "config")
	if err != nil {
		t.Fatalf("config failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "stub-model") {
		t.Errorf("effective config should include path_model:\n%s", out)
	}
}
