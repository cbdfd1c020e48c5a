package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/domain"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
	"github.com/hochfrequenz/vlm-rationales/internal/llm/stub"
	"github.com/hochfrequenz/vlm-rationales/internal/prompts"
	"github.com/hochfrequenz/vlm-rationales/internal/results"
	"github.com/hochfrequenz/vlm-rationales/internal/retry"
)

func writePNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

// dataset: 1 image only, 2 image+text, 3 corrupt image only, 4 image+text
func dataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "image1.png"))
	writePNG(t, filepath.Join(dir, "image2.png"))
	writeFile(t, filepath.Join(dir, "image2.txt"), "A market in Nairobi.\n")
	writeFile(t, filepath.Join(dir, "image3.png"), "not an image")
	writePNG(t, filepath.Join(dir, "image4.png"))
	writeFile(t, filepath.Join(dir, "image4.txt"), "Tokyo station at night")
	return dir
}

type fixture struct {
	cfg    *config.Config
	client *stub.Client
	runner *Runner
	scan   *items.Scan
}

func newFixture(t *testing.T, mutate func(cfg *config.Config), loader *prompts.Loader, lg *ledger.Store) *fixture {
	t.Helper()
	cfg := config.Default()
	cfg.General.DataDir = dataset(t)
	cfg.General.OutputRoot = t.TempDir()
	cfg.Model.Provider = config.ProviderStub
	cfg.Run.Languages = []string{"English"}
	cfg.Run.Tasks = []int{1, 6}
	if mutate != nil {
		mutate(cfg)
	}

	if loader == nil {
		loader = prompts.NewLoader()
	}
	catalog, err := loader.Catalog()
	if err != nil {
		t.Fatal(err)
	}

	client := stub.NewClient()
	policy := retry.Policy{MaxAttempts: 2, Sleep: func(ctx context.Context, d time.Duration) error { return nil }}
	r := New(Options{
		Config:  cfg,
		Catalog: catalog,
		Prompts: loader,
		NewDispatcher: func(hooks dispatch.Hooks) dispatch.Dispatcher {
			return dispatch.NewDirect(client, policy, 2, 2, hooks)
		},
		Provider: "stub",
		Ledger:   lg,
	})
	return &fixture{cfg: cfg, client: client, runner: r, scan: items.Load(cfg.General.DataDir, cfg.General.MaxItems)}
}

func readArtifact(t *testing.T, path string) domain.Results {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	r, rejected, err := results.Decode(f)
	if err != nil {
		t.Fatal(err)
	}
	if len(rejected) > 0 {
		t.Fatalf("artifact has invalid entries %v", rejected)
	}
	return r
}

func TestRunner_Run(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)

	sums, err := fx.runner.Run(context.Background(), fx.scan)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}

	task1, task6 := sums[0], sums[1]
	if task1.Eligible != 4 || task1.Status != PairCompleted {
		t.Errorf("task1 = %+v", task1)
	}
	if task6.Eligible != 2 || task6.Status != PairCompleted {
		t.Errorf("task6 = %+v", task6)
	}

	got := readArtifact(t, task1.ArtifactPath)
	if got["3"] != "Error: "+ImageEncodingFailed {
		t.Errorf(`task1["3"] = %q`, got["3"])
	}
	if !strings.HasPrefix(got["1"], "Stub rationale") {
		t.Errorf(`task1["1"] = %q`, got["1"])
	}
	want := filepath.Join(fx.cfg.ResultsDir(), "English", "results_gemini-2.0-flash-lite_1shot_En_task1_Rationales.json")
	if task1.ArtifactPath != want {
		t.Errorf("ArtifactPath = %q, want %q", task1.ArtifactPath, want)
	}

	if got := readArtifact(t, task6.ArtifactPath); len(got) != 2 || got["2"] == "" || got["4"] == "" {
		t.Errorf("task6 results = %v, want items 2 and 4", got)
	}
	// image 3 is never sent
	if fx.client.Calls() != 5 {
		t.Errorf("Calls() = %d, want 5", fx.client.Calls())
	}
}

func TestRunner_ResumeIsIdempotent(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	if _, err := fx.runner.Run(context.Background(), fx.scan); err != nil {
		t.Fatal(err)
	}
	calls := fx.client.Calls()

	sums, err := fx.runner.Run(context.Background(), fx.scan)
	if err != nil {
		t.Fatal(err)
	}
	if fx.client.Calls() != calls {
		t.Errorf("second run made %d calls, want 0", fx.client.Calls()-calls)
	}
	for _, s := range sums {
		if s.Status != PairUpToDate {
			t.Errorf("%s status = %q, want %q", s.Spec.Key(), s.Status, PairUpToDate)
		}
	}
}

func TestRunner_RetryErrors(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) { cfg.Run.Tasks = []int{1} }, nil, nil)
	if _, err := fx.runner.Run(context.Background(), fx.scan); err != nil {
		t.Fatal(err)
	}

	// repair the broken image, then retry only errored items
	writePNG(t, filepath.Join(fx.cfg.General.DataDir, "image3.png"))
	fx.cfg.Run.RetryErrors = true
	before := fx.client.Calls()

	sums, err := fx.runner.Run(context.Background(), fx.scan)
	if err != nil {
		t.Fatal(err)
	}
	if sums[0].Pending != 1 {
		t.Errorf("Pending = %d, want 1", sums[0].Pending)
	}
	if fx.client.Calls()-before != 1 {
		t.Errorf("calls = %d, want 1", fx.client.Calls()-before)
	}
	if got := readArtifact(t, sums[0].ArtifactPath)["3"]; domain.IsErrorValue(got) {
		t.Errorf(`results["3"] = %q, want a rationale`, got)
	}
}

func TestRunner_Eligible(t *testing.T) {
	tests := []struct {
		name  string
		scope string
		task  domain.TaskNumber
		want  []int
	}{
		{"all items for image tasks", config.ScopeAll, 2, []int{1, 2, 3, 4}},
		{"image-only scope", config.ScopeImageOnly, 2, []int{1, 3}},
		{"text-paired tasks ignore scope", config.ScopeImageOnly, 8, []int{2, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, func(cfg *config.Config) { cfg.Run.ImageTaskScope = tt.scope }, nil, nil)
			spec := domain.TaskSpec{Task: tt.task}
			var got []int
			for _, it := range fx.runner.Eligible(spec, fx.scan) {
				got = append(got, it.ID)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Eligible() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Eligible() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestRunner_TextReachesPrompt(t *testing.T) {
	fx := newFixture(t, func(cfg *config.Config) { cfg.Run.Tasks = []int{7} }, nil, nil)
	var prompts []string
	fx.client.Respond = func(req llm.Request) llm.Response {
		prompts = append(prompts, req.Prompt)
		if req.Image == nil || req.Image.MIME != "image/png" {
			t.Errorf("request image = %+v, want png", req.Image)
		}
		return llm.Success("ok")
	}
	fx.runner.dispatcher = dispatch.NewDirect(fx.client, retry.Policy{MaxAttempts: 1}, 1, 10, dispatch.Hooks{})

	if _, err := fx.runner.Run(context.Background(), fx.scan); err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(prompts, "\n")
	for _, want := range []string{"A market in Nairobi.", "Tokyo station at night"} {
		if !strings.Contains(joined, want) {
			t.Errorf("prompts missing %q", want)
		}
	}
}

func TestRunner_BrokenTemplateFailsPair(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "languages", "en"), 0755); err != nil {
		t.Fatal(err)
	}
	override := "---\nid: image_only\nvariables: [TextContent]\n---\n{{.TextContent}}\n"
	writeFile(t, filepath.Join(dir, "languages", "en", "image_only.md"), override)

	fx := newFixture(t, func(cfg *config.Config) { cfg.Run.Tasks = []int{1} }, prompts.NewLoader(dir), nil)
	sums, err := fx.runner.Run(context.Background(), fx.scan)
	if err != nil {
		t.Fatal(err)
	}

	var te *prompts.TemplateError
	if sums[0].Status != PairFailed || !errors.As(sums[0].Err, &te) {
		t.Errorf("summary = %+v, want failed with *TemplateError", sums[0])
	}
	if fx.client.Calls() != 0 {
		t.Errorf("Calls() = %d, want 0", fx.client.Calls())
	}
	if cov := fx.runner.Store().Coverage(sums[0].Spec.Language, 1); cov.Exists {
		t.Error("checkpoint written for a failed pair")
	}
}

func TestRunner_NoItems(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	sums, err := fx.runner.Run(context.Background(), items.Load(t.TempDir(), 0))
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range sums {
		if s.Status != PairNoItems {
			t.Errorf("%s status = %q, want %q", s.Spec.Key(), s.Status, PairNoItems)
		}
	}
}

func TestRunner_Cancelled(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sums, err := fx.runner.Run(ctx, fx.scan)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if len(sums) != 1 {
		t.Errorf("summaries = %d, want to stop after the first pair", len(sums))
	}
}

func TestRunner_Ledger(t *testing.T) {
	lg, err := ledger.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer lg.Close()

	fx := newFixture(t, nil, nil, lg)
	if _, err := fx.runner.Run(context.Background(), fx.scan); err != nil {
		t.Fatal(err)
	}

	runs, err := lg.ListRuns(ledger.ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	for _, run := range runs {
		if run.Status != ledger.RunCompleted || run.Provider != "stub" {
			t.Errorf("run = %+v", run)
		}
	}
}

func TestRunner_Coverage(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	before, err := fx.runner.Coverage(fx.scan)
	if err != nil {
		t.Fatal(err)
	}
	if before[0].Done != 0 || before[0].Remaining() != 4 || before[0].HasArtifact {
		t.Errorf("coverage before = %+v", before[0])
	}

	if _, err := fx.runner.Run(context.Background(), fx.scan); err != nil {
		t.Fatal(err)
	}
	after, err := fx.runner.Coverage(fx.scan)
	if err != nil {
		t.Fatal(err)
	}
	if after[0].Done != 4 || after[0].Errors != 1 || !after[0].HasArtifact || after[0].Percent() != 100 {
		t.Errorf("coverage after = %+v", after[0])
	}
}

func TestRunner_Finalize(t *testing.T) {
	fx := newFixture(t, nil, nil, nil)
	lang := domain.Language{Name: "English", Code: "En"}
	if err := fx.runner.Store().Save(lang, 6, domain.Results{"10": "b", "2": "a"}); err != nil {
		t.Fatal(err)
	}

	paths, err := fx.runner.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Fatalf("Finalize() = %v, want one artifact", paths)
	}
	data, err := os.ReadFile(paths[0])
	if err != nil {
		t.Fatal(err)
	}
	if want := "{\n    \"2\": \"a\",\n    \"10\": \"b\"\n}\n"; string(data) != want {
		t.Errorf("artifact = %q, want %q", data, want)
	}
}
