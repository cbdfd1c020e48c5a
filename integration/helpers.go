//go:build integration

package integration

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"testing"
)

var (
	buildOnce sync.Once
	builtPath string
	buildErr  error
	buildOut  []byte
)

// repoRoot returns the module root
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds the CLI once per test binary and returns its path
func binaryPath(t *testing.T) string {
	t.Helper()
	root := repoRoot(t)
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "vlm-rationales-bin")
		if err != nil {
			buildErr = err
			return
		}
		builtPath = filepath.Join(dir, "vlm-rationales")
		cmd := exec.Command("go", "build", "-o", builtPath, "./cmd/vlm-rationales")
		cmd.Dir = root
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("Failed to build binary: %v\n%s", buildErr, buildOut)
	}
	return builtPath
}

// writeDataset creates n images; every even id gets a reference text
func writeDataset(t *testing.T, n int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	for id := 1; id <= n; id++ {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(id%4, 0, color.RGBA{R: uint8(id * 10), A: 255})
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatal(err)
		}
		name := filepath.Join(dir, "image"+strconv.Itoa(id)+".png")
		if err := os.WriteFile(name, buf.Bytes(), 0644); err != nil {
			t.Fatal(err)
		}
		if id%2 == 0 {
			text := filepath.Join(dir, "text"+strconv.Itoa(id)+".txt")
			if err := os.WriteFile(text, []byte("Reference text for image "+strconv.Itoa(id)), 0644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return dir
}

type testEnv struct {
	DataDir    string
	OutputRoot string
	LedgerPath string
	ConfigPath string
}

// createTestConfig writes a stub-provider config over a fresh dataset
func createTestConfig(t *testing.T, mode string, extra string) testEnv {
	t.Helper()
	root := t.TempDir()
	env := testEnv{
		DataDir:    writeDataset(t, 6),
		OutputRoot: filepath.Join(root, "outputs"),
		LedgerPath: filepath.Join(root, "ledger.db"),
		ConfigPath: filepath.Join(root, "config.toml"),
	}

	config := `[general]
data_dir = "` + env.DataDir + `"
output_root = "` + env.OutputRoot + `"
ledger_path = "` + env.LedgerPath + `"
log_level = "warn"

[model]
provider = "stub"
path_model = "stub-model"

[run]
mode = "` + mode + `"
languages = ["English", "Swahili"]
tasks = [1, 6]

[direct]
concurrency = 4
retry_delay = "10ms"

[batch]
chunk_size = 2
poll_interval = "10ms"
retry_delay = "10ms"

[notifications]
desktop = false
` + extra

	if err := os.WriteFile(env.ConfigPath, []byte(config), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return env
}

// runCLI runs the binary with the test config and returns combined output
func runCLI(t *testing.T, env testEnv, args ...string) (string, error) {
	t.Helper()
	full := append([]string{"--config", env.ConfigPath}, args...)
	cmd := exec.Command(binaryPath(t), full...)
	cmd.Dir = t.TempDir()
	cmd.Env = append(os.Environ(), "NO_COLOR=1")
	out, err := cmd.CombinedOutput()
	return string(out), err
}
