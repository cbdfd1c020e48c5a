package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Run modes
const (
	ModeDirect = "direct"
	ModeBatch  = "batch"
)

// Providers
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderStub   = "stub"
)

// Item scopes for the image tasks (1-5)
const (
	ScopeAll       = "all"
	ScopeImageOnly = "image_only"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Model         ModelConfig         `toml:"model"`
	Run           RunConfig           `toml:"run"`
	Direct        DirectConfig        `toml:"direct"`
	Batch         BatchConfig         `toml:"batch"`
	Schedules     []ScheduleEntry     `toml:"schedule"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds paths and process-wide settings
type GeneralConfig struct {
	DataDir         string   `toml:"data_dir"`
	OutputRoot      string   `toml:"output_root"`
	MaxItems        int      `toml:"max_items"`
	LedgerPath      string   `toml:"ledger_path"`
	MetricsTextfile string   `toml:"metrics_textfile"`
	LogLevel        string   `toml:"log_level"`
	PromptDirs      []string `toml:"prompt_dirs"`
}

// ModelConfig selects the provider and its generation settings
type ModelConfig struct {
	Provider        string  `toml:"provider"`
	APIModel        string  `toml:"api_model"`
	PathModel       string  `toml:"path_model"`
	Temperature     float64 `toml:"temperature"`
	MaxOutputTokens int     `toml:"max_output_tokens"`
	GoogleAPIKey    string  `toml:"google_api_key"`
	OpenAIAPIKey    string  `toml:"openai_api_key"`
	GeminiBaseURL   string  `toml:"gemini_base_url"`
	OpenAIBaseURL   string  `toml:"openai_base_url"`
}

// RunConfig selects what a run covers
type RunConfig struct {
	Mode           string   `toml:"mode"`
	Languages      []string `toml:"languages"`
	Tasks          []int    `toml:"tasks"`
	RetryErrors    bool     `toml:"retry_errors"`
	ImageTaskScope string   `toml:"image_task_scope"`
}

// DirectConfig holds direct-mode dispatch settings
type DirectConfig struct {
	Concurrency     int      `toml:"concurrency"`
	RetryAttempts   int      `toml:"retry_attempts"`
	RetryDelay      Duration `toml:"retry_delay"`
	MaxRetryDelay   Duration `toml:"max_retry_delay"`
	CheckpointEvery int      `toml:"checkpoint_every"`
}

// BatchConfig holds batch-mode dispatch settings
type BatchConfig struct {
	ChunkSize     int      `toml:"chunk_size"`
	PollInterval  Duration `toml:"poll_interval"`
	MaxPolls      int      `toml:"max_polls"`
	MaxRetries    int      `toml:"max_retries"`
	RetryDelay    Duration `toml:"retry_delay"`
	KeepArtifacts int      `toml:"keep_artifacts"`
}

// ScheduleEntry is one cron-triggered run
type ScheduleEntry struct {
	Name             string   `toml:"name"`
	Cron             string   `toml:"cron"`
	MaxDuration      Duration `toml:"max_duration"`
	NotifyOnComplete bool     `toml:"notify_on_complete"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Duration decodes TOML strings like "60s" or "5m"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DataDir:    filepath.Join("data", "ImagesTextEn1K"),
			OutputRoot: "outputs",
			MaxItems:   1000,
			LedgerPath: filepath.Join(home, ".vlm-rationales", "ledger.db"),
			LogLevel:   "info",
		},
		Model: ModelConfig{
			Provider:        ProviderGemini,
			APIModel:        "gemini-1.5-flash-latest",
			PathModel:       "gemini-2.0-flash-lite",
			Temperature:     0,
			MaxOutputTokens: 1024,
			GeminiBaseURL:   "https://generativelanguage.googleapis.com/v1beta",
			OpenAIBaseURL:   "https://api.openai.com/v1",
		},
		Run: RunConfig{
			Mode:           ModeDirect,
			Languages:      []string{"English", "Japanese", "Swahili", "Urdu"},
			Tasks:          []int{1, 2, 3, 4, 5, 6, 7, 8},
			RetryErrors:    false,
			ImageTaskScope: ScopeAll,
		},
		Direct: DirectConfig{
			Concurrency:     10,
			RetryAttempts:   3,
			RetryDelay:      Duration{5 * time.Second},
			MaxRetryDelay:   Duration{2 * time.Minute},
			CheckpointEvery: 10,
		},
		Batch: BatchConfig{
			ChunkSize:     200,
			PollInterval:  Duration{60 * time.Second},
			MaxPolls:      120,
			MaxRetries:    3,
			RetryDelay:    Duration{5 * time.Second},
			KeepArtifacts: 10,
		},
		Notifications: NotificationsConfig{
			Desktop: false,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults.
// Environment overrides are applied on top of the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	if err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.OutputRoot = ExpandPath(cfg.General.OutputRoot)
	cfg.General.LedgerPath = ExpandPath(cfg.General.LedgerPath)
	cfg.General.MetricsTextfile = ExpandPath(cfg.General.MetricsTextfile)
	for i, dir := range cfg.General.PromptDirs {
		cfg.General.PromptDirs[i] = ExpandPath(dir)
	}

	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" {
		c.Model.GoogleAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Model.OpenAIAPIKey = v
	}
	if v := os.Getenv("VLM_DATA_DIR"); v != "" {
		c.General.DataDir = v
	}
	if v := os.Getenv("VLM_OUTPUT_ROOT"); v != "" {
		c.General.OutputRoot = v
	}
	if v := os.Getenv("VLM_MODE"); v != "" {
		c.Run.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("VLM_PROVIDER"); v != "" {
		c.Model.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("VLM_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("VLM_CONCURRENCY: %w", err)
		}
		c.Direct.Concurrency = n
	}
	if v := os.Getenv("VLM_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
	return nil
}

// Validate checks the configuration and reports every problem at once
func (c *Config) Validate() error {
	var errs []string

	switch c.Run.Mode {
	case ModeDirect, ModeBatch:
	default:
		errs = append(errs, fmt.Sprintf("run.mode must be %q or %q, got %q", ModeDirect, ModeBatch, c.Run.Mode))
	}

	switch c.Model.Provider {
	case ProviderGemini:
		if c.Model.GoogleAPIKey == "" {
			errs = append(errs, "GOOGLE_API_KEY is required for the gemini provider")
		}
		if c.Run.Mode == ModeBatch {
			errs = append(errs, "the gemini provider has no job API; use mode=direct")
		}
	case ProviderOpenAI:
		if c.Model.OpenAIAPIKey == "" {
			errs = append(errs, "OPENAI_API_KEY is required for the openai provider")
		}
	case ProviderStub:
	default:
		errs = append(errs, fmt.Sprintf("unknown model.provider %q", c.Model.Provider))
	}

	if c.Model.PathModel == "" {
		errs = append(errs, "model.path_model is required")
	}
	if c.General.DataDir == "" {
		errs = append(errs, "general.data_dir is required")
	}
	if c.General.MaxItems < 0 {
		errs = append(errs, "general.max_items must not be negative")
	}

	switch c.Run.ImageTaskScope {
	case ScopeAll, ScopeImageOnly:
	default:
		errs = append(errs, fmt.Sprintf("run.image_task_scope must be %q or %q", ScopeAll, ScopeImageOnly))
	}
	for _, t := range c.Run.Tasks {
		if t < 1 || t > 8 {
			errs = append(errs, fmt.Sprintf("run.tasks: %d out of range 1..8", t))
		}
	}
	if len(c.Run.Languages) == 0 {
		errs = append(errs, "run.languages must not be empty")
	}

	if c.Direct.Concurrency < 1 {
		errs = append(errs, "direct.concurrency must be at least 1")
	}
	if c.Direct.RetryAttempts < 1 {
		errs = append(errs, "direct.retry_attempts must be at least 1")
	}
	if c.Direct.CheckpointEvery < 1 {
		errs = append(errs, "direct.checkpoint_every must be at least 1")
	}
	if c.Batch.ChunkSize < 1 {
		errs = append(errs, "batch.chunk_size must be at least 1")
	}
	if c.Batch.MaxPolls < 1 {
		errs = append(errs, "batch.max_polls must be at least 1")
	}
	if c.Batch.MaxRetries < 0 {
		errs = append(errs, "batch.max_retries must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// CheckpointDir returns {output_root}/{path_model}/checkpoints_1shot_rationales
func (c *Config) CheckpointDir() string {
	return filepath.Join(c.General.OutputRoot, c.Model.PathModel, "checkpoints_1shot_rationales")
}

// ResultsDir returns {output_root}/{path_model}/results_1shot_rationales
func (c *Config) ResultsDir() string {
	return filepath.Join(c.General.OutputRoot, c.Model.PathModel, "results_1shot_rationales")
}

// BatchArtifactDir returns {output_root}/common_batch_files/batch_files
func (c *Config) BatchArtifactDir() string {
	return filepath.Join(c.General.OutputRoot, "common_batch_files", "batch_files")
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "vlm-rationales", "config.toml")
}

// LocalConfigName is the per-project config file searched for upward from the working directory
const LocalConfigName = ".vlm-rationales.toml"

// FindLocalConfig walks up from the working directory looking for LocalConfigName
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads path if given, otherwise a local project config, otherwise the user config
func LoadWithLocalFallback(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	if local := FindLocalConfig(); local != "" {
		return Load(local)
	}
	return Load(DefaultConfigPath())
}
