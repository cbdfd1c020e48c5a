package main

import (
	"fmt"
	"os"

	"github.com/apex/log"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/dispatch"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/llm"
	"github.com/hochfrequenz/vlm-rationales/internal/llm/gemini"
	"github.com/hochfrequenz/vlm-rationales/internal/llm/openai"
	"github.com/hochfrequenz/vlm-rationales/internal/llm/stub"
	"github.com/hochfrequenz/vlm-rationales/internal/metrics"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
	"github.com/hochfrequenz/vlm-rationales/internal/prompts"
	"github.com/hochfrequenz/vlm-rationales/internal/retry"
)

// newDispatcherFactory picks the provider client and dispatch mode from cfg
func newDispatcherFactory(cfg *config.Config) (func(dispatch.Hooks) dispatch.Dispatcher, error) {
	var (
		client llm.Client
		jobs   llm.JobClient
	)
	switch cfg.Model.Provider {
	case config.ProviderGemini:
		client = gemini.NewClient(cfg.Model.GoogleAPIKey, cfg.Model.APIModel, cfg.Model.GeminiBaseURL)
	case config.ProviderOpenAI:
		c := openai.NewClient(cfg.Model.OpenAIAPIKey, cfg.Model.APIModel, cfg.Model.OpenAIBaseURL)
		client, jobs = c, c
	case config.ProviderStub:
		c := stub.NewClient()
		client, jobs = c, c
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Model.Provider)
	}

	if cfg.Run.Mode == config.ModeBatch {
		if jobs == nil {
			return nil, fmt.Errorf("provider %s does not support batch mode", cfg.Model.Provider)
		}
		opts := dispatch.BatchOptions{
			ChunkSize:     cfg.Batch.ChunkSize,
			PollInterval:  cfg.Batch.PollInterval.Duration,
			MaxPolls:      cfg.Batch.MaxPolls,
			MaxRetries:    cfg.Batch.MaxRetries,
			RetryDelay:    cfg.Batch.RetryDelay.Duration,
			ArtifactDir:   cfg.BatchArtifactDir(),
			KeepArtifacts: cfg.Batch.KeepArtifacts,
		}
		return func(h dispatch.Hooks) dispatch.Dispatcher {
			return dispatch.NewBatch(jobs, opts, h)
		}, nil
	}

	policy := retry.Policy{
		MaxAttempts: cfg.Direct.RetryAttempts,
		BaseDelay:   cfg.Direct.RetryDelay.Duration,
		MaxDelay:    cfg.Direct.MaxRetryDelay.Duration,
	}
	return func(h dispatch.Hooks) dispatch.Dispatcher {
		return dispatch.NewDirect(client, policy, cfg.Direct.Concurrency, cfg.Direct.CheckpointEvery, h)
	}, nil
}

func loadCatalog(cfg *config.Config) (*prompts.Loader, *prompts.Catalog, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, err
	}
	loader := prompts.DefaultLoader(cwd, cfg.General.PromptDirs...)
	catalog, err := loader.Catalog()
	if err != nil {
		return nil, nil, fmt.Errorf("load prompts: %w", err)
	}
	return loader, catalog, nil
}

// openLedger opens the run ledger; a failure only disables it
func openLedger(cfg *config.Config) *ledger.Store {
	if cfg.General.LedgerPath == "" {
		return nil
	}
	lg, err := ledger.New(cfg.General.LedgerPath)
	if err != nil {
		log.WithError(err).WithField("path", cfg.General.LedgerPath).Warn("ledger unavailable; runs will not be recorded")
		return nil
	}
	return lg
}

// scanItems loads the dataset and fails when nothing usable was found
func scanItems(cfg *config.Config) (*items.Scan, error) {
	scan := items.Load(cfg.General.DataDir, cfg.General.MaxItems)
	if scan.Err != nil {
		return nil, scan.Err
	}
	if scan.Empty() {
		return nil, fmt.Errorf("no images found in %s", cfg.General.DataDir)
	}
	return scan, nil
}

type runnerDeps struct {
	ledger   *ledger.Store
	metrics  *metrics.Metrics
	progress pipeline.Progress
	hooks    dispatch.Hooks
}

func newRunner(cfg *config.Config, deps runnerDeps) (*pipeline.Runner, error) {
	loader, catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	factory, err := newDispatcherFactory(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Config:        cfg,
		Catalog:       catalog,
		Prompts:       loader,
		NewDispatcher: factory,
		Provider:      cfg.Model.Provider,
		Ledger:        deps.ledger,
		Metrics:       deps.metrics,
		Progress:      deps.progress,
		Hooks:         deps.hooks,
	}), nil
}

// newReadOnlyRunner is a runner for status and finalize; it never dispatches
func newReadOnlyRunner(cfg *config.Config) (*pipeline.Runner, error) {
	loader, catalog, err := loadCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return pipeline.New(pipeline.Options{
		Config:  cfg,
		Catalog: catalog,
		Prompts: loader,
	}), nil
}
