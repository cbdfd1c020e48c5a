package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
	"github.com/hochfrequenz/vlm-rationales/internal/watch"
	"github.com/hochfrequenz/vlm-rationales/web/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve coverage and run history over HTTP",
	Long: `Serve exposes checkpoint coverage, the run ledger and a server-sent event
stream under /api. It does not dispatch anything itself; checkpoint files
written by a concurrent run are announced as "checkpoint" events.`,
	RunE: runServe,
}

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := newReadOnlyRunner(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg := openLedger(cfg)
	if lg != nil {
		defer lg.Close()
	}
	server := newAPIServer(cfg, runner, lg, nil, serveAddr)

	w, err := watch.New(server.CheckpointsChanged, ".json")
	if err != nil {
		return err
	}
	if err := w.Add(cfg.CheckpointDir()); err != nil {
		log.WithError(err).Warn("checkpoint directory not watched")
	}
	w.Start(ctx)
	defer w.Stop()

	return server.Start(ctx)
}

// newAPIServer builds the HTTP API over a read-only runner and an optional ledger
func newAPIServer(cfg *config.Config, runner *pipeline.Runner, lg *ledger.Store, metricsHandler http.Handler, addr string) *api.Server {
	coverage := func() (*items.Scan, []pipeline.Coverage, error) {
		scan := items.Load(cfg.General.DataDir, cfg.General.MaxItems)
		if scan.Err != nil {
			return nil, nil, scan.Err
		}
		cov, err := runner.Coverage(scan)
		return scan, cov, err
	}
	var runs api.RunStore
	if lg != nil {
		runs = lg
	}
	return api.NewServer(coverage, runs, metricsHandler, addr)
}
