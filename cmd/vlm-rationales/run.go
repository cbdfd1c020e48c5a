package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/metrics"
	"github.com/hochfrequenz/vlm-rationales/internal/notify"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
	"github.com/hochfrequenz/vlm-rationales/internal/watch"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Generate rationales for every configured (language, task) pair",
	Long: `Run walks the configured languages and tasks in order, sends every pending
item to the model and checkpoints the answers. Items already answered are
skipped, so an interrupted run picks up where it stopped. After each pair
the sorted result artifact is rewritten.`,
	RunE: runRun,
}

var (
	runMode        string
	runProvider    string
	runLanguages   []string
	runTasks       []int
	runRetryErrors bool
	runDryRun      bool
	runNoProgress  bool
	runMetricsAddr string
	runAPIAddr     string
	runNotify      bool
	runWatch       bool
)

func init() {
	runCmd.Flags().StringVar(&runMode, "mode", "", "dispatch mode (direct, batch)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "model provider (gemini, openai, stub)")
	runCmd.Flags().StringSliceVar(&runLanguages, "languages", nil, "languages to process (names or codes)")
	runCmd.Flags().IntSliceVar(&runTasks, "tasks", nil, "task numbers to process (1-8)")
	runCmd.Flags().BoolVar(&runRetryErrors, "retry-errors", false, "reprocess items whose stored answer is an error")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "use the offline stub provider")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "disable progress bars")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().StringVar(&runAPIAddr, "api-addr", "", "serve the status API and event stream on this address")
	runCmd.Flags().BoolVar(&runNotify, "notify", false, "send a notification when the run finishes")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "keep running and process new images as they appear")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays command-line overrides on the loaded config
func applyRunFlags(cfg *config.Config) {
	if runMode != "" {
		cfg.Run.Mode = strings.ToLower(runMode)
	}
	if runProvider != "" {
		cfg.Model.Provider = strings.ToLower(runProvider)
	}
	if runDryRun {
		cfg.Model.Provider = config.ProviderStub
	}
	if len(runLanguages) > 0 {
		cfg.Run.Languages = runLanguages
	}
	if len(runTasks) > 0 {
		cfg.Run.Tasks = runTasks
	}
	if runRetryErrors {
		cfg.Run.RetryErrors = true
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := newUI()
	lg := openLedger(cfg)
	if lg != nil {
		defer lg.Close()
	}
	m := metrics.New()
	if runMetricsAddr != "" {
		srv := serveMetrics(runMetricsAddr, m)
		defer srv.Close()
	}

	deps := runnerDeps{ledger: lg, metrics: m}
	if runAPIAddr != "" {
		readOnly, err := newReadOnlyRunner(cfg)
		if err != nil {
			return err
		}
		server := newAPIServer(cfg, readOnly, lg, m.Handler(), runAPIAddr)
		deps.hooks = server.Hooks()
		go func() {
			if err := server.Start(ctx); err != nil {
				log.WithError(err).Error("api server stopped")
			}
		}()
	}
	if !runNoProgress {
		deps.progress = newBarProgress(u)
	}
	runner, err := newRunner(cfg, deps)
	if err != nil {
		return err
	}

	_, runErr := runOnce(ctx, cfg, runner, u, runNotifyTitle())
	if runWatch && !errors.Is(runErr, context.Canceled) {
		return watchAndRun(ctx, cfg, runner, u)
	}
	return runErr
}

// runOnce scans the dataset, runs every pair and reports the outcome. A
// non-empty notifyTitle sends a notification when the run is over.
func runOnce(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, u *ui, notifyTitle string) ([]pipeline.PairSummary, error) {
	var scan *items.Scan
	err := withSpinner("Scanning "+cfg.General.DataDir, func() error {
		var err error
		scan, err = scanItems(cfg)
		return err
	})
	if err != nil {
		if notifyTitle != "" {
			sendRunNotification(cfg, notifyTitle, nil, err)
		}
		return nil, err
	}
	printScan(u, scan)

	start := time.Now()
	sums, runErr := runner.Run(ctx, scan)
	printSummaries(u, sums)
	fmt.Printf("\n%s in %s\n", u.dim("Finished"), time.Since(start).Round(time.Second))

	if cfg.General.MetricsTextfile != "" && runner.Metrics() != nil {
		if err := runner.Metrics().WriteTextfile(cfg.General.MetricsTextfile); err != nil {
			log.WithError(err).Warn("could not write metrics textfile")
		}
	}
	if notifyTitle != "" {
		sendRunNotification(cfg, notifyTitle, sums, runErr)
	}
	if runErr != nil {
		return sums, runErr
	}
	if failed := countStatus(sums, pipeline.PairFailed); failed > 0 {
		return sums, fmt.Errorf("%d pair(s) failed", failed)
	}
	return sums, nil
}

// watchAndRun reruns the matrix whenever new images land in the data directory
func watchAndRun(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, u *ui) error {
	changed := make(chan struct{}, 1)
	w, err := watch.New(func(paths []string) {
		log.WithField("files", len(paths)).Info("dataset changed")
		select {
		case changed <- struct{}{}:
		default:
		}
	}, ".png", ".jpg", ".jpeg", ".webp", ".txt")
	if err != nil {
		return err
	}
	if err := w.Add(cfg.General.DataDir); err != nil {
		return err
	}
	w.SetDebounce(2 * time.Second)
	w.Start(ctx)
	defer w.Stop()

	fmt.Printf("%s %s\n", u.info("Watching"), cfg.General.DataDir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-changed:
			if _, err := runOnce(ctx, cfg, runner, u, runNotifyTitle()); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.WithError(err).Error("run failed")
			}
		}
	}
}

func runNotifyTitle() string {
	if !runNotify {
		return ""
	}
	return "vlm-rationales run"
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).WithField("addr", addr).Error("metrics server stopped")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}

func printScan(u *ui, scan *items.Scan) {
	fmt.Printf("%s %d items (%d with text, %d image only)\n",
		u.title("Dataset"), len(scan.All), len(scan.ImageText), len(scan.ImageOnly))
	if len(scan.Rejected) > 0 {
		fmt.Printf("  %s %d files rejected\n", u.warn("!"), len(scan.Rejected))
	}
	if scan.Truncated > 0 {
		fmt.Printf("  %s %d items beyond the cap ignored\n", u.dim("-"), scan.Truncated)
	}
}

func printSummaries(u *ui, sums []pipeline.PairSummary) {
	if len(sums) == 0 {
		return
	}
	fmt.Println()
	fmt.Println(u.title("Pairs"))
	for _, s := range sums {
		var status string
		switch s.Status {
		case pipeline.PairCompleted, pipeline.PairUpToDate:
			status = u.ok(string(s.Status))
		case pipeline.PairPartial, pipeline.PairNoItems:
			status = u.warn(string(s.Status))
		default:
			status = u.err(string(s.Status))
		}
		line := fmt.Sprintf("  %-14s %-22s eligible %4d  pending %4d", s.Spec.Key(), status, s.Eligible, s.Pending)
		if s.Dispatch.Requested > 0 {
			line += fmt.Sprintf("  resolved %4d  errors %3d", s.Dispatch.Resolved, s.Dispatch.Errors)
		}
		if s.Dispatch.Abandoned > 0 {
			line += "  " + u.warn(fmt.Sprintf("abandoned %d", s.Dispatch.Abandoned))
		}
		fmt.Println(line)
		if s.Err != nil {
			fmt.Printf("    %s\n", u.err(s.Err.Error()))
		}
	}
}

func countStatus(sums []pipeline.PairSummary, status pipeline.PairStatus) int {
	n := 0
	for _, s := range sums {
		if s.Status == status {
			n++
		}
	}
	return n
}

// runNotification summarizes a finished run for notify
func runNotification(title string, sums []pipeline.PairSummary, runErr error) notify.Notification {
	n := notify.Notification{Title: title, Level: notify.LevelSuccess}
	var resolved, errs, abandoned int
	for _, s := range sums {
		resolved += s.Dispatch.Resolved
		errs += s.Dispatch.Errors
		abandoned += s.Dispatch.Abandoned
		if s.Status == pipeline.PairFailed || s.Status == pipeline.PairPartial {
			detail := fmt.Sprintf("%s: %s", s.Spec.Key(), s.Status)
			if s.Err != nil {
				detail += " (" + s.Err.Error() + ")"
			}
			n.Details = append(n.Details, detail)
		}
	}
	n.Message = fmt.Sprintf("%d pairs processed", len(sums))
	n.Stats = []notify.Stat{
		{Label: "resolved", Value: resolved},
		{Label: "errors", Value: errs},
	}
	if abandoned > 0 {
		n.Stats = append(n.Stats, notify.Stat{Label: "abandoned", Value: abandoned})
	}
	switch {
	case runErr != nil:
		n.Level = notify.LevelError
		n.Message += ": " + runErr.Error()
	case len(n.Details) > 0 || errs > 0:
		n.Level = notify.LevelWarning
	}
	return n
}

// sendRunNotification delivers even after the run context was cancelled
func sendRunNotification(cfg *config.Config, title string, sums []pipeline.PairSummary, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	n := runNotification(title, sums, runErr)
	if err := notify.FromConfig(cfg.Notifications).Send(ctx, n); err != nil {
		log.WithError(err).Warn("notification failed")
	}
}
