package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/items"
	"github.com/hochfrequenz/vlm-rationales/internal/ledger"
	"github.com/hochfrequenz/vlm-rationales/internal/pipeline"
	"github.com/hochfrequenz/vlm-rationales/internal/watch"
	"github.com/hochfrequenz/vlm-rationales/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint coverage per (language, task) pair",
	RunE:  runStatus,
}

var finalizeCmd = &cobra.Command{
	Use:   "finalize",
	Short: "Rewrite every result artifact from its checkpoint",
	RunE:  runFinalize,
}

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Scan the dataset and show how items are partitioned",
	RunE:  runItems,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recorded runs and open batch jobs",
	RunE:  runJobs,
}

var (
	statusTUI     bool
	itemsVerbose  bool
	jobsLimit     int
	jobsOpenOnly  bool
	jobsLanguage  string
	jobsTask      int
	jobsRunStatus string
)

func init() {
	statusCmd.Flags().BoolVar(&statusTUI, "tui", false, "open the interactive dashboard")
	itemsCmd.Flags().BoolVarP(&itemsVerbose, "verbose", "v", false, "list rejected files")
	jobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "maximum number of runs to show")
	jobsCmd.Flags().BoolVar(&jobsOpenOnly, "open", false, "only show batch jobs that have not finished")
	jobsCmd.Flags().StringVar(&jobsLanguage, "language", "", "filter runs by language")
	jobsCmd.Flags().IntVar(&jobsTask, "task", 0, "filter runs by task number")
	jobsCmd.Flags().StringVar(&jobsRunStatus, "status", "", "filter runs by status")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(finalizeCmd)
	rootCmd.AddCommand(itemsCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := newReadOnlyRunner(cfg)
	if err != nil {
		return err
	}
	if statusTUI {
		return runDashboard(cfg, runner)
	}

	scan := items.Load(cfg.General.DataDir, cfg.General.MaxItems)
	if scan.Err != nil {
		return scan.Err
	}
	cov, err := runner.Coverage(scan)
	if err != nil {
		return err
	}

	u := newUI()
	printScan(u, scan)
	fmt.Println()
	fmt.Printf("%s %s\n\n", u.title("Checkpoints"), u.dim(cfg.CheckpointDir()))
	var done, eligible int
	for _, c := range cov {
		done += c.Done
		eligible += c.Eligible
		pct := fmt.Sprintf("%5.1f%%", c.Percent())
		switch {
		case c.Eligible > 0 && c.Remaining() == 0:
			pct = u.ok(pct)
		case c.Done > 0:
			pct = u.warn(pct)
		default:
			pct = u.dim(pct)
		}
		artifact := u.dim("no artifact")
		if c.HasArtifact {
			artifact = u.info("artifact")
		}
		line := fmt.Sprintf("  %-14s %s  %4d/%-4d", c.Spec.Key(), pct, c.Done, c.Eligible)
		if c.Errors > 0 {
			line += "  " + u.err(fmt.Sprintf("%d errors", c.Errors))
		}
		fmt.Println(line + "  " + artifact)
	}
	fmt.Printf("\n  %s %s of %s items resolved\n", u.title("Total"),
		humanize.Comma(int64(done)), humanize.Comma(int64(eligible)))
	return nil
}

// runDashboard opens the bubbletea dashboard and refreshes it on checkpoint writes
func runDashboard(cfg *config.Config, runner *pipeline.Runner) error {
	lg := openLedger(cfg)
	if lg != nil {
		defer lg.Close()
	}

	model := tui.NewModel(tui.ModelConfig{
		Load:            snapshotLoader(cfg, runner, lg),
		RefreshInterval: 5 * time.Second,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	w, err := watch.New(func([]string) { p.Send(tui.ChangedMsg{}) }, ".json")
	if err == nil {
		if err := w.Add(cfg.CheckpointDir()); err != nil {
			log.WithError(err).Debug("checkpoint directory not watched")
		}
		w.Start(ctx)
		defer w.Stop()
	}

	_, err = p.Run()
	return err
}

func snapshotLoader(cfg *config.Config, runner *pipeline.Runner, lg *ledger.Store) tui.Loader {
	return func() (tui.Snapshot, error) {
		scan := items.Load(cfg.General.DataDir, cfg.General.MaxItems)
		if scan.Err != nil {
			return tui.Snapshot{}, scan.Err
		}
		cov, err := runner.Coverage(scan)
		if err != nil {
			return tui.Snapshot{}, err
		}
		snap := tui.Snapshot{
			DataDir:   cfg.General.DataDir,
			Items:     len(scan.All),
			ImageText: len(scan.ImageText),
			Coverage:  cov,
			TakenAt:   time.Now(),
		}
		if lg != nil {
			if snap.Runs, err = lg.ListRuns(ledger.ListOptions{Limit: 50}); err != nil {
				return snap, err
			}
			if snap.OpenJobs, err = lg.OpenJobs(); err != nil {
				return snap, err
			}
		}
		return snap, nil
	}
}

func runFinalize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := newReadOnlyRunner(cfg)
	if err != nil {
		return err
	}
	paths, err := runner.Finalize()
	u := newUI()
	for _, p := range paths {
		fmt.Printf("  %s %s\n", u.ok("wrote"), p)
	}
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		fmt.Println(u.dim("No checkpoints to finalize"))
	}
	return nil
}

func runItems(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	scan := items.Load(cfg.General.DataDir, cfg.General.MaxItems)
	if scan.Err != nil {
		return scan.Err
	}
	u := newUI()
	printScan(u, scan)
	if itemsVerbose {
		for _, r := range scan.Rejected {
			fmt.Printf("    %s %s\n", r.Path, u.dim(r.Reason))
		}
	}
	if len(scan.All) > 0 {
		first, last := scan.All[0], scan.All[len(scan.All)-1]
		fmt.Printf("  %s %d..%d\n", u.dim("ids"), first.ID, last.ID)
	}
	return nil
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.General.LedgerPath == "" {
		return fmt.Errorf("no ledger configured (general.ledger_path)")
	}
	lg, err := ledger.New(cfg.General.LedgerPath)
	if err != nil {
		return err
	}
	defer lg.Close()

	u := newUI()
	open, err := lg.OpenJobs()
	if err != nil {
		return err
	}
	fmt.Println(u.title("Open batch jobs"))
	if len(open) == 0 {
		fmt.Println(u.dim("  none"))
	}
	for _, j := range open {
		fmt.Printf("  %s  run %s  chunk %d  attempt %d  %s  %d requests  %s\n",
			j.JobID, shortID(j.RunID), j.Chunk, j.Attempt, u.warn(string(j.Status)), j.Requests,
			u.dim(humanize.Time(j.UpdatedAt)))
	}
	if jobsOpenOnly {
		return nil
	}

	runs, err := lg.ListRuns(ledger.ListOptions{
		Language: jobsLanguage,
		Task:     jobsTask,
		Status:   ledger.RunStatus(jobsRunStatus),
		Limit:    jobsLimit,
	})
	if err != nil {
		return err
	}
	fmt.Println()
	fmt.Println(u.title("Runs"))
	if len(runs) == 0 {
		fmt.Println(u.dim("  none"))
	}
	for _, r := range runs {
		status := string(r.Status)
		switch r.Status {
		case ledger.RunCompleted:
			status = u.ok(status)
		case ledger.RunFailed:
			status = u.err(status)
		case ledger.RunPartial, ledger.RunRunning:
			status = u.warn(status)
		}
		fmt.Printf("  %s  %-9s task%d  %-6s %-9s %-20s pending %4d  resolved %4d  errors %3d  %s\n",
			shortID(r.ID), r.Language, r.Task, r.Mode, r.Provider, status,
			r.Pending, r.Resolved, r.Errors, u.dim(humanize.Time(r.StartedAt)))
		if r.Message != "" {
			fmt.Printf("            %s\n", u.dim(r.Message))
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
