package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/vlm-rationales/internal/config"
	"github.com/hochfrequenz/vlm-rationales/internal/metrics"
	"github.com/hochfrequenz/vlm-rationales/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline on the cron schedules from the config",
	Long: `Schedule stays in the foreground and starts a full run whenever one of the
[[schedule]] entries in the config is due. Only one run is active at a time;
a run that exceeds its max_duration is cancelled after its current pair has
been checkpointed.`,
	RunE: runSchedule,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show configured schedules and their next run",
	RunE:  runScheduleList,
}

var (
	scheduleOnce        string
	scheduleMetricsAddr string
)

func init() {
	scheduleCmd.Flags().StringVar(&scheduleOnce, "once", "", "run the named schedule immediately and exit")
	scheduleCmd.Flags().StringVar(&scheduleMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	scheduleCmd.AddCommand(scheduleListCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func loadScheduler() (*config.Config, *schedule.Scheduler, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Schedules) == 0 {
		return nil, nil, fmt.Errorf("no [[schedule]] entries configured")
	}
	sched, err := schedule.NewScheduler(cfg.Schedules)
	if err != nil {
		return nil, nil, err
	}
	return cfg, sched, nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, sched, err := loadScheduler()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg := openLedger(cfg)
	if lg != nil {
		defer lg.Close()
	}
	m := metrics.New()
	if scheduleMetricsAddr != "" {
		srv := serveMetrics(scheduleMetricsAddr, m)
		defer srv.Close()
	}
	runner, err := newRunner(cfg, runnerDeps{ledger: lg, metrics: m})
	if err != nil {
		return err
	}

	u := newUI()
	run := func(ctx context.Context, e config.ScheduleEntry) error {
		title := ""
		if e.NotifyOnComplete {
			title = "vlm-rationales schedule " + e.Name
		}
		_, err := runOnce(ctx, cfg, runner, u, title)
		return err
	}

	if scheduleOnce != "" {
		return sched.RunNow(ctx, scheduleOnce, run)
	}

	for _, name := range sched.Names() {
		log.WithFields(log.Fields{"schedule": name, "next": sched.NextRun(name).Format(time.RFC3339)}).Info("schedule armed")
	}
	sched.Start(ctx, run)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	_, sched, err := loadScheduler()
	if err != nil {
		return err
	}
	u := newUI()
	for _, name := range sched.Names() {
		e, _ := sched.Entry(name)
		fmt.Printf("  %-16s %-16s next %s  max %s\n",
			u.title(name), e.Cron, u.info(sched.NextRun(name).Format("2006-01-02 15:04")), e.MaxDuration.Duration)
	}
	return nil
}
