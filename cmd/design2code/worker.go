package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/scheduler"
)

var (
	workerOnce     bool
	workerLimit    int
	workerInterval time.Duration
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process due generation jobs",
	Long: `Claim and run due generation jobs outside the HTTP server. With --once a
single batch is processed and its summary printed as JSON; otherwise batches
run on a jittered interval until interrupted.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "Process one batch and exit")
	workerCmd.Flags().IntVar(&workerLimit, "limit", 0, "Jobs per batch (0 uses CRON_DEFAULT_LIMIT, capped at CRON_MAX_LIMIT)")
	workerCmd.Flags().DurationVar(&workerInterval, "interval", 30*time.Second, "Time between batches")
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	if !workerOnce && workerInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %s", workerInterval)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	limit := a.runner.ClampLimit(workerLimit)
	if workerOnce {
		summary, err := a.runner.RunDue(ctx, jobs.TriggerWorker, limit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	loop := scheduler.New(a.runner, scheduler.Config{
		Interval: workerInterval,
		Limit:    limit,
		Trigger:  jobs.TriggerWorker,
	})
	return loop.Run(ctx)
}
