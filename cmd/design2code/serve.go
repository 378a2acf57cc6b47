package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/metrics"
	"github.com/jonathan/design2code/internal/scheduler"
	"github.com/jonathan/design2code/internal/server"
	"github.com/jonathan/design2code/internal/server/middleware"
)

var (
	servePort              int
	serveSchedulerInterval time.Duration
	serveMigrate           bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST API server",
	Long: `Start the HTTP server exposing the generation API. With a scheduler
interval set, due jobs are also processed in-process on a jittered timer.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().DurationVar(&serveSchedulerInterval, "scheduler-interval", 0, "Run due jobs in-process at this interval (overrides SCHEDULER_INTERVAL)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply pending database migrations on startup")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("scheduler-interval") {
		cfg.Cron.SchedulerInterval = serveSchedulerInterval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, serveMigrate)
	if err != nil {
		return err
	}
	defer a.Close()

	m := metrics.NewMiddleware("design2code")
	m.MustRegisterDefault()

	srv := server.New(cfg, server.Deps{
		Generations: a.generations,
		Runner:      a.runner,
		Tokens:      a.vault,
		Figma:       a.figma,
		Verifier:    middleware.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Metrics:     m,
		Ping:        a.ping,
	})
	defer srv.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})
	if cfg.Cron.SchedulerInterval > 0 {
		loop := scheduler.New(a.runner, scheduler.Config{
			Interval: cfg.Cron.SchedulerInterval,
			Limit:    cfg.Cron.DefaultLimit,
			Trigger:  jobs.TriggerCron,
		})
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}

	zap.S().Named("serve").Infow("Design2Code started",
		"port", cfg.Server.Port,
		"persistent", cfg.Persistent(),
		"cronConfigured", cfg.CronConfigured(),
		"schedulerInterval", cfg.Cron.SchedulerInterval,
	)
	return g.Wait()
}
