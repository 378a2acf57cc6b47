package main

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/jonathan/design2code/internal/config"
	"github.com/jonathan/design2code/internal/db"
	"github.com/jonathan/design2code/internal/figma"
	"github.com/jonathan/design2code/internal/generation"
	"github.com/jonathan/design2code/internal/jobs"
	"github.com/jonathan/design2code/internal/memstore"
	"github.com/jonathan/design2code/internal/pipeline"
	"github.com/jonathan/design2code/internal/secrets"
)

// store is everything the application persists.
type store interface {
	generation.Store
	secrets.Store
	figma.ImageStore
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*memstore.Store)(nil)
)

// app holds the wired components shared by the serve and worker commands.
type app struct {
	cfg         *config.Config
	store       store
	ping        func(ctx context.Context) error
	vault       *secrets.Vault
	figma       *figma.Client
	runner      *jobs.Runner
	generations *generation.Service
	closers     []func()
}

// buildApp connects the store and assembles the job system. With
// migrate set, pending schema migrations are applied first.
func buildApp(ctx context.Context, cfg *config.Config, migrate bool) (*app, error) {
	log := zap.S().Named("app")
	a := &app{cfg: cfg}

	if cfg.Persistent() {
		database, err := db.Connect(ctx, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, database.Close)
		if migrate {
			if err := database.Migrate(ctx); err != nil {
				a.Close()
				return nil, err
			}
		}
		a.store = database
		a.ping = database.Ping
		log.Infow("Using PostgreSQL store")
	} else {
		a.store = memstore.New(nil)
		log.Warnw("DATABASE_URL not set, using in-memory store; data is lost on exit")
	}

	var cache figma.Cache
	if cfg.Figma.RedisURL != "" {
		rc, err := figma.NewRedisCache(ctx, cfg.Figma.RedisURL, cfg.Figma.CacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = rc.Close() })
		cache = rc
	} else {
		cache = figma.NewMemoryCache(cfg.Figma.CacheTTL, nil)
	}

	fetcher := figma.NewFetcher(http.DefaultClient, figma.RetryOptions{
		MaxAttempts:     cfg.Figma.MaxAttempts,
		Timeout:         cfg.Figma.AttemptTimeout,
		MaxWait:         cfg.Figma.InlineMaxWait,
		MaxReportedWait: cfg.Figma.MaxReportedWait,
		MaxBodyBytes:    figma.DefaultMaxBodyBytes,
	})
	a.figma = figma.NewClient(cfg.Figma.BaseURL, fetcher,
		figma.WithCache(cache),
		figma.WithImageStore(a.store),
	)

	vault, err := secrets.NewVault(a.store, cfg.Secrets.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize secrets vault: %w", err)
	}
	if cfg.Secrets.EncryptionKey == "" {
		log.Warnw("SECRETS_ENCRYPTION_KEY not set, Figma tokens cannot be stored")
	}
	a.vault = vault

	mock := pipeline.NewMock()
	proc := jobs.NewProcessor(a.store, vault, pipeline.NewFigma(a.figma), mock, jobs.ProcessorConfig{
		Retry: jobs.RetryPolicy{
			Min:     cfg.Jobs.RetryMin,
			Max:     cfg.Jobs.RetryMax,
			Default: cfg.Jobs.RetryDefault,
		},
	})
	a.runner = jobs.NewRunner(a.store, proc, jobs.RunnerConfig{
		Lease:        cfg.Jobs.Lease,
		DefaultLimit: cfg.Cron.DefaultLimit,
		MaxLimit:     cfg.Cron.MaxLimit,
	})
	a.generations = generation.NewService(a.store, a.runner, vault, mock, generation.Config{
		CronConfigured: cfg.CronConfigured(),
	})
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
