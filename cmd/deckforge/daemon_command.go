package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"deckforge/internal/batch"
	"deckforge/internal/cache"
	"deckforge/internal/config"
	"deckforge/internal/daemon"
	"deckforge/internal/job"
	"deckforge/internal/logging"
	"deckforge/internal/pipeline"
	"deckforge/internal/workers"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the deckforge daemon in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess(ctx)
		},
	}
}

func runDaemonProcess(ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	definitions, err := pipeline.LoadDefinitions()
	if err != nil {
		return err
	}

	registry, err := job.Open(cfg, definitions.StageTemplates())
	if err != nil {
		logger.Error("open job registry", logging.Error(err))
		return err
	}
	defer registry.Close()

	workerRegistry, err := workers.FromConfig(cfg)
	if err != nil {
		logger.Error("configure workers", logging.Error(err))
		return err
	}

	resultCache, err := buildCache(cfg, registry, logger)
	if err != nil {
		logger.Error("configure result cache", logging.Error(err))
		return err
	}

	executor := pipeline.NewExecutor(registry, resultCache, workerRegistry, logger,
		time.Duration(cfg.Pipeline.StageTimeoutSeconds)*time.Second)
	orchestrator := pipeline.NewOrchestrator(registry, executor, logger, cfg.Pipeline.MaxConcurrentJobs)
	coordinator := batch.NewCoordinator(registry, orchestrator,
		time.Duration(cfg.Pipeline.BatchStaggerMillis)*time.Millisecond, logger)

	d, err := daemon.New(daemon.Options{
		Config:       cfg,
		Logger:       logger,
		Registry:     registry,
		Orchestrator: orchestrator,
		Executor:     executor,
		Coordinator:  coordinator,
		Cache:        resultCache,
		Definitions:  definitions,
	})
	if err != nil {
		return err
	}

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := d.Start(signalCtx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "deckforge daemon listening on %s\n", d.Addr())

	<-signalCtx.Done()
	d.Stop()
	return nil
}

// buildCache assembles the two-tier result cache from configuration. An
// unreachable redis backend is fatal at startup; runtime failures degrade to
// memory-only.
func buildCache(cfg *config.Config, registry *job.Registry, logger *slog.Logger) (*cache.Cache, error) {
	var durable cache.DurableTier
	switch cfg.Cache.DurableBackend {
	case "sqlite":
		tier, err := cache.NewSQLiteTier(registry.DB())
		if err != nil {
			return nil, err
		}
		durable = tier
	case "redis":
		tier, err := cache.NewRedisTier(context.Background(), cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
		if err != nil {
			return nil, err
		}
		durable = tier
	}

	return cache.New(cache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		DefaultTTL: time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		Durable:    durable,
		Logger:     logger,
	}), nil
}
