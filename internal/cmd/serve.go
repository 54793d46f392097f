package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/gohaul/internal/server"
	"github.com/3leaps/gohaul/internal/server/handlers"
	"github.com/3leaps/gohaul/pkg/dispatchlog"
	"github.com/3leaps/gohaul/pkg/distlock"
	"github.com/3leaps/gohaul/pkg/haul"
	"github.com/3leaps/gohaul/pkg/haulstore"
	"github.com/3leaps/gohaul/pkg/ledger"
	"github.com/3leaps/gohaul/pkg/lifecycle"
	"github.com/3leaps/gohaul/pkg/orchestrator"
	"github.com/3leaps/gohaul/pkg/profiles"
	s3provider "github.com/3leaps/gohaul/pkg/provider/s3"
	"github.com/3leaps/gohaul/pkg/recovery"
	"github.com/3leaps/gohaul/pkg/registry"
	"github.com/3leaps/gohaul/pkg/schedsync"
	"github.com/3leaps/gohaul/pkg/scheduler"
	"github.com/3leaps/gohaul/pkg/sourceprobe"
	"github.com/3leaps/gohaul/pkg/transfer"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration API server",
	Long: `Start the HTTP API together with the background machinery: the
stale-job recovery monitor and the dispatch-log consumer.

Configuration comes from gohaul.yaml (searched in . and /etc/gohaul),
GOHAUL_* environment variables, and built-in defaults.

Examples:
  # Run with defaults (localhost:8080, ./gohaul.db, localhost:6379)
  gohaul serve

  # Run against a shared Redis with debug logging
  GOHAUL_REDIS_ADDR=redis.internal:6379 gohaul serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := haulstore.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer func() { _ = store.Close() }()

	redis := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() { _ = redis.Close() }()
	if err := redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
	}

	sched := scheduler.NewRedis(redis, 0)
	life := lifecycle.New(store, logger)

	reg := registry.New()
	transferHandler := transfer.New(sched, cfg.Staging.Dir, logger)
	reg.RegisterJobType(transferHandler)
	reg.RegisterCanceller(transferHandler)
	reg.RegisterRecovery(transfer.NewRecovery(sched))

	s3Handler, err := s3provider.New(ctx, s3provider.Config{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Profile:         cfg.S3.Profile,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		ForcePathStyle:  cfg.S3.ForcePathStyle,
	}, sched, store, store, logger)
	if err != nil {
		return fmt.Errorf("initialize s3 provider: %w", err)
	}
	reg.RegisterProvider(s3Handler)

	if cfg.Profiles.Path != "" {
		if err := importProfiles(ctx, store, cfg.Profiles.Path, logger); err != nil {
			return err
		}
	}

	orch := orchestrator.New(orchestrator.Deps{
		Store:        store,
		Destinations: store,
		Lifecycle:    life,
		Registry:     reg,
		Scheduler:    sched,
		Ledger:       ledger.NewMemory(),
		Lock:         distlock.New(redis, logger),
		Publisher:    dispatchlog.NewPublisher(redis, cfg.Dispatch.Stream),
		Probe:        sourceprobe.New(nil, logger),
		Logger:       logger,
	}, orchestrator.Config{
		LockTTL:     cfg.Orchestrator.LockTTL,
		LockTimeout: cfg.Orchestrator.LockTimeout,
	})

	syncSvc := schedsync.New(store, life, reg, logger)

	monitor := recovery.New(store, reg, syncSvc, sched, logger, recovery.Config{
		Interval:            cfg.Recovery.Interval,
		StaleAfter:          cfg.Recovery.StaleAfter,
		RecoveriesPerSecond: cfg.Recovery.RecoveriesPerSecond,
	})

	consumer, err := dispatchlog.NewConsumer(redis, logger, dispatchlog.ConsumerConfig{
		Stream: cfg.Dispatch.Stream,
		Group:  cfg.Dispatch.Group,
		Name:   cfg.Dispatch.Consumer,
	})
	if err != nil {
		return fmt.Errorf("initialize dispatch consumer: %w", err)
	}

	h := handlers.New(orch, syncSvc, store, store, logger, versionInfo.Version)
	srv := server.New(cfg.Server.Host, cfg.Server.Port, h, logger, server.Timeouts{
		Read:     cfg.Server.ReadTimeout,
		Write:    cfg.Server.WriteTimeout,
		Idle:     cfg.Server.IdleTimeout,
		Shutdown: cfg.Server.ShutdownTimeout,
	})

	logger.Info("gohaul starting",
		zap.String("version", versionInfo.Version),
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.String("db", cfg.Database.Path),
		zap.String("redis", cfg.Redis.Addr))

	errCh := make(chan error, 3)
	go func() { errCh <- monitor.Run(ctx) }()
	go func() { errCh <- consumer.Run(ctx, ensureDispatched(store, reg, logger)) }()
	go func() { errCh <- srv.Start(ctx) }()

	for i := 0; i < 3; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			stop()
			return err
		}
		stop()
	}
	logger.Info("gohaul stopped")
	return nil
}

// ensureDispatched is the dispatch-log consumer handler: if a creation event
// arrives for a job that is still queued without a fetch task (the creating
// node crashed between persisting and enqueueing), it dispatches the fetch.
// Everything else is an already-handled duplicate and is acknowledged as-is.
func ensureDispatched(store *haulstore.Store, reg *registry.Registry, logger *zap.Logger) dispatchlog.Handler {
	return func(ctx context.Context, evt dispatchlog.Event) error {
		j, err := store.GetJob(ctx, evt.JobID)
		if errors.Is(err, haul.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if j.Status != haul.StatusQueued || j.DownloadHandle != "" {
			return nil
		}
		handler, err := reg.JobType(j.JobType)
		if err != nil {
			logger.Error("creation event for unknown job type",
				zap.String("job_id", j.ID), zap.String("job_type", j.JobType))
			return nil
		}
		handle, err := handler.EnqueueFetch(ctx, j.ID)
		if err != nil {
			return err
		}
		if err := store.SetHandles(ctx, j.ID, &handle, nil); err != nil {
			return err
		}
		logger.Info("undispatched job picked up from the dispatch log",
			zap.String("job_id", j.ID), zap.String("handle", handle))
		return nil
	}
}

// importProfiles seeds the destination table from a profile manifest. A
// declared profile that matches an existing destination by owner and name
// keeps that destination's id, so repeated imports update instead of
// duplicating.
func importProfiles(ctx context.Context, store *haulstore.Store, path string, logger *zap.Logger) error {
	file, err := profiles.Load(path)
	if err != nil {
		return fmt.Errorf("load destination profiles: %w", err)
	}
	dests := file.Materialize(time.Now().UTC())
	for _, d := range dests {
		existing, err := store.ListDestinations(ctx, d.OwnerID)
		if err != nil {
			return fmt.Errorf("list destinations for %s: %w", d.OwnerID, err)
		}
		for _, e := range existing {
			if e.Name == d.Name {
				d.ID = e.ID
				d.CreatedAt = e.CreatedAt
				break
			}
		}
		if err := store.PutDestination(ctx, d); err != nil {
			return fmt.Errorf("import destination %s/%s: %w", d.OwnerID, d.Name, err)
		}
	}
	logger.Info("destination profiles imported",
		zap.String("path", path), zap.Int("count", len(dests)))
	return nil
}
