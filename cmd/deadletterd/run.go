package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetgrid/telemetry-deadletter/pkg/config"
	"github.com/fleetgrid/telemetry-deadletter/pkg/deadletter"
	"github.com/fleetgrid/telemetry-deadletter/pkg/forwarder"
	"github.com/fleetgrid/telemetry-deadletter/pkg/health"
	"github.com/fleetgrid/telemetry-deadletter/pkg/management"
	"github.com/fleetgrid/telemetry-deadletter/pkg/migrate"
	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
	"github.com/fleetgrid/telemetry-deadletter/pkg/redeliver"
	"github.com/fleetgrid/telemetry-deadletter/pkg/store/mysql"
	"github.com/fleetgrid/telemetry-deadletter/pkg/telemetry"
)

const shutdownTimeout = 15 * time.Second

// services bundles everything the run and replay commands need.
type services struct {
	adapter  *mysql.Adapter
	store    deadletter.Store
	registry *telemetry.Registry
	lock     redeliver.LockProvider
	health   *health.Registry
}

func buildServices(cfg *config.Config, log logger.Logger) (*services, error) {
	adapter, err := mysql.NewAdapter(mysql.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QueryTimeout:    cfg.Database.QueryTimeout,
	}, log)
	if err != nil {
		return nil, err
	}

	store, err := deadletter.NewMySQLStore(adapter, log)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	fwd, err := forwarder.New(forwarder.Config{
		BaseURL:          cfg.Forwarder.BaseURL,
		OperationTimeout: cfg.Forwarder.Timeout,
	}, log)
	if err != nil {
		_ = adapter.Close()
		return nil, err
	}

	registry := telemetry.NewRegistry()
	for _, handler := range fwd.Handlers() {
		if err := registry.Register(handler); err != nil {
			_ = adapter.Close()
			return nil, err
		}
	}

	healthRegistry := health.NewRegistry()
	healthRegistry.Register(health.NewAdapterChecker("mysql", adapter, cfg.Database.QueryTimeout))

	var lock redeliver.LockProvider
	if cfg.Lock.Enabled {
		redisLock, err := redeliver.NewRedisLockProvider(redeliver.RedisLockProviderConfig{
			URL:              cfg.Lock.URL,
			Prefix:           cfg.Lock.KeyPrefix,
			OperationTimeout: cfg.Lock.OperationTimeout,
		}, log)
		if err != nil {
			_ = adapter.Close()
			return nil, err
		}
		lock = redisLock
		healthRegistry.Register(health.NewAdapterChecker("redis", redisLock, cfg.Lock.OperationTimeout))
	}

	return &services{
		adapter:  adapter,
		store:    store,
		registry: registry,
		lock:     lock,
		health:   healthRegistry,
	}, nil
}

func (s *services) close(log logger.Logger) {
	if s.lock != nil {
		if err := s.lock.Close(); err != nil {
			log.Warn("closing lock provider failed", "error", err)
		}
	}
	if err := s.adapter.Close(); err != nil {
		log.Warn("closing database adapter failed", "error", err)
	}
}

func newCoordinator(cfg *config.Config, svc *services, log logger.Logger) (*redeliver.Coordinator, error) {
	return redeliver.NewCoordinator(svc.store, svc.registry, telemetry.NewJSONCodec(), svc.lock, log, redeliver.Config{
		Interval:          cfg.Redeliver.Interval,
		BatchSize:         cfg.Redeliver.BatchSize,
		MaxAttempts:       cfg.Redeliver.MaxAttempts,
		AttemptTimeout:    cfg.Redeliver.AttemptTimeout,
		MaxBackoff:        cfg.Redeliver.MaxBackoff,
		RatePerSecond:     cfg.Redeliver.RatePerSecond,
		QuarantineCorrupt: cfg.Redeliver.QuarantineCorrupt,
		LockTTL:           cfg.Lock.TTL,
	})
}

// runService starts the coordinator and management server and blocks until a
// termination signal arrives.
func runService(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Database.MigrateOnStart {
		log.Info("applying pending migrations before startup")
		if err := runMigrations(runCtx, cfg, log, []string{"up"}); err != nil {
			return err
		}
	}

	svc, err := buildServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close(log)

	coordinator, err := newCoordinator(cfg, svc, log)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)

	var mgmt *management.Server
	if cfg.Management.Enabled {
		mgmt, err = management.NewServer(management.Config{
			Port:         cfg.Management.Port,
			ReadTimeout:  cfg.Management.ReadTimeout,
			WriteTimeout: cfg.Management.WriteTimeout,
		}, svc.health, svc.store, log)
		if err != nil {
			return err
		}
		go func() { errCh <- mgmt.Start() }()
	}

	go func() { errCh <- coordinator.Start(runCtx) }()

	select {
	case <-runCtx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error("component failed", "error", err)
			stop()
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := coordinator.Stop(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}
	if mgmt != nil {
		if err := mgmt.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, err)
		}
	}
	return shutdownErr
}

// runReplayPass performs one coordinator pass and exits, for operator-driven
// drains.
func runReplayPass(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, log)
	if err != nil {
		return err
	}
	defer svc.close(log)

	coordinator, err := newCoordinator(cfg, svc, log)
	if err != nil {
		return err
	}

	stats, err := coordinator.RunOnce(runCtx)
	if err != nil {
		return err
	}
	log.Info("replay pass finished",
		"listed", stats.Listed,
		"succeeded", stats.Succeeded,
		"retried", stats.Retried,
		"quarantined", stats.Quarantined,
		"corrupt", stats.Corrupt,
		"unknown_handler", stats.Unknown,
		"skipped", stats.Skipped,
	)
	return nil
}

// runMigrations applies or inspects schema migrations.
func runMigrations(ctx context.Context, cfg *config.Config, log logger.Logger, args []string) error {
	subcommand, steps, err := migrate.ParseArgs(args)
	if err != nil {
		return err
	}

	adapter, err := mysql.NewAdapter(mysql.Config{
		URL:          cfg.Database.URL,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		QueryTimeout: cfg.Database.QueryTimeout,
	}, log)
	if err != nil {
		return err
	}
	defer adapter.Close()

	return migrate.Run(ctx, adapter.DB(), deadletter.MigrationFiles, deadletter.MigrationsDir, subcommand, steps, migrate.Options{
		ServiceName: serviceName,
		Logger:      log,
	})
}
