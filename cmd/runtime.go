package cmd

import (
	"context"
	"time"

	"drguard/internal/config"
	"drguard/internal/dns"
	"drguard/internal/executor"
	"drguard/internal/failover"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/replication"
	"drguard/internal/retention"
	"drguard/internal/scheduler"
	"drguard/internal/statestore"
	"drguard/internal/storage"
	"drguard/internal/validation"
)

// runtime holds the wired component graph shared by the daemon and the
// one-shot commands.
type runtime struct {
	cfg    *config.Config
	logger *logging.Logger

	state  statestore.Store
	stores map[string]storage.ObjectStore
	keys   *executor.KeyStore

	dumper      *executor.MySQLDumper
	snapshotter *executor.RedisSnapshotter
	executor    *executor.Executor

	engine     *validation.Engine
	monitor    *replication.Monitor
	notifier   *notify.Notifier
	controller *failover.Controller
	retention  *retention.Manager
	holds      *retention.HoldService
	scheduler  *scheduler.Scheduler
}

// buildRuntime constructs every component from the configuration.
// Callers must Close the returned runtime.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger}

	state, err := statestore.NewFileStore(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	rt.state = state

	rt.stores, err = storage.NewRegionStores(ctx, cfg.Regions)
	if err != nil {
		return nil, err
	}

	rt.keys, err = executor.NewKeyStore(cfg.KeyDir, cfg.MasterSecret)
	if err != nil {
		return nil, err
	}

	rt.dumper, err = executor.NewMySQLDumper(cfg.MySQL)
	if err != nil {
		return nil, err
	}
	rt.snapshotter, err = executor.NewRedisSnapshotter(cfg.Redis)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.executor, err = executor.NewExecutor(logger, cfg.Executor, rt.dumper, rt.snapshotter, rt.stores, rt.keys, rt.state)
	if err != nil {
		rt.Close()
		return nil, err
	}

	sandboxes, err := validation.NewMySQLSandboxFactory(cfg.Validation.SandboxDSN)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.engine = validation.NewEngine(logger, cfg.Validation, rt.state, rt.keys, rt.stores, cfg.PrimaryRegion, sandboxes)

	rt.notifier = notify.NewNotifier(logger, cfg.Notify)

	rt.monitor, err = replication.NewMonitor(logger, cfg.Replication, rt.stores, rt.state)
	if err != nil {
		rt.Close()
		return nil, err
	}

	dnsProvider, err := dns.NewProvider(&cfg.DNS)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.controller, err = failover.NewController(logger, cfg.Failover, rt.state, dnsProvider, rt.monitor, rt.notifier, nil)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.retention, err = retention.NewManager(logger, cfg.Retention, rt.state, rt.stores, rt.keys, rt.notifier)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.holds = retention.NewHoldService(logger, rt.state, rt.notifier)

	rt.executor.SetCleanupFunc(func(ctx context.Context) {
		if _, err := rt.retention.RunOnce(ctx, time.Now().UTC()); err != nil {
			logger.Warnf("post-backup retention pass failed: %v", err)
		}
	})

	probe := scheduler.NewLinuxProbe(cfg.Executor.WorkDir)
	rt.scheduler = scheduler.NewScheduler(logger, cfg.Scheduler, rt.state, rt.executor, rt.engine, rt.retention, probe)
	rt.scheduler.SetNotifier(rt.notifier)

	return rt, nil
}

// Close releases database connections
func (rt *runtime) Close() {
	if rt.dumper != nil {
		rt.dumper.Close()
	}
	if rt.snapshotter != nil {
		rt.snapshotter.Close()
	}
}
