package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(createDaemonCommand())
}

func createDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the full control plane until interrupted",
		Long: `Runs the scheduler, replication monitor, and failover controller as a
long-lived process. Backups, validation runs, and retention scans are
dispatched on their configured intervals; region health is assessed
continuously and automatic failover triggers when the active region
degrades past its thresholds.`,
		RunE: runDaemon,
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	logger.Info("drguard daemon starting")

	go healthLoop(ctx, rt)
	rt.scheduler.Run(ctx)

	logger.Info("drguard daemon stopped")
	return nil
}

// healthLoop assesses region health on the replication interval and
// feeds each snapshot to the failover controller
func healthLoop(ctx context.Context, rt *runtime) {
	interval := rt.cfg.Replication.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot, err := rt.monitor.RunOnce(ctx)
			if err != nil {
				rt.logger.Warnf("health assessment failed: %v", err)
				continue
			}
			if err := rt.controller.Evaluate(ctx, snapshot); err != nil {
				rt.logger.Errorf("failover evaluation failed: %v", err)
			}
		}
	}
}
