package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"drguard/internal/record"
)

func init() {
	rootCmd.AddCommand(createBackupCommand())
}

func createBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:       "backup [incremental|differential|full]",
		Short:     "Run a one-shot backup of the given type",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"incremental", "differential", "full"},
		RunE:      runBackup,
	}
}

func runBackup(cmd *cobra.Command, args []string) error {
	backupType := record.BackupType(args[0])
	if !backupType.IsValid() {
		return fmt.Errorf("unknown backup type %q", args[0])
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	rec, err := rt.executor.Run(ctx, backupType)
	if err != nil {
		return err
	}

	fmt.Printf("backup %s completed\n", rec.ID)
	fmt.Printf("  type:      %s\n", rec.Type)
	fmt.Printf("  size:      %d bytes\n", rec.SizeBytes)
	fmt.Printf("  duration:  %s\n", rec.Duration)
	fmt.Printf("  artifacts: %d\n", len(rec.Artifacts))
	return nil
}
