package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"drguard/internal/record"
	"drguard/internal/statestore"
)

var fullValidation bool

func init() {
	cmd := createValidateCommand()
	cmd.Flags().BoolVar(&fullValidation, "full", false, "run the full restore drill instead of the quick check")
	rootCmd.AddCommand(cmd)
}

func createValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [backup-id]",
		Short: "Restore a backup into a sandbox and verify its integrity",
		Long: `Validates that a backup actually restores: the artifact is fetched,
decrypted, decompressed, and replayed into a sandbox database, then
spot-checked for row counts and referential integrity. Without a
backup id the most recent backup is validated.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	backupID := ""
	if len(args) == 1 {
		backupID = args[0]
	} else {
		backupID, err = latestBackupID(ctx, rt)
		if err != nil {
			return err
		}
	}

	report, err := rt.engine.Validate(ctx, backupID, fullValidation)
	if err != nil {
		return err
	}

	fmt.Printf("validation %s: %s\n", report.BackupID, report.Verdict)
	for _, result := range report.Results {
		fmt.Printf("  %-28s %-7s %s\n", result.Name, result.Status, result.Detail)
	}
	fmt.Printf("  duration: %s (RTO target %s, compliant: %t)\n", report.Duration, report.RTOTarget, report.RTOCompliant)
	if report.Verdict != record.ValidationPassed {
		return fmt.Errorf("backup %s failed validation", report.BackupID)
	}
	return nil
}

func latestBackupID(ctx context.Context, rt *runtime) (string, error) {
	registry := &record.BackupRegistry{}
	if err := rt.state.Load(ctx, statestore.KeyBackupRegistry, registry); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return "", fmt.Errorf("no backups recorded yet")
		}
		return "", err
	}
	records := registry.SortedByAge()
	if len(records) == 0 {
		return "", fmt.Errorf("no backups recorded yet")
	}
	return records[len(records)-1].ID, nil
}
