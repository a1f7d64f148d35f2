package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"drguard/internal/record"
)

var (
	holdName           string
	holdReason         string
	holdBackupIDs      []string
	holdClassification string
)

func init() {
	holdCmd := &cobra.Command{
		Use:   "hold",
		Short: "Manage legal holds on backups",
		Long: `A legal hold exempts the backups it covers from retention deletion
until the hold is released. Every hold carries an audit trail of who
created it, what deletions it blocked, and who released it.`,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Place a new legal hold",
		RunE:  runHoldCreate,
	}
	createCmd.Flags().StringVar(&holdName, "name", "", "short name for the hold")
	createCmd.Flags().StringVar(&holdReason, "reason", "", "legal basis for the hold")
	createCmd.Flags().StringSliceVar(&holdBackupIDs, "backup-id", nil, "backup id to cover (repeatable)")
	createCmd.Flags().StringVar(&holdClassification, "classification", "", "cover all backups at this classification level")
	createCmd.MarkFlagRequired("name")
	createCmd.MarkFlagRequired("reason")

	releaseCmd := &cobra.Command{
		Use:   "release <hold-id>",
		Short: "Release an active legal hold",
		Args:  cobra.ExactArgs(1),
		RunE:  runHoldRelease,
	}
	releaseCmd.Flags().StringVar(&holdReason, "reason", "", "why the hold is being released")
	releaseCmd.MarkFlagRequired("reason")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List legal holds",
		Args:  cobra.NoArgs,
		RunE:  runHoldList,
	}

	holdCmd.AddCommand(createCmd, releaseCmd, listCmd)
	rootCmd.AddCommand(holdCmd)
}

// operatorName identifies the human behind audit trail entries
func operatorName() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "operator"
}

func runHoldCreate(cmd *cobra.Command, args []string) error {
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

	criteria := record.HoldCriteria{BackupIDs: holdBackupIDs}
	if holdClassification != "" {
		level := record.ClassificationLevel(holdClassification)
		criteria.Classification = &level
	}

	hold, err := rt.holds.Create(ctx, holdName, holdReason, operatorName(), criteria)
	if err != nil {
		return err
	}
	fmt.Printf("legal hold %s created\n", hold.ID)
	return nil
}

func runHoldRelease(cmd *cobra.Command, args []string) error {
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

	hold, err := rt.holds.Release(ctx, args[0], operatorName(), holdReason)
	if err != nil {
		return err
	}
	fmt.Printf("legal hold %s released (%d audit entries)\n", hold.ID, len(hold.AuditTrail))
	return nil
}

func runHoldList(cmd *cobra.Command, args []string) error {
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

	holds, err := rt.holds.List(ctx)
	if err != nil {
		return err
	}
	if len(holds) == 0 {
		fmt.Println("no legal holds")
		return nil
	}
	for _, hold := range holds {
		fmt.Printf("%s  %-10s  %-20s  %s\n", hold.ID, hold.Status, hold.Name, hold.Reason)
	}
	return nil
}
