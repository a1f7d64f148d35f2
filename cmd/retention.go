package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"drguard/internal/record"
)

var (
	retentionDryRun        bool
	reclassifyLevel        string
	reclassifyRetention    int
	reclassifyArchiveAfter int
)

func init() {
	retentionCmd := &cobra.Command{
		Use:   "retention",
		Short: "Run and inspect retention enforcement",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one retention pass now",
		Long: `Walks the backup registry once: classifies unclassified backups,
archives those past their archive threshold, and securely deletes
those past their retention deadline unless a legal hold applies.`,
		Args: cobra.NoArgs,
		RunE: runRetentionScan,
	}
	scanCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "report what the pass would do without changing anything")

	reclassifyCmd := &cobra.Command{
		Use:   "reclassify [backup-id]",
		Short: "Override a backup's automatic classification",
		Long: `Replaces the automatic data classification of a backup with an
operator decision. Operator classifications are never overwritten by
later retention scans.`,
		Args: cobra.ExactArgs(1),
		RunE: runRetentionReclassify,
	}
	reclassifyCmd.Flags().StringVar(&reclassifyLevel, "level", "", "classification level (public, internal, confidential, restricted)")
	reclassifyCmd.Flags().IntVar(&reclassifyRetention, "retention-days", 0, "days to retain before deletion (0 uses the configured default)")
	reclassifyCmd.Flags().IntVar(&reclassifyArchiveAfter, "archive-after-days", 0, "days before archival (0 uses the configured default)")
	_ = reclassifyCmd.MarkFlagRequired("level")

	certsCmd := &cobra.Command{
		Use:   "certificates",
		Short: "List deletion certificates",
		Args:  cobra.NoArgs,
		RunE:  runRetentionCertificates,
	}

	retentionCmd.AddCommand(scanCmd, certsCmd, reclassifyCmd)
	rootCmd.AddCommand(retentionCmd)
}

func runRetentionScan(cmd *cobra.Command, args []string) error {
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

	if retentionDryRun {
		plan, err := rt.retention.Preview(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if len(plan) == 0 {
			fmt.Println("no backups registered")
			return nil
		}
		for _, action := range plan {
			line := fmt.Sprintf("%-10s %s (%s)", action.Action, action.BackupID, action.Type)
			if action.Level != "" {
				line += "  level=" + string(action.Level)
			}
			if !action.Deadline.IsZero() {
				line += "  deadline=" + action.Deadline.Format(time.RFC3339)
			}
			if action.Detail != "" {
				line += "  " + action.Detail
			}
			fmt.Println(line)
		}
		return nil
	}

	stats, err := rt.retention.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	fmt.Printf("retention scan complete\n")
	fmt.Printf("  scanned:    %d\n", stats.Scanned)
	fmt.Printf("  classified: %d\n", stats.Classified)
	fmt.Printf("  archived:   %d\n", stats.Archived)
	fmt.Printf("  deleted:    %d\n", stats.Deleted)
	fmt.Printf("  held:       %d\n", stats.Held)
	fmt.Printf("  failed:     %d\n", stats.Failed)
	return nil
}

func runRetentionReclassify(cmd *cobra.Command, args []string) error {
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

	classification, err := rt.retention.Reclassify(ctx, args[0],
		record.ClassificationLevel(reclassifyLevel), reclassifyRetention, reclassifyArchiveAfter, operatorName())
	if err != nil {
		return err
	}

	fmt.Printf("backup %s reclassified\n", args[0])
	fmt.Printf("  level:          %s\n", classification.Level)
	fmt.Printf("  retention:      %d days\n", classification.RetentionDays)
	fmt.Printf("  archive after:  %d days\n", classification.ArchiveAfterDays)
	return nil
}

func runRetentionCertificates(cmd *cobra.Command, args []string) error {
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

	certs, err := rt.retention.Certificates().List()
	if err != nil {
		return err
	}
	if len(certs) == 0 {
		fmt.Println("no deletion certificates")
		return nil
	}
	for _, cert := range certs {
		fmt.Printf("%s  backup %s (%s)  deleted %s  reason: %s\n",
			cert.ID, cert.BackupID, cert.BackupType, cert.DeletedAt.Format(time.RFC3339), cert.Reason)
	}
	return nil
}
