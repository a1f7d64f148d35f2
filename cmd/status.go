package cmd

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"drguard/internal/record"
	"drguard/internal/statestore"
)

func init() {
	rootCmd.AddCommand(createStatusCommand())
}

func createStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler, region health, and failover status",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if noColor {
		color.NoColor = true
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

	printFailoverStatus(ctx, rt)
	printRegionHealth(ctx, rt)
	printSchedulerStatus(ctx, rt)
	printBackupSummary(ctx, rt)
	return nil
}

var (
	headline = color.New(color.FgCyan, color.Bold)
	okText   = color.New(color.FgGreen)
	warnText = color.New(color.FgYellow)
	badText  = color.New(color.FgRed, color.Bold)
)

func printFailoverStatus(ctx context.Context, rt *runtime) {
	headline.Println("Failover")
	state, err := rt.controller.State(ctx)
	if err != nil {
		badText.Printf("  unavailable: %v\n", err)
		return
	}

	phase := okText
	if state.Phase != record.PhaseStable {
		phase = badText
	}
	fmt.Printf("  phase:   ")
	phase.Println(string(state.Phase))
	fmt.Printf("  serving: %s (primary %s)\n", state.ActiveRegion, state.PrimaryRegion)
	if state.LastFailoverAt != nil {
		fmt.Printf("  last cutover: %s (%s)\n", state.LastFailoverAt.Format(time.RFC3339), state.Reason)
	}
	if state.InCooldown(time.Now().UTC()) {
		warnText.Printf("  cooldown until %s\n", state.CooldownExpires.Format(time.RFC3339))
	}
	fmt.Println()
}

func printRegionHealth(ctx context.Context, rt *runtime) {
	headline.Println("Regions")
	snapshot := &record.RegionHealthSnapshot{}
	if err := rt.state.Load(ctx, statestore.KeyRegionHealth, snapshot); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			warnText.Println("  no health assessment recorded yet")
		} else {
			badText.Printf("  unavailable: %v\n", err)
		}
		fmt.Println()
		return
	}

	regions := make([]string, 0, len(snapshot.Regions))
	for region := range snapshot.Regions {
		regions = append(regions, region)
	}
	sort.Strings(regions)

	for _, region := range regions {
		health := snapshot.Regions[region]
		score := okText
		switch {
		case health.Score < 40:
			score = badText
		case health.Score < 70:
			score = warnText
		}
		fmt.Printf("  %-14s score ", region)
		score.Printf("%3d", health.Score)
		fmt.Printf("  lag %-10s delta %d", health.ReplicationLag.Round(time.Second), health.BackupCountDelta)
		if len(health.Issues) > 0 {
			warnText.Printf("  (%s)", health.Issues[0])
		}
		fmt.Println()
	}
	fmt.Printf("  assessed at %s\n\n", snapshot.UpdatedAt.Format(time.RFC3339))
}

func printSchedulerStatus(ctx context.Context, rt *runtime) {
	headline.Println("Scheduler")
	state, err := rt.scheduler.Status(ctx)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			warnText.Println("  no cycles recorded yet")
			fmt.Println()
			return
		}
		badText.Printf("  unavailable: %v\n", err)
		fmt.Println()
		return
	}

	fmt.Printf("  cycles: %d (skipped %d)  jobs: %d dispatched, %d ok, %d failed\n",
		state.CycleCount, state.CyclesSkipped, state.JobsDispatched, state.JobsSucceeded, state.JobsFailed)
	if state.LastSkipReason != "" {
		warnText.Printf("  last skip: %s\n", state.LastSkipReason)
	}
	for _, backupType := range record.AllBackupTypes {
		next, ok := state.NextEstimated[backupType]
		if !ok {
			continue
		}
		fmt.Printf("  next %-13s %s\n", backupType, next.Format(time.RFC3339))
	}
	if state.LastValidationAt != nil {
		fmt.Printf("  last validation: %s\n", state.LastValidationAt.Format(time.RFC3339))
	}
	if state.LastRetentionScan != nil {
		fmt.Printf("  last retention scan: %s\n", state.LastRetentionScan.Format(time.RFC3339))
	}
	fmt.Println()
}

func printBackupSummary(ctx context.Context, rt *runtime) {
	headline.Println("Backups")
	registry := &record.BackupRegistry{}
	if err := rt.state.Load(ctx, statestore.KeyBackupRegistry, registry); err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			warnText.Println("  none recorded yet")
		} else {
			badText.Printf("  unavailable: %v\n", err)
		}
		return
	}

	records := registry.SortedByAge()
	archived, validated := 0, 0
	for _, rec := range records {
		if rec.Archived {
			archived++
		}
		if rec.ValidationStatus == record.ValidationPassed {
			validated++
		}
	}
	fmt.Printf("  total %d, validated %d, archived %d\n", len(records), validated, archived)

	show := records
	if len(show) > 5 {
		show = show[len(show)-5:]
	}
	for _, rec := range show {
		status := okText
		if rec.ValidationStatus == record.ValidationFailed {
			status = badText
		} else if rec.ValidationStatus == record.ValidationUntested {
			status = warnText
		}
		fmt.Printf("  %-40s %-13s ", rec.ID, rec.Type)
		status.Printf("%-9s", rec.ValidationStatus)
		fmt.Printf(" %s\n", rec.CreatedAt.Format(time.RFC3339))
	}
}
