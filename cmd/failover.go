package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var failoverReason string

func init() {
	failoverCmd := createFailoverCommand()
	failoverCmd.Flags().StringVar(&failoverReason, "reason", "", "why traffic is being moved (recorded in the audit trail)")
	failoverCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(failoverCmd)

	failbackCmd := createFailbackCommand()
	failbackCmd.Flags().StringVar(&failoverReason, "reason", "operator initiated failback", "why traffic is returning to the primary")
	rootCmd.AddCommand(failbackCmd)
}

func createFailoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "failover <region>",
		Short: "Move the public endpoint to another region",
		Long: `Cuts the public DNS record over to the given region's endpoint and
promotes it to serve traffic. The cutover is refused while a previous
failover is still inside its cooldown window.`,
		Args: cobra.ExactArgs(1),
		RunE: runFailover,
	}
}

func createFailbackCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "failback",
		Short: "Return the public endpoint to the primary region",
		Args:  cobra.NoArgs,
		RunE:  runFailback,
	}
}

func runFailover(cmd *cobra.Command, args []string) error {
	targetRegion := args[0]

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

	if err := rt.controller.Failover(ctx, targetRegion, failoverReason, false); err != nil {
		return err
	}

	state, err := rt.controller.State(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("traffic now served from %s (phase %s)\n", state.ActiveRegion, state.Phase)
	return nil
}

func runFailback(cmd *cobra.Command, args []string) error {
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

	if err := rt.controller.Failback(ctx, failoverReason); err != nil {
		return err
	}
	fmt.Printf("traffic returned to %s\n", cfg.PrimaryRegion)
	return nil
}
