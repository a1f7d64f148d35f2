// Package cmd implements the drguard command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"drguard/internal/config"
	"drguard/internal/logging"
)

var cfgFile string

// CLI flag variables
var (
	verbose bool
	quiet   bool
	logFile string
	noColor bool
)

// Version information, injected at build time
var (
	appVersion = "dev"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

// SetVersionInfo records build metadata for the version command
func SetVersionInfo(version, built, commit string) {
	if version != "" {
		appVersion = version
	}
	if built != "" {
		buildTime = built
	}
	if commit != "" {
		gitCommit = commit
	}
	rootCmd.Version = appVersion
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drguard",
	Short: "Disaster recovery control plane for MySQL and Redis",
	Long: `DRGuard schedules and runs encrypted database backups, replicates them
across regions, validates that they actually restore, and fails the
public endpoint over to a healthy region when the primary degrades.

Retention policy is enforced continuously: backups are classified by
content sensitivity, archived to cold storage, and securely deleted
when their retention period expires, unless a legal hold covers them.

Examples:
  # Run the full control plane as a daemon
  drguard daemon --config=/etc/drguard/drguard.yaml

  # Take a one-shot full backup
  drguard backup full --config=drguard.yaml

  # Validate the latest backup end to end in a sandbox
  drguard validate --config=drguard.yaml

  # Fail over to another region manually
  drguard failover us-west-2 --reason="primary storage degraded"

  # Place a legal hold on all confidential backups
  drguard hold create --name="Case 2031" --reason="litigation" --classification=confidential`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., /etc/drguard)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to file instead of stdout")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	viper.BindPFlag("log_file", rootCmd.PersistentFlags().Lookup("log-file"))
}

// loadConfig reads the configuration file and applies CLI overrides
func loadConfig() (*config.Config, error) {
	if verbose && quiet {
		return nil, fmt.Errorf("--verbose and --quiet flags are mutually exclusive")
	}

	path := cfgFile
	if path == "" {
		for _, candidate := range []string{"drguard.yaml", "/etc/drguard/drguard.yaml"} {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return nil, fmt.Errorf("no configuration file found; use --config")
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if verbose {
		cfg.LogLevel = logging.LogLevelVerbose
	}
	if quiet {
		cfg.LogLevel = logging.LogLevelQuiet
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	return cfg, nil
}

// newLogger builds the logger from the loaded configuration
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLogger(cfg.LoggingConfig())
}

func init() {
	rootCmd.AddCommand(createVersionCommand())
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("drguard %s\n", appVersion)
			fmt.Printf("  built:  %s\n", buildTime)
			fmt.Printf("  commit: %s\n", gitCommit)
		},
	}
}
