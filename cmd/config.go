package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func init() {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration after defaults and overrides",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// secrets never reach stdout
	cfg.MasterSecret = ""
	cfg.MySQL.DSN = redactDSN(cfg.MySQL.DSN)
	cfg.Validation.SandboxDSN = redactDSN(cfg.Validation.SandboxDSN)
	cfg.Redis.Password = ""

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

// redactDSN blanks the credential portion of a MySQL DSN
func redactDSN(dsn string) string {
	for i := len(dsn) - 1; i >= 0; i-- {
		if dsn[i] == '@' {
			return "****@" + dsn[i+1:]
		}
	}
	return dsn
}
