package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"drguard/internal/logging"
)

const testConfigYAML = `
primary_region: us-east-1
regions:
  us-east-1:
    provider: local
    local:
      base_dir: /tmp/drguard-test/objects
mysql:
  dsn: "root:secret@tcp(127.0.0.1:3306)/shop"
  database: shop
redis:
  addr: "127.0.0.1:6379"
  rdb_path: /var/lib/redis/dump.rdb
validation:
  sandbox_dsn: "sandbox:secret@tcp(127.0.0.1:3307)/"
`

func withTestConfig(t *testing.T) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0644))
	t.Setenv("DRGUARD_MASTER_SECRET", "cmd-test-secret")

	prev := cfgFile
	cfgFile = path
	t.Cleanup(func() { cfgFile = prev })
}

func TestLoadConfigAppliesVerboseFlag(t *testing.T) {
	withTestConfig(t)

	verbose = true
	t.Cleanup(func() { verbose = false })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, logging.LogLevelVerbose, cfg.LogLevel)
}

func TestLoadConfigRejectsVerboseAndQuiet(t *testing.T) {
	withTestConfig(t)

	verbose = true
	quiet = true
	t.Cleanup(func() { verbose = false; quiet = false })

	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestRedactDSNHidesCredentials(t *testing.T) {
	assert.Equal(t, "****@tcp(127.0.0.1:3306)/shop", redactDSN("root:secret@tcp(127.0.0.1:3306)/shop"))
	assert.Equal(t, "127.0.0.1:3306", redactDSN("127.0.0.1:3306"))
}

func TestVersionCommandPrintsBuildInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2026-08-31", "abc1234")
	assert.Equal(t, "1.2.3", appVersion)
	assert.Equal(t, "1.2.3", rootCmd.Version)
}
