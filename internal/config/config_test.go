package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
	"drguard/internal/retention"
)

const sampleYAML = `
primary_region: us-east-1
state_dir: /tmp/drguard/state
key_dir: /tmp/drguard/keys
log_level: verbose
regions:
  us-east-1:
    provider: local
    region: us-east-1
    local:
      base_dir: /tmp/drguard/objects/us-east-1
  us-west-2:
    provider: local
    region: us-west-2
    local:
      base_dir: /tmp/drguard/objects/us-west-2
mysql:
  dsn: "root:secret@tcp(127.0.0.1:3306)/shop"
  database: shop
redis:
  addr: "127.0.0.1:6379"
  rdb_path: /var/lib/redis/dump.rdb
validation:
  sandbox_dsn: "sandbox:secret@tcp(127.0.0.1:3307)/"
scheduler:
  cycle_interval: 30s
failover:
  record_name: db.example.com
  endpoints:
    us-east-1: primary.db.internal
    us-west-2: replica.db.internal
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "drguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadPropagatesSharedSettings(t *testing.T) {
	t.Setenv("DRGUARD_MASTER_SECRET", "unit-test-secret")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "us-east-1", cfg.PrimaryRegion)
	assert.Equal(t, "us-east-1", cfg.Executor.PrimaryRegion)
	assert.Equal(t, "us-east-1", cfg.Replication.PrimaryRegion)
	assert.Equal(t, "us-east-1", cfg.Failover.PrimaryRegion)
	assert.Equal(t, "us-east-1", cfg.Retention.PrimaryRegion)
	assert.Equal(t, "unit-test-secret", cfg.MasterSecret)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.CycleInterval)
	assert.Equal(t, cfg.Executor.Compression, cfg.Validation.Compression)
	assert.Len(t, cfg.Regions, 2)
}

func TestLoadRejectsMissingMasterSecret(t *testing.T) {
	t.Setenv("DRGUARD_MASTER_SECRET", "")

	_, err := Load(writeConfig(t, sampleYAML))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetType(err))
	assert.Contains(t, err.Error(), "MASTER_SECRET")
}

func TestLoadRejectsPrimaryRegionWithoutStore(t *testing.T) {
	t.Setenv("DRGUARD_MASTER_SECRET", "unit-test-secret")

	broken := `
primary_region: eu-central-1
regions:
  us-east-1:
    provider: local
    local:
      base_dir: /tmp/objects
mysql:
  dsn: "root:secret@tcp(127.0.0.1:3306)/shop"
  database: shop
redis:
  addr: "127.0.0.1:6379"
`
	_, err := Load(writeConfig(t, broken))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "eu-central-1")
}

func TestEnvironmentOverridesMySQLDSN(t *testing.T) {
	t.Setenv("DRGUARD_MASTER_SECRET", "unit-test-secret")
	t.Setenv("DRGUARD_MYSQL_DSN", "backup:other@tcp(10.0.0.5:3306)/shop")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "backup:other@tcp(10.0.0.5:3306)/shop", cfg.MySQL.DSN)
}

func TestLoadPolicyFileOverridesFrameworks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.json")
	policy := `{
  "sample_bytes": 65536,
  "frameworks": {
    "gdpr": {"retention_days": 730, "archive_after_days": 120}
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(policy), 0644))

	doc, err := LoadPolicyFile(path)
	require.NoError(t, err)

	cfg := retention.ClassifierConfig{}
	cfg.SetDefaults()
	doc.ApplyTo(&cfg)

	assert.Equal(t, int64(65536), cfg.SampleBytes)
	assert.Equal(t, 730, cfg.Frameworks[record.FrameworkGDPR].RetentionDays)
	// untouched frameworks keep their built-in policies
	assert.Equal(t, 2555, cfg.Frameworks[record.FrameworkSOX].RetentionDays)
}

func TestValidatePolicyRejectsUnknownFramework(t *testing.T) {
	err := ValidatePolicy([]byte(`{"frameworks": {"pci": {"retention_days": 365}}}`))
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeConfiguration, apperrors.GetType(err))
}

func TestValidatePolicyRejectsNonPositiveRetention(t *testing.T) {
	err := ValidatePolicy([]byte(`{"defaults": {"retention_days": 0}}`))
	require.Error(t, err)
}
