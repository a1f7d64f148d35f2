// Package config loads and validates the full daemon configuration from
// a YAML or JSON file, with secrets supplied through the environment.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"drguard/internal/dns"
	apperrors "drguard/internal/errors"
	"drguard/internal/executor"
	"drguard/internal/failover"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/replication"
	"drguard/internal/retention"
	"drguard/internal/scheduler"
	"drguard/internal/storage"
	"drguard/internal/validation"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "DRGUARD"

// Config is the complete daemon configuration
type Config struct {
	PrimaryRegion string `json:"primary_region" yaml:"primary_region"`
	StateDir      string `json:"state_dir" yaml:"state_dir"`
	KeyDir        string `json:"key_dir" yaml:"key_dir"`

	// MasterSecret is never read from the file; it comes from the
	// DRGUARD_MASTER_SECRET environment variable
	MasterSecret string `json:"-" yaml:"-"`

	LogLevel  logging.LogLevel `json:"log_level" yaml:"log_level"`
	LogFormat string           `json:"log_format" yaml:"log_format"`
	LogFile   string           `json:"log_file" yaml:"log_file"`

	Regions map[string]storage.Config `json:"regions" yaml:"regions"`

	MySQL executor.MySQLConfig `json:"mysql" yaml:"mysql"`
	Redis executor.RedisConfig `json:"redis" yaml:"redis"`

	Executor    executor.Config    `json:"executor" yaml:"executor"`
	Validation  validation.Config  `json:"validation" yaml:"validation"`
	Replication replication.Config `json:"replication" yaml:"replication"`
	DNS         dns.Config         `json:"dns" yaml:"dns"`
	Failover    failover.Config    `json:"failover" yaml:"failover"`
	Retention   retention.Config   `json:"retention" yaml:"retention"`
	Scheduler   scheduler.Config   `json:"scheduler" yaml:"scheduler"`
	Notify      notify.Config      `json:"notifications" yaml:"notifications"`

	// RetentionPolicyFile optionally points at a JSON policy document
	// that overrides the classifier's framework policies
	RetentionPolicyFile string `json:"retention_policy_file" yaml:"retention_policy_file"`
}

// Load reads, defaults, and validates the configuration at path.
// YAML and JSON files are supported; durations use Go syntax ("30s").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, apperrors.NewConfigurationError("failed to read config file "+path, err)
	}

	cfg := &Config{}
	decodeToYAMLTags := func(dc *mapstructure.DecoderConfig) { dc.TagName = "yaml" }
	if err := v.Unmarshal(cfg, decodeToYAMLTags); err != nil {
		return nil, apperrors.NewConfigurationError("failed to parse config file "+path, err)
	}

	cfg.ApplyEnvironment()
	cfg.SetDefaults()

	if cfg.RetentionPolicyFile != "" {
		policy, err := LoadPolicyFile(cfg.RetentionPolicyFile)
		if err != nil {
			return nil, err
		}
		policy.ApplyTo(&cfg.Retention.Classifier)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvironment overlays secrets and overrides from DRGUARD_* variables
func (c *Config) ApplyEnvironment() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if secret := v.GetString("master_secret"); secret != "" {
		c.MasterSecret = secret
	}
	if dsn := v.GetString("mysql_dsn"); dsn != "" {
		c.MySQL.DSN = dsn
	}
	if password := v.GetString("redis_password"); password != "" {
		c.Redis.Password = password
	}
	if url := v.GetString("slack_webhook_url"); url != "" && c.Notify.Slack != nil {
		c.Notify.Slack.WebhookURL = url
	}
}

// SetDefaults fills unset fields and propagates shared settings into the
// component configurations
func (c *Config) SetDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = logging.LogLevelNormal
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.StateDir == "" {
		c.StateDir = "/var/lib/drguard/state"
	}
	if c.KeyDir == "" {
		c.KeyDir = "/var/lib/drguard/keys"
	}
	if c.Executor.WorkDir == "" {
		c.Executor.WorkDir = "/var/lib/drguard/staging"
	}
	if c.Retention.CertificateDir == "" {
		c.Retention.CertificateDir = "/var/lib/drguard/certificates"
	}

	if c.Executor.PrimaryRegion == "" {
		c.Executor.PrimaryRegion = c.PrimaryRegion
	}
	if c.Replication.PrimaryRegion == "" {
		c.Replication.PrimaryRegion = c.PrimaryRegion
	}
	if c.Failover.PrimaryRegion == "" {
		c.Failover.PrimaryRegion = c.PrimaryRegion
	}
	if c.Retention.PrimaryRegion == "" {
		c.Retention.PrimaryRegion = c.PrimaryRegion
	}
	if c.Retention.Compression == "" {
		c.Retention.Compression = c.Executor.Compression
	}
	if c.Validation.Compression == "" {
		c.Validation.Compression = c.Executor.Compression
	}

	c.Redis.SetDefaults()
	c.Executor.SetDefaults()
	c.Validation.SetDefaults()
	c.Replication.SetDefaults()
	c.DNS.SetDefaults()
	c.Failover.SetDefaults()
	c.Retention.SetDefaults()
	c.Scheduler.SetDefaults()
}

// Validate checks cross-component invariants
func (c *Config) Validate() error {
	if c.PrimaryRegion == "" {
		return apperrors.NewConfigurationError("primary_region is required", nil)
	}
	if len(c.Regions) == 0 {
		return apperrors.NewConfigurationError("at least one region must be configured", nil)
	}
	if _, ok := c.Regions[c.PrimaryRegion]; !ok {
		return apperrors.NewConfigurationError(
			fmt.Sprintf("primary region %q has no region configuration", c.PrimaryRegion), nil)
	}
	for region, storeConfig := range c.Regions {
		if err := storeConfig.Validate(); err != nil {
			return apperrors.NewConfigurationError("invalid storage configuration for region "+region, err)
		}
	}
	if c.MasterSecret == "" {
		return apperrors.NewConfigurationError(
			"encryption master secret is required; set "+EnvPrefix+"_MASTER_SECRET", nil)
	}
	if c.MySQL.DSN == "" || c.MySQL.Database == "" {
		return apperrors.NewConfigurationError("mysql.dsn and mysql.database are required", nil)
	}
	if c.Redis.Addr == "" {
		return apperrors.NewConfigurationError("redis.addr is required", nil)
	}
	if c.Validation.SandboxDSN == "" {
		return apperrors.NewConfigurationError("validation.sandbox_dsn is required", nil)
	}
	return nil
}

// LoggingConfig builds the logger configuration
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{
		Level:   c.LogLevel,
		Format:  c.LogFormat,
		LogFile: c.LogFile,
	}
}
