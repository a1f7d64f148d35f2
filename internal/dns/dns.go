// Package dns manages the public endpoint record during failover cutover.
package dns

import (
	"context"
	"time"

	apperrors "drguard/internal/errors"
)

// RecordType represents DNS record types
type RecordType string

const (
	RecordTypeA     RecordType = "A"
	RecordTypeCNAME RecordType = "CNAME"
)

// Record is the public endpoint record updated on failover
type Record struct {
	Name   string     `json:"name"`
	Type   RecordType `json:"type"`
	TTL    int        `json:"ttl"`
	Target string     `json:"target"`
}

// Provider is the DNS control API used for cutover
type Provider interface {
	// Upsert creates or updates the record
	Upsert(ctx context.Context, rec Record) error
	// WaitForPropagation blocks until the record resolves to its target
	// or the context expires
	WaitForPropagation(ctx context.Context, rec Record) error
}

// Config configures DNS cutover behavior
type Config struct {
	Provider      string        `json:"provider" yaml:"provider"`
	HostedZoneID  string        `json:"hosted_zone_id,omitempty" yaml:"hosted_zone_id,omitempty"`
	RecordName    string        `json:"record_name" yaml:"record_name"`
	RecordType    RecordType    `json:"record_type" yaml:"record_type"`
	DefaultTTL    int           `json:"default_ttl" yaml:"default_ttl"`
	CheckInterval time.Duration `json:"check_interval" yaml:"check_interval"`
	CheckTimeout  time.Duration `json:"check_timeout" yaml:"check_timeout"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.RecordType == "" {
		c.RecordType = RecordTypeCNAME
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 60
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = 5 * time.Second
	}
	if c.CheckTimeout == 0 {
		c.CheckTimeout = 3 * time.Minute
	}
}

// NewProvider selects the provider implementation named in config
func NewProvider(config *Config) (Provider, error) {
	switch config.Provider {
	case "route53":
		return NewRoute53Provider(config)
	case "memory", "":
		return NewMemoryProvider(), nil
	default:
		return nil, apperrors.NewConfigurationError("unsupported DNS provider: "+config.Provider, nil)
	}
}
