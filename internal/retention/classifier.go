// Package retention enforces data lifecycle policy: content-based
// classification, archival to cold storage, legal holds, and secure
// deletion with certificates.
package retention

import (
	"regexp"
	"sort"
	"time"

	"drguard/internal/record"
)

// Policy sets the lifecycle timings for one classification outcome
type Policy struct {
	RetentionDays    int `json:"retention_days" yaml:"retention_days"`
	ArchiveAfterDays int `json:"archive_after_days" yaml:"archive_after_days"`
}

// ClassifierConfig configures content-based classification
type ClassifierConfig struct {
	// SampleBytes bounds how much decrypted content is scanned
	SampleBytes int64                       `json:"sample_bytes" yaml:"sample_bytes"`
	Defaults    Policy                      `json:"defaults" yaml:"defaults"`
	Frameworks  map[record.Framework]Policy `json:"frameworks" yaml:"frameworks"`
}

// SetDefaults fills unset fields with safe values
func (c *ClassifierConfig) SetDefaults() {
	if c.SampleBytes == 0 {
		c.SampleBytes = 256 * 1024
	}
	if c.Defaults.RetentionDays == 0 {
		c.Defaults.RetentionDays = 90
	}
	if c.Defaults.ArchiveAfterDays == 0 {
		c.Defaults.ArchiveAfterDays = 30
	}
	if c.Frameworks == nil {
		c.Frameworks = map[record.Framework]Policy{
			record.FrameworkGDPR:  {RetentionDays: 365, ArchiveAfterDays: 90},
			record.FrameworkSOX:   {RetentionDays: 2555, ArchiveAfterDays: 180},
			record.FrameworkHIPAA: {RetentionDays: 2190, ArchiveAfterDays: 180},
		}
	}
}

// Patterns that mark content as personal, financial, or health data.
// They run against a bounded plaintext sample, never the full dump.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	phonePattern = regexp.MustCompile(`\b\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`)

	cardPattern      = regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`)
	financialPattern = regexp.MustCompile(`(?i)\b(iban|swift_code|routing_number|account_number|ledger|invoice_total)\b`)

	healthPattern = regexp.MustCompile(`(?i)\b(patient|diagnosis|prescription|medical_record|icd10|mrn)\b`)
)

// Classifier derives a sensitivity classification from sampled content
type Classifier struct {
	config ClassifierConfig
}

// NewClassifier creates a classifier
func NewClassifier(config ClassifierConfig) *Classifier {
	config.SetDefaults()
	return &Classifier{config: config}
}

// SampleBytes returns the configured sampling bound
func (c *Classifier) SampleBytes() int64 {
	return c.config.SampleBytes
}

// Classify scans sample and returns the resulting classification. The
// most sensitive matched category decides the level; the longest
// retention among matched frameworks decides the deadlines.
func (c *Classifier) Classify(sample []byte, actor string) *record.Classification {
	var frameworks []record.Framework

	if emailPattern.Match(sample) || ssnPattern.Match(sample) || phonePattern.Match(sample) {
		frameworks = append(frameworks, record.FrameworkGDPR)
	}
	if cardPattern.Match(sample) || financialPattern.Match(sample) {
		frameworks = append(frameworks, record.FrameworkSOX)
	}
	if healthPattern.Match(sample) {
		frameworks = append(frameworks, record.FrameworkHIPAA)
	}

	level := record.LevelInternal
	switch {
	case containsFramework(frameworks, record.FrameworkHIPAA) || containsFramework(frameworks, record.FrameworkSOX):
		level = record.LevelRestricted
	case containsFramework(frameworks, record.FrameworkGDPR):
		level = record.LevelConfidential
	}

	policy := c.config.Defaults
	for _, f := range frameworks {
		fp, ok := c.config.Frameworks[f]
		if !ok {
			continue
		}
		if fp.RetentionDays > policy.RetentionDays {
			policy.RetentionDays = fp.RetentionDays
		}
		if fp.ArchiveAfterDays > policy.ArchiveAfterDays {
			policy.ArchiveAfterDays = fp.ArchiveAfterDays
		}
	}

	sort.Slice(frameworks, func(i, j int) bool { return frameworks[i] < frameworks[j] })

	return &record.Classification{
		Level:            level,
		Frameworks:       frameworks,
		RetentionDays:    policy.RetentionDays,
		ArchiveAfterDays: policy.ArchiveAfterDays,
		ClassifiedAt:     time.Now().UTC(),
		ClassifiedBy:     actor,
	}
}

// Override builds an operator-supplied classification that replaces an
// automatic one
func (c *Classifier) Override(level record.ClassificationLevel, retentionDays, archiveAfterDays int, actor string) *record.Classification {
	if retentionDays == 0 {
		retentionDays = c.config.Defaults.RetentionDays
	}
	if archiveAfterDays == 0 {
		archiveAfterDays = c.config.Defaults.ArchiveAfterDays
	}
	return &record.Classification{
		Level:            level,
		RetentionDays:    retentionDays,
		ArchiveAfterDays: archiveAfterDays,
		ClassifiedAt:     time.Now().UTC(),
		ClassifiedBy:     actor,
		OperatorOverride: true,
	}
}

func containsFramework(frameworks []record.Framework, f record.Framework) bool {
	for _, existing := range frameworks {
		if existing == f {
			return true
		}
	}
	return false
}
