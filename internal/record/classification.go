package record

import "time"

// ClassificationLevel ranks data sensitivity
type ClassificationLevel string

const (
	LevelPublic       ClassificationLevel = "public"
	LevelInternal     ClassificationLevel = "internal"
	LevelConfidential ClassificationLevel = "confidential"
	LevelRestricted   ClassificationLevel = "restricted"
)

// classificationRank orders levels from least to most sensitive
var classificationRank = map[ClassificationLevel]int{
	LevelPublic:       0,
	LevelInternal:     1,
	LevelConfidential: 2,
	LevelRestricted:   3,
}

// IsValid reports whether l is a known classification level
func (l ClassificationLevel) IsValid() bool {
	_, ok := classificationRank[l]
	return ok
}

// AtLeast reports whether l is at least as sensitive as other
func (l ClassificationLevel) AtLeast(other ClassificationLevel) bool {
	return classificationRank[l] >= classificationRank[other]
}

// Framework names a compliance framework matched during classification
type Framework string

const (
	FrameworkGDPR  Framework = "gdpr"
	FrameworkSOX   Framework = "sox"
	FrameworkHIPAA Framework = "hipaa"
)

// Classification is the immutable sensitivity assessment of one backup.
// It is computed once; only an explicit operator override replaces it.
type Classification struct {
	Level            ClassificationLevel `json:"level"`
	Frameworks       []Framework         `json:"frameworks,omitempty"`
	RetentionDays    int                 `json:"retention_days"`
	ArchiveAfterDays int                 `json:"archive_after_days"`
	ClassifiedAt     time.Time           `json:"classified_at"`
	ClassifiedBy     string              `json:"classified_by"`
	OperatorOverride bool                `json:"operator_override,omitempty"`
}

// HasFramework reports whether f was matched during classification
func (c *Classification) HasFramework(f Framework) bool {
	for _, existing := range c.Frameworks {
		if existing == f {
			return true
		}
	}
	return false
}

// RetentionDeadlineFrom computes the deletion deadline relative to createdAt
func (c *Classification) RetentionDeadlineFrom(createdAt time.Time) time.Time {
	return createdAt.Add(time.Duration(c.RetentionDays) * 24 * time.Hour)
}

// ArchiveDeadlineFrom computes the archival threshold relative to createdAt
func (c *Classification) ArchiveDeadlineFrom(createdAt time.Time) time.Time {
	return createdAt.Add(time.Duration(c.ArchiveAfterDays) * 24 * time.Hour)
}
