package record

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus is the lifecycle state of a legal hold
type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldReleased HoldStatus = "released"
)

// HoldCriteria selects backups covered by a legal hold. Criteria are
// alternatives: a record matches if any populated criterion matches.
type HoldCriteria struct {
	BackupIDs      []string             `json:"backup_ids,omitempty"`
	CreatedAfter   *time.Time           `json:"created_after,omitempty"`
	CreatedBefore  *time.Time           `json:"created_before,omitempty"`
	Classification *ClassificationLevel `json:"classification,omitempty"`
}

// Matches reports whether r falls under the criteria
func (c *HoldCriteria) Matches(r *BackupRecord) bool {
	for _, id := range c.BackupIDs {
		if id == r.ID {
			return true
		}
	}

	if c.CreatedAfter != nil || c.CreatedBefore != nil {
		inRange := true
		if c.CreatedAfter != nil && r.CreatedAt.Before(*c.CreatedAfter) {
			inRange = false
		}
		if c.CreatedBefore != nil && r.CreatedAt.After(*c.CreatedBefore) {
			inRange = false
		}
		if inRange {
			return true
		}
	}

	if c.Classification != nil && r.Classification != nil {
		if r.Classification.Level.AtLeast(*c.Classification) {
			return true
		}
	}

	return false
}

// AuditEntry is one immutable line in a hold's history
type AuditEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Detail    string    `json:"detail,omitempty"`
}

// LegalHold suspends retention deletion for matching backups. Holds are
// never physically deleted; release only changes status and appends to
// the audit trail.
type LegalHold struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Reason     string       `json:"reason"`
	Criteria   HoldCriteria `json:"criteria"`
	Status     HoldStatus   `json:"status"`
	CreatedAt  time.Time    `json:"created_at"`
	ReleasedAt *time.Time   `json:"released_at,omitempty"`
	AuditTrail []AuditEntry `json:"audit_trail"`
}

// NewLegalHold creates an active hold with an initial audit entry
func NewLegalHold(name, reason, actor string, criteria HoldCriteria) *LegalHold {
	now := time.Now().UTC()
	hold := &LegalHold{
		ID:        "hold-" + uuid.New().String(),
		Name:      name,
		Reason:    reason,
		Criteria:  criteria,
		Status:    HoldActive,
		CreatedAt: now,
	}
	hold.AppendAudit("created", actor, reason)
	return hold
}

// AppendAudit adds an entry to the hold's history. Existing entries are
// never rewritten.
func (h *LegalHold) AppendAudit(action, actor, detail string) {
	h.AuditTrail = append(h.AuditTrail, AuditEntry{
		Action:    action,
		Actor:     actor,
		Timestamp: time.Now().UTC(),
		Detail:    detail,
	})
}

// Release deactivates the hold and records who did it. The hold itself
// is retained.
func (h *LegalHold) Release(actor, reason string) {
	now := time.Now().UTC()
	h.Status = HoldReleased
	h.ReleasedAt = &now
	h.AppendAudit("released", actor, reason)
}

// IsActive reports whether the hold currently blocks deletion
func (h *LegalHold) IsActive() bool {
	return h.Status == HoldActive
}

// Covers reports whether the hold is active and matches r
func (h *LegalHold) Covers(r *BackupRecord) bool {
	return h.IsActive() && h.Criteria.Matches(r)
}
