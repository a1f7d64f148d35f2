package retention

import (
	"context"
	"fmt"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
	"drguard/internal/statestore"
)

// Planned action names reported by Preview
const (
	ActionClassify = "classify"
	ActionArchive  = "archive"
	ActionDelete   = "delete"
	ActionHold     = "hold-blocked"
	ActionKeep     = "keep"
)

// PlannedAction describes what the next retention pass would do to one
// backup without doing it
type PlannedAction struct {
	BackupID string                     `json:"backup_id"`
	Type     record.BackupType          `json:"type"`
	Action   string                     `json:"action"`
	Level    record.ClassificationLevel `json:"level,omitempty"`
	Deadline time.Time                  `json:"deadline,omitempty"`
	Detail   string                     `json:"detail,omitempty"`
}

// Preview computes the actions RunOnce would take at the given time. It
// reads the registry and the hold registry but mutates nothing, so the
// plan is advisory: a hold created or released after the preview changes
// what the real pass does.
func (m *Manager) Preview(ctx context.Context, now time.Time) ([]PlannedAction, error) {
	registry := record.NewBackupRegistry()
	if err := m.state.Load(ctx, statestore.KeyBackupRegistry, registry); err != nil {
		if err == statestore.ErrNotFound {
			return nil, nil
		}
		return nil, apperrors.NewStateError("failed to load backup registry", err)
	}

	holds := record.NewLegalHoldRegistry()
	if err := m.state.Load(ctx, statestore.KeyLegalHolds, holds); err != nil && err != statestore.ErrNotFound {
		return nil, apperrors.NewStateError("failed to load legal hold registry", err)
	}

	var plan []PlannedAction
	for _, rec := range registry.SortedByAge() {
		plan = append(plan, m.planFor(rec, holds, now))
	}
	return plan, nil
}

func (m *Manager) planFor(rec *record.BackupRecord, holds *record.LegalHoldRegistry, now time.Time) PlannedAction {
	action := PlannedAction{BackupID: rec.ID, Type: rec.Type}

	if rec.Classification == nil {
		action.Action = ActionClassify
		action.Detail = "content sample decides the retention policy"
		return action
	}
	action.Level = rec.Classification.Level

	deadline := rec.Classification.RetentionDeadlineFrom(rec.CreatedAt)
	if !now.Before(deadline) {
		action.Deadline = deadline
		if hold := holds.ActiveHoldFor(rec); hold != nil {
			action.Action = ActionHold
			action.Detail = "covered by legal hold " + hold.ID
		} else {
			action.Action = ActionDelete
			action.Detail = fmt.Sprintf("retention deadline %s reached", deadline.Format(time.RFC3339))
		}
		return action
	}

	if archiveAt := rec.Classification.ArchiveDeadlineFrom(rec.CreatedAt); !rec.Archived && !now.Before(archiveAt) {
		action.Action = ActionArchive
		action.Deadline = archiveAt
		return action
	}

	action.Action = ActionKeep
	action.Deadline = deadline
	return action
}

// Reclassify replaces a backup's classification with an operator
// decision. Zero retention or archive day counts fall back to the
// configured defaults. Operator classifications survive later automatic
// scans.
func (m *Manager) Reclassify(ctx context.Context, backupID string, level record.ClassificationLevel,
	retentionDays, archiveAfterDays int, actor string) (*record.Classification, error) {
	if !level.IsValid() {
		return nil, apperrors.NewValidationError("unknown classification level "+string(level), nil)
	}
	if retentionDays < 0 || archiveAfterDays < 0 {
		return nil, apperrors.NewValidationError("retention and archive day counts cannot be negative", nil)
	}

	classification := m.classifier.Override(level, retentionDays, archiveAfterDays, actor)
	if err := m.mutateRecord(ctx, backupID, func(stored *record.BackupRecord) error {
		deadline := classification.RetentionDeadlineFrom(stored.CreatedAt)
		stored.Classification = classification
		stored.RetentionDeadline = &deadline
		return nil
	}); err != nil {
		return nil, err
	}

	m.logger.LogRetentionAction(backupID, "reclassified", string(level),
		fmt.Sprintf("by %s, retention %d days", actor, classification.RetentionDays))
	return classification, nil
}
