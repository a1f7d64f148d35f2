package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
)

func TestPreviewReportsLifecycleWithoutMutating(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 24*time.Hour, plainDump)

	plan, err := fx.manager.Preview(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, ActionClassify, plan[0].Action)

	// Classify for real, then walk the same record through the
	// lifecycle by previewing at later points in time
	_, err = fx.manager.RunOnce(ctx, rec.CreatedAt.Add(time.Hour))
	require.NoError(t, err)

	plan, err = fx.manager.Preview(ctx, rec.CreatedAt.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, ActionKeep, plan[0].Action)
	assert.Equal(t, record.LevelInternal, plan[0].Level)

	plan, err = fx.manager.Preview(ctx, rec.CreatedAt.Add(35*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActionArchive, plan[0].Action)

	plan, err = fx.manager.Preview(ctx, rec.CreatedAt.Add(100*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ActionDelete, plan[0].Action)

	// Three previews later the record, its objects, and its key are
	// all untouched
	stored := fx.loadRegistry(t).Get(rec.ID)
	require.NotNil(t, stored)
	assert.False(t, stored.Archived)
	objects, err := fx.stores["us-east-1"].List(ctx, backupKeyPrefix+rec.ID+"/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.True(t, fx.keys.HasKey(rec.ID))
}

func TestPreviewMarksHeldBackups(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 100*24*time.Hour, plainDump)

	// Classify while the record is still young so the pass does not
	// delete it
	_, err := fx.manager.RunOnce(ctx, rec.CreatedAt.Add(time.Hour))
	require.NoError(t, err)

	hold, err := fx.holds.Create(ctx, "audit-2026-007", "regulator request", "legal-team",
		record.HoldCriteria{BackupIDs: []string{rec.ID}})
	require.NoError(t, err)

	plan, err := fx.manager.Preview(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.Equal(t, ActionHold, plan[0].Action)
	assert.Contains(t, plan[0].Detail, hold.ID)
}

func TestReclassifyAppliesOperatorDecision(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 24*time.Hour, piiDump)

	classification, err := fx.manager.Reclassify(ctx, rec.ID, record.LevelRestricted, 0, 0, "dba")
	require.NoError(t, err)
	assert.Equal(t, 90, classification.RetentionDays)
	assert.Equal(t, 30, classification.ArchiveAfterDays)

	stored := fx.loadRegistry(t).Get(rec.ID)
	require.NotNil(t, stored.Classification)
	assert.True(t, stored.Classification.OperatorOverride)
	assert.Equal(t, record.LevelRestricted, stored.Classification.Level)
	require.NotNil(t, stored.RetentionDeadline)
	assert.Equal(t, stored.Classification.RetentionDeadlineFrom(stored.CreatedAt), *stored.RetentionDeadline)

	// The automatic classifier would call this confidential; the
	// operator decision must survive the next scan
	_, err = fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	stored = fx.loadRegistry(t).Get(rec.ID)
	assert.Equal(t, record.LevelRestricted, stored.Classification.Level)
}

func TestReclassifyRejectsBadInput(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, time.Hour, plainDump)

	_, err := fx.manager.Reclassify(ctx, rec.ID, "secret", 0, 0, "dba")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))

	_, err = fx.manager.Reclassify(ctx, rec.ID, record.LevelInternal, -1, 0, "dba")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeValidation, apperrors.GetType(err))

	_, err = fx.manager.Reclassify(ctx, "bk-missing", record.LevelInternal, 0, 0, "dba")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.GetType(err))
}
