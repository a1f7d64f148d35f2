package record

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateBackupID(t *testing.T) {
	id1 := GenerateBackupID(BackupTypeFull)
	id2 := GenerateBackupID(BackupTypeFull)

	assert.True(t, strings.HasPrefix(id1, "full-"))
	assert.NotEqual(t, id1, id2)
}

func TestBackupTypePriorityOrdering(t *testing.T) {
	assert.Greater(t, BackupTypeIncremental.BasePriority(), BackupTypeDifferential.BasePriority())
	assert.Greater(t, BackupTypeDifferential.BasePriority(), BackupTypeFull.BasePriority())
	assert.Less(t, BackupTypeIncremental.Order(), BackupTypeFull.Order())
}

func TestMarkArchivedRequiresLocation(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)

	err := rec.MarkArchived("")
	assert.Error(t, err)
	assert.False(t, rec.Archived)
	assert.False(t, rec.CanPurgeLocal())

	err = rec.MarkArchived("s3://archive/full-backup.tar")
	require.NoError(t, err)
	assert.True(t, rec.Archived)
	assert.True(t, rec.CanPurgeLocal())
}

func TestBackupRecordValidateRejectsArchivedWithoutLocation(t *testing.T) {
	rec := NewBackupRecord(BackupTypeIncremental)
	rec.Archived = true

	err := rec.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "archive location")
}

func TestValidationStatusTransitions(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)
	assert.Equal(t, ValidationUntested, rec.ValidationStatus)

	require.NoError(t, rec.SetValidationStatus(ValidationPassed))
	require.NoError(t, rec.SetValidationStatus(ValidationFailed))
	require.NoError(t, rec.SetValidationStatus(ValidationWarning))

	err := rec.SetValidationStatus(ValidationUntested)
	assert.Error(t, err)
	assert.Equal(t, ValidationWarning, rec.ValidationStatus)
}

func TestHoldCriteriaMatchesByID(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)
	criteria := HoldCriteria{BackupIDs: []string{rec.ID}}

	assert.True(t, criteria.Matches(rec))
	assert.False(t, criteria.Matches(NewBackupRecord(BackupTypeFull)))
}

func TestHoldCriteriaMatchesByTimeRange(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)
	rec.CreatedAt = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	after := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	criteria := HoldCriteria{CreatedAfter: &after, CreatedBefore: &before}
	assert.True(t, criteria.Matches(rec))

	rec.CreatedAt = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, criteria.Matches(rec))
}

func TestHoldCriteriaMatchesByClassification(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)
	rec.Classification = &Classification{Level: LevelRestricted}

	level := LevelConfidential
	criteria := HoldCriteria{Classification: &level}
	assert.True(t, criteria.Matches(rec), "restricted is at least confidential")

	rec.Classification.Level = LevelInternal
	assert.False(t, criteria.Matches(rec))
}

func TestReleasedHoldDoesNotCover(t *testing.T) {
	rec := NewBackupRecord(BackupTypeFull)
	hold := NewLegalHold("litigation-2026", "pending case", "counsel", HoldCriteria{BackupIDs: []string{rec.ID}})

	assert.True(t, hold.Covers(rec))

	hold.Status = HoldReleased
	hold.AppendAudit("released", "counsel", "case closed")
	assert.False(t, hold.Covers(rec))
	assert.Len(t, hold.AuditTrail, 2)
	assert.Equal(t, "created", hold.AuditTrail[0].Action)
}

func TestRegionHealthHealthy(t *testing.T) {
	health := &RegionHealth{
		Region:           "us-west-2",
		Available:        true,
		ReplicationLag:   2 * time.Minute,
		BackupCountDelta: -1,
	}

	assert.True(t, health.Healthy(5*time.Minute, 2))
	assert.False(t, health.Healthy(time.Minute, 2), "lag above max")
	assert.False(t, health.Healthy(5*time.Minute, 0), "count delta above tolerance")

	health.Available = false
	assert.False(t, health.Healthy(5*time.Minute, 2))
}

func TestFailoverStateTransitions(t *testing.T) {
	state := NewFailoverState("us-east-1")
	assert.False(t, state.Active())

	require.NoError(t, state.Transition(PhaseFailingOver))
	assert.True(t, state.Active())

	err := state.Transition(PhaseFailingBack)
	assert.Error(t, err)

	require.NoError(t, state.Transition(PhaseFailedOver))
	require.NoError(t, state.Transition(PhaseFailingBack))
	require.NoError(t, state.Transition(PhaseStable))
}

func TestFailoverStateCooldown(t *testing.T) {
	state := NewFailoverState("us-east-1")
	now := time.Now()

	assert.False(t, state.InCooldown(now))

	state.RefreshCooldown(now, 30*time.Minute)
	assert.True(t, state.InCooldown(now.Add(10*time.Minute)))
	assert.False(t, state.InCooldown(now.Add(31*time.Minute)))
}

func TestBackupRegistryLatestOfType(t *testing.T) {
	reg := NewBackupRegistry()

	older := NewBackupRecord(BackupTypeFull)
	older.CreatedAt = time.Now().Add(-48 * time.Hour)
	newer := NewBackupRecord(BackupTypeFull)
	newer.CreatedAt = time.Now().Add(-1 * time.Hour)
	incremental := NewBackupRecord(BackupTypeIncremental)

	reg.Put(older)
	reg.Put(newer)
	reg.Put(incremental)

	assert.Equal(t, newer.ID, reg.LatestOfType(BackupTypeFull).ID)
	assert.Equal(t, incremental.ID, reg.LatestOfType(BackupTypeIncremental).ID)
	assert.Nil(t, reg.LatestOfType(BackupTypeDifferential))
}

func TestLegalHoldRegistryActiveHoldFor(t *testing.T) {
	reg := NewLegalHoldRegistry()
	rec := NewBackupRecord(BackupTypeFull)

	assert.Nil(t, reg.ActiveHoldFor(rec))

	hold := NewLegalHold("audit", "regulator request", "legal", HoldCriteria{BackupIDs: []string{rec.ID}})
	reg.Put(hold)
	require.NotNil(t, reg.ActiveHoldFor(rec))

	hold.Status = HoldReleased
	assert.Nil(t, reg.ActiveHoldFor(rec))
}

func TestClassificationDeadlines(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &Classification{
		Level:            LevelConfidential,
		Frameworks:       []Framework{FrameworkGDPR},
		RetentionDays:    365,
		ArchiveAfterDays: 90,
	}

	assert.Equal(t, created.AddDate(0, 0, 365), c.RetentionDeadlineFrom(created))
	assert.Equal(t, created.AddDate(0, 0, 90), c.ArchiveDeadlineFrom(created))
	assert.True(t, c.HasFramework(FrameworkGDPR))
	assert.False(t, c.HasFramework(FrameworkSOX))
}
