package retention

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "drguard/internal/errors"
	"drguard/internal/executor"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

const (
	plainDump = "CREATE TABLE widgets (id INT, label VARCHAR(64));\nINSERT INTO widgets VALUES (1, 'gear');\n"
	piiDump   = "CREATE TABLE users (id INT, email VARCHAR(255));\nINSERT INTO users VALUES (1, 'ana@example.com');\n"
	phiDump   = "CREATE TABLE visits (id INT, patient VARCHAR(64), diagnosis TEXT);\n"
)

type retentionFixture struct {
	manager  *Manager
	holds    *HoldService
	state    *statestore.MemoryStore
	stores   map[string]storage.ObjectStore
	keys     *executor.KeyStore
	enc      *executor.Encryptor
	localDir string
}

func newRetentionFixture(t *testing.T) *retentionFixture {
	t.Helper()

	stores := make(map[string]storage.ObjectStore)
	for _, region := range []string{"us-east-1", "us-west-2"} {
		store, err := storage.NewLocalStore(t.TempDir())
		require.NoError(t, err)
		stores[region] = store
	}

	keys, err := executor.NewKeyStore(t.TempDir(), "retention-secret")
	require.NoError(t, err)

	logger := logging.NewDefaultLogger()
	state := statestore.NewMemoryStore()
	notifier := notify.NewNotifier(logger, notify.Config{})

	manager, err := NewManager(logger, Config{
		PrimaryRegion:  "us-east-1",
		CertificateDir: t.TempDir(),
		Compression:    executor.CompressionTypeGzip,
	}, state, stores, keys, notifier)
	require.NoError(t, err)

	return &retentionFixture{
		manager:  manager,
		holds:    NewHoldService(logger, state, notifier),
		state:    state,
		stores:   stores,
		keys:     keys,
		enc:      executor.NewEncryptor(),
		localDir: t.TempDir(),
	}
}

// seedBackup registers a backup of the given age with a sealed artifact
// in both regions plus a local staging copy
func (fx *retentionFixture) seedBackup(t *testing.T, age time.Duration, content string) *record.BackupRecord {
	t.Helper()
	ctx := context.Background()

	rec := record.NewBackupRecord(record.BackupTypeFull)
	rec.CreatedAt = time.Now().UTC().Add(-age)

	key, salt, err := fx.keys.CreateKey(rec.ID)
	require.NoError(t, err)
	rec.KeySalt = salt

	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	sealed, err := fx.enc.Encrypt(buf.Bytes(), key)
	require.NoError(t, err)

	localPath := filepath.Join(fx.localDir, rec.ID+".sql.gz.enc")
	require.NoError(t, os.WriteFile(localPath, sealed, 0o600))

	sum := sha256.Sum256(sealed)
	rec.Artifacts = append(rec.Artifacts, record.Artifact{
		Name:      "mysql.sql.gz.enc",
		LocalPath: localPath,
		Checksum:  hex.EncodeToString(sum[:]),
		Encrypted: true,
		SizeBytes: int64(len(sealed)),
	})

	for _, store := range fx.stores {
		require.NoError(t, store.Put(ctx, backupKeyPrefix+rec.ID+"/mysql.sql.gz.enc",
			bytes.NewReader(sealed), storage.PutOptions{}))
	}

	require.NoError(t, fx.state.Update(ctx, statestore.KeyBackupRegistry, registryPut(rec)))
	return rec
}

func registryPut(rec *record.BackupRecord) statestore.Mutator {
	return func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewBackupRegistry()
		if raw != nil {
			if err := json.Unmarshal(raw, registry); err != nil {
				return nil, err
			}
		}
		registry.Put(rec)
		return registry, nil
	}
}

func (fx *retentionFixture) loadRegistry(t *testing.T) *record.BackupRegistry {
	t.Helper()
	registry := record.NewBackupRegistry()
	err := fx.state.Load(context.Background(), statestore.KeyBackupRegistry, registry)
	if err == statestore.ErrNotFound {
		return registry
	}
	require.NoError(t, err)
	return registry
}

func TestRunOnceClassifiesUnclassifiedRecords(t *testing.T) {
	fx := newRetentionFixture(t)
	rec := fx.seedBackup(t, 24*time.Hour, piiDump)

	stats, err := fx.manager.RunOnce(context.Background(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Classified)
	assert.Zero(t, stats.Archived)
	assert.Zero(t, stats.Deleted)

	stored := fx.loadRegistry(t).Get(rec.ID)
	require.NotNil(t, stored)
	require.NotNil(t, stored.Classification)
	assert.Equal(t, record.LevelConfidential, stored.Classification.Level)
	assert.Contains(t, stored.Classification.Frameworks, record.FrameworkGDPR)
	assert.Equal(t, 365, stored.Classification.RetentionDays)
	require.NotNil(t, stored.RetentionDeadline)
}

func TestRunOnceArchivesPastThresholdWithoutDeleting(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	// Personal data: archive after 90 days, retain 365. At 100 days the
	// record must be archived but still present.
	rec := fx.seedBackup(t, 100*24*time.Hour, piiDump)

	stats, err := fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Archived)
	assert.Zero(t, stats.Deleted)

	stored := fx.loadRegistry(t).Get(rec.ID)
	require.NotNil(t, stored)
	assert.True(t, stored.Archived)
	assert.NotEmpty(t, stored.ArchiveLocation)
	assert.Empty(t, stored.LocalArtifactPaths())

	// Objects moved out of the active prefix in every region
	for region, store := range fx.stores {
		active, err := store.List(ctx, backupKeyPrefix+rec.ID+"/")
		require.NoError(t, err)
		assert.Empty(t, active, region)

		archived, err := store.List(ctx, archiveKeyPrefix+rec.ID+"/")
		require.NoError(t, err)
		assert.Len(t, archived, 1, region)
	}

	// Local staging copy is gone
	_, err = os.Stat(rec.Artifacts[0].LocalPath)
	assert.True(t, os.IsNotExist(err))
}

func TestRunOnceDeletesExpiredBackups(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	// Unremarkable content falls under the default 90-day policy
	rec := fx.seedBackup(t, 100*24*time.Hour, plainDump)

	stats, err := fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)
	assert.Zero(t, stats.Held)

	assert.Nil(t, fx.loadRegistry(t).Get(rec.ID))

	for region, store := range fx.stores {
		objects, err := store.List(ctx, backupKeyPrefix+rec.ID+"/")
		require.NoError(t, err)
		assert.Empty(t, objects, region)
	}

	// The key salt is shredded and the local copy destroyed
	assert.False(t, fx.keys.HasKey(rec.ID))
	_, err = os.Stat(rec.Artifacts[0].LocalPath)
	assert.True(t, os.IsNotExist(err))

	cert, err := fx.manager.Certificates().Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, cert.BackupID)
	assert.True(t, cert.KeyShredded)
	assert.Equal(t, 1, cert.RegionObjectsDeleted["us-east-1"])
	assert.Equal(t, 1, cert.RegionObjectsDeleted["us-west-2"])
	assert.Len(t, cert.LocalPathsDestroyed, 1)
}

func TestLegalHoldBlocksDeletion(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 100*24*time.Hour, plainDump)

	hold, err := fx.holds.Create(ctx, "litigation-2026-041", "pending litigation", "legal-team",
		record.HoldCriteria{BackupIDs: []string{rec.ID}})
	require.NoError(t, err)

	stats, err := fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, stats.Deleted)
	assert.Equal(t, 1, stats.Held)

	// Record and objects survive
	require.NotNil(t, fx.loadRegistry(t).Get(rec.ID))
	objects, err := fx.stores["us-east-1"].List(ctx, backupKeyPrefix+rec.ID+"/")
	require.NoError(t, err)
	assert.Len(t, objects, 1)
	assert.True(t, fx.keys.HasKey(rec.ID))

	// The blocked attempt lands in the hold's audit trail
	stored, err := fx.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	var actions []string
	for _, entry := range stored.AuditTrail {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "deletion_blocked")
}

func TestReleasedHoldAllowsDeletion(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 100*24*time.Hour, plainDump)
	hold, err := fx.holds.Create(ctx, "audit-hold", "quarterly audit", "compliance",
		record.HoldCriteria{BackupIDs: []string{rec.ID}})
	require.NoError(t, err)

	_, err = fx.holds.Release(ctx, hold.ID, "compliance", "audit closed")
	require.NoError(t, err)

	stats, err := fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deleted)

	// The released hold itself is retained with its full history
	stored, err := fx.holds.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, record.HoldReleased, stored.Status)
	require.NotNil(t, stored.ReleasedAt)
	assert.GreaterOrEqual(t, len(stored.AuditTrail), 2)
}

func TestHoldServiceRejectsEmptyCriteria(t *testing.T) {
	fx := newRetentionFixture(t)

	_, err := fx.holds.Create(context.Background(), "empty", "no criteria", "ops", record.HoldCriteria{})
	require.Error(t, err)
	drErr, ok := err.(*apperrors.DRError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeValidation, drErr.Type)
}

func TestCertificateStoreIsWriteOnce(t *testing.T) {
	store, err := NewCertificateStore(t.TempDir())
	require.NoError(t, err)

	rec := record.NewBackupRecord(record.BackupTypeFull)
	cert := newDeletionCertificate(rec, map[string]int{"us-east-1": 2}, nil, true, "expired")
	require.NoError(t, store.Write(cert))

	err = store.Write(cert)
	require.Error(t, err)
	drErr, ok := err.(*apperrors.DRError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrorTypeComplianceViolation, drErr.Type)

	loaded, err := store.Load(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, cert.ID, loaded.ID)
	assert.Equal(t, 2, loaded.RegionObjectsDeleted["us-east-1"])
}

func TestClassifierLevels(t *testing.T) {
	classifier := NewClassifier(ClassifierConfig{})

	pii := classifier.Classify([]byte(piiDump), "test")
	assert.Equal(t, record.LevelConfidential, pii.Level)
	assert.Equal(t, []record.Framework{record.FrameworkGDPR}, pii.Frameworks)
	assert.Equal(t, 365, pii.RetentionDays)

	phi := classifier.Classify([]byte(phiDump), "test")
	assert.Equal(t, record.LevelRestricted, phi.Level)
	assert.Contains(t, phi.Frameworks, record.FrameworkHIPAA)
	assert.Equal(t, 2190, phi.RetentionDays)

	financial := classifier.Classify([]byte("account_number, routing_number"), "test")
	assert.Equal(t, record.LevelRestricted, financial.Level)
	assert.Equal(t, 2555, financial.RetentionDays)

	plain := classifier.Classify([]byte(plainDump), "test")
	assert.Equal(t, record.LevelInternal, plain.Level)
	assert.Empty(t, plain.Frameworks)
	assert.Equal(t, 90, plain.RetentionDays)

	// Mixed content keeps the longest retention among matches
	mixed := classifier.Classify([]byte("ana@example.com account_number"), "test")
	assert.Equal(t, record.LevelRestricted, mixed.Level)
	assert.Equal(t, 2555, mixed.RetentionDays)
}

func TestOperatorOverrideSurvivesScan(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, 24*time.Hour, plainDump)

	override := fx.manager.classifier.Override(record.LevelRestricted, 1000, 200, "dba")
	require.NoError(t, fx.state.Update(ctx, statestore.KeyBackupRegistry, func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewBackupRegistry()
		if err := json.Unmarshal(raw, registry); err != nil {
			return nil, err
		}
		registry.Get(rec.ID).Classification = override
		return registry, nil
	}))

	_, err := fx.manager.RunOnce(ctx, time.Now().UTC())
	require.NoError(t, err)

	stored := fx.loadRegistry(t).Get(rec.ID)
	require.NotNil(t, stored.Classification)
	assert.True(t, stored.Classification.OperatorOverride)
	assert.Equal(t, 1000, stored.Classification.RetentionDays)
}

// Hold creation and the deletion pass serialize through the legal-hold
// section lock, so a hold requested while an expired backup is being
// destroyed waits for the destruction to finish instead of landing
// between the hold check and the deletion.
func TestHoldCreationWaitsForDeletionSection(t *testing.T) {
	fx := newRetentionFixture(t)
	ctx := context.Background()

	rec := fx.seedBackup(t, time.Hour, plainDump)

	sectionHeld := make(chan struct{})
	releaseSection := make(chan struct{})
	sectionDone := make(chan error, 1)
	go func() {
		sectionDone <- fx.state.WithLock(ctx, statestore.KeyLegalHolds, func() error {
			close(sectionHeld)
			<-releaseSection
			return nil
		})
	}()
	<-sectionHeld

	created := make(chan error, 1)
	go func() {
		_, err := fx.holds.Create(ctx, "litigation-2026-112", "pending litigation", "legal-team",
			record.HoldCriteria{BackupIDs: []string{rec.ID}})
		created <- err
	}()

	select {
	case <-created:
		t.Fatal("hold creation completed while the deletion section was held")
	case <-time.After(100 * time.Millisecond):
	}

	close(releaseSection)
	require.NoError(t, <-sectionDone)

	select {
	case err := <-created:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hold creation never completed after the section was released")
	}

	holds, err := fx.holds.List(ctx)
	require.NoError(t, err)
	require.Len(t, holds, 1)
	assert.True(t, holds[0].IsActive())
}
