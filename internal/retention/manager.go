package retention

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/executor"
	"drguard/internal/logging"
	"drguard/internal/notify"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

const (
	backupKeyPrefix  = "backups/"
	archiveKeyPrefix = "archive/"

	overwritePasses = 3
)

// Config configures the retention manager
type Config struct {
	PrimaryRegion  string                   `json:"primary_region" yaml:"primary_region"`
	CertificateDir string                   `json:"certificate_dir" yaml:"certificate_dir"`
	Compression    executor.CompressionType `json:"compression" yaml:"compression"`
	Classifier     ClassifierConfig         `json:"classifier" yaml:"classifier"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.Compression == "" {
		c.Compression = executor.CompressionTypeZstd
	}
	c.Classifier.SetDefaults()
}

// ScanStats summarizes one retention pass
type ScanStats struct {
	Scanned    int `json:"scanned"`
	Classified int `json:"classified"`
	Archived   int `json:"archived"`
	Deleted    int `json:"deleted"`
	Held       int `json:"held"`
	Failed     int `json:"failed"`
}

// Manager walks the backup registry and applies lifecycle policy:
// classify unclassified records, archive past the archive threshold,
// and securely delete past the retention deadline unless a legal hold
// covers the record.
type Manager struct {
	logger      *logging.Logger
	config      Config
	state       statestore.Store
	stores      map[string]storage.ObjectStore
	keys        *executor.KeyStore
	classifier  *Classifier
	certs       *CertificateStore
	notifier    *notify.Notifier
	encryptor   *executor.Encryptor
	compression *executor.CompressionManager
}

// NewManager creates a retention manager
func NewManager(logger *logging.Logger, config Config, state statestore.Store, stores map[string]storage.ObjectStore,
	keys *executor.KeyStore, notifier *notify.Notifier) (*Manager, error) {
	config.SetDefaults()
	if _, ok := stores[config.PrimaryRegion]; !ok {
		return nil, apperrors.NewConfigurationError("no object store configured for primary region "+config.PrimaryRegion, nil)
	}
	if config.CertificateDir == "" {
		return nil, apperrors.NewConfigurationError("retention requires a certificate directory", nil)
	}
	certs, err := NewCertificateStore(config.CertificateDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		logger:      logger,
		config:      config,
		state:       state,
		stores:      stores,
		keys:        keys,
		classifier:  NewClassifier(config.Classifier),
		certs:       certs,
		notifier:    notifier,
		encryptor:   executor.NewEncryptor(),
		compression: executor.NewCompressionManager(),
	}, nil
}

// Certificates exposes the deletion certificate store
func (m *Manager) Certificates() *CertificateStore {
	return m.certs
}

// RunOnce applies lifecycle policy to every registered backup. Errors on
// individual records are counted and logged; the scan continues.
func (m *Manager) RunOnce(ctx context.Context, now time.Time) (*ScanStats, error) {
	registry := record.NewBackupRegistry()
	if err := m.state.Load(ctx, statestore.KeyBackupRegistry, registry); err != nil {
		if err == statestore.ErrNotFound {
			return &ScanStats{}, nil
		}
		return nil, apperrors.NewStateError("failed to load backup registry", err)
	}

	stats := &ScanStats{}
	for _, rec := range registry.SortedByAge() {
		stats.Scanned++
		if err := m.applyPolicy(ctx, rec, now, stats); err != nil {
			stats.Failed++
			m.logger.WithFields(map[string]interface{}{
				"backup_id": rec.ID,
				"error":     err.Error(),
			}).Error("Retention policy application failed")
		}
	}

	m.logger.WithFields(map[string]interface{}{
		"scanned":    stats.Scanned,
		"classified": stats.Classified,
		"archived":   stats.Archived,
		"deleted":    stats.Deleted,
		"held":       stats.Held,
		"failed":     stats.Failed,
	}).Info("Retention scan complete")
	return stats, nil
}

func (m *Manager) applyPolicy(ctx context.Context, rec *record.BackupRecord, now time.Time, stats *ScanStats) error {
	if rec.Classification == nil {
		if err := m.classify(ctx, rec); err != nil {
			return err
		}
		stats.Classified++
	}

	deadline := rec.Classification.RetentionDeadlineFrom(rec.CreatedAt)
	if !now.Before(deadline) {
		deleted, err := m.deleteExpired(ctx, rec, deadline)
		if err != nil {
			return err
		}
		if deleted {
			stats.Deleted++
		} else {
			stats.Held++
		}
		return nil
	}

	if !rec.Archived && !now.Before(rec.Classification.ArchiveDeadlineFrom(rec.CreatedAt)) {
		if err := m.archive(ctx, rec); err != nil {
			return err
		}
		stats.Archived++
	}
	return nil
}

// classify samples the backup's content and persists the resulting
// classification and retention deadline on the record
func (m *Manager) classify(ctx context.Context, rec *record.BackupRecord) error {
	sample, err := m.readSample(ctx, rec)
	if err != nil {
		return err
	}

	classification := m.classifier.Classify(sample, "auto-classifier")
	deadline := classification.RetentionDeadlineFrom(rec.CreatedAt)

	if err := m.mutateRecord(ctx, rec.ID, func(stored *record.BackupRecord) error {
		if stored.Classification != nil && stored.Classification.OperatorOverride {
			// An operator decided in the meantime; keep their call
			classification = stored.Classification
			deadline = classification.RetentionDeadlineFrom(stored.CreatedAt)
			return nil
		}
		stored.Classification = classification
		stored.RetentionDeadline = &deadline
		return nil
	}); err != nil {
		return err
	}

	rec.Classification = classification
	rec.RetentionDeadline = &deadline

	m.logger.LogRetentionAction(rec.ID, "classified", string(classification.Level),
		fmt.Sprintf("retention %d days, archive after %d days", classification.RetentionDays, classification.ArchiveAfterDays))
	return nil
}

// readSample fetches a bounded decrypted plaintext sample of the first
// artifact from the primary region
func (m *Manager) readSample(ctx context.Context, rec *record.BackupRecord) ([]byte, error) {
	if len(rec.Artifacts) == 0 {
		return nil, apperrors.NewValidationError("backup "+rec.ID+" has no artifacts to sample", nil)
	}
	artifact := rec.Artifacts[0]

	ciphertext, err := m.readArtifact(ctx, rec, artifact)
	if err != nil {
		return nil, err
	}

	key, err := m.keys.Key(rec.ID)
	if err != nil {
		return nil, err
	}
	compressed, err := m.encryptor.Decrypt(ciphertext, key)
	if err != nil {
		return nil, err
	}
	plaintext, err := m.compression.Decompress(compressed, m.config.Compression)
	if err != nil {
		return nil, err
	}

	if max := m.classifier.SampleBytes(); int64(len(plaintext)) > max {
		plaintext = plaintext[:max]
	}
	return plaintext, nil
}

func (m *Manager) readArtifact(ctx context.Context, rec *record.BackupRecord, artifact record.Artifact) ([]byte, error) {
	if artifact.LocalPath != "" {
		if data, err := os.ReadFile(artifact.LocalPath); err == nil {
			return data, nil
		}
	}

	key := backupKeyPrefix + rec.ID + "/" + artifact.Name
	if rec.Archived {
		key = archiveKeyPrefix + rec.ID + "/" + artifact.Name
	}
	r, err := m.stores[m.config.PrimaryRegion].Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// archive moves the backup's objects to the archive storage class in
// every region that holds them, then purges local plaintext-side copies
func (m *Manager) archive(ctx context.Context, rec *record.BackupRecord) error {
	var location string
	for region, store := range m.stores {
		objects, err := store.List(ctx, backupKeyPrefix+rec.ID+"/")
		if err != nil {
			return err
		}
		for _, obj := range objects {
			dst := archiveKeyPrefix + obj.Key[len(backupKeyPrefix):]
			if err := store.Copy(ctx, obj.Key, dst, storage.ClassArchive); err != nil {
				return err
			}
			if err := store.Delete(ctx, obj.Key); err != nil {
				return err
			}
		}
		if region == m.config.PrimaryRegion && len(objects) > 0 {
			location = store.URI(archiveKeyPrefix + rec.ID + "/")
		}
	}
	if location == "" {
		return apperrors.NewValidationError("backup "+rec.ID+" has no objects in the primary region to archive", nil)
	}

	if err := m.mutateRecord(ctx, rec.ID, func(stored *record.BackupRecord) error {
		if err := stored.MarkArchived(location); err != nil {
			return err
		}
		// Local copies go only after the archive location is durable
		for i := range stored.Artifacts {
			stored.Artifacts[i].LocalPath = ""
		}
		return nil
	}); err != nil {
		return err
	}

	for _, path := range rec.LocalArtifactPaths() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			m.logger.Warnf("Failed to remove local artifact %s after archival: %v", path, err)
		}
	}
	if err := rec.MarkArchived(location); err != nil {
		return err
	}

	m.logger.LogRetentionAction(rec.ID, "archived", string(rec.Classification.Level), location)
	return nil
}

// deleteExpired destroys every copy of the backup unless a legal hold
// covers it. The hold check and the destruction run under the hold
// registry lock so a hold created mid-scan cannot race the deletion.
func (m *Manager) deleteExpired(ctx context.Context, rec *record.BackupRecord, deadline time.Time) (bool, error) {
	deleted := false
	err := m.state.WithLock(ctx, statestore.KeyLegalHolds, func() error {
		holds := record.NewLegalHoldRegistry()
		if err := m.state.Load(ctx, statestore.KeyLegalHolds, holds); err != nil && err != statestore.ErrNotFound {
			return apperrors.NewStateError("failed to load legal hold registry", err)
		}

		if hold := holds.ActiveHoldFor(rec); hold != nil {
			m.recordBlockedDeletion(ctx, rec, hold)
			return nil
		}

		if err := m.destroy(ctx, rec, deadline); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// recordBlockedDeletion logs the compliance event and appends it to the
// covering hold's audit trail
func (m *Manager) recordBlockedDeletion(ctx context.Context, rec *record.BackupRecord, hold *record.LegalHold) {
	violation := apperrors.NewComplianceViolationError(
		fmt.Sprintf("deletion of backup %s blocked by legal hold %s", rec.ID, hold.ID), nil)
	m.logger.WithFields(map[string]interface{}{
		"backup_id": rec.ID,
		"hold_id":   hold.ID,
		"error":     violation.Error(),
	}).Warn("Retention deletion blocked by legal hold")

	err := m.state.Update(ctx, statestore.KeyLegalHolds, func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewLegalHoldRegistry()
		if raw != nil {
			if err := json.Unmarshal(raw, registry); err != nil {
				return nil, err
			}
		}
		if stored := registry.Get(hold.ID); stored != nil {
			stored.AppendAudit("deletion_blocked", "retention-manager",
				fmt.Sprintf("backup %s reached its retention deadline while held", rec.ID))
		}
		return registry, nil
	})
	if err != nil {
		m.logger.Errorf("Failed to append audit entry to hold %s: %v", hold.ID, err)
	}
}

// destroy removes the backup's objects from every region, overwrites and
// removes local files, shreds the encryption key salt, writes the
// deletion certificate, and drops the registry entry
func (m *Manager) destroy(ctx context.Context, rec *record.BackupRecord, deadline time.Time) error {
	regionCounts := make(map[string]int)
	for region, store := range m.stores {
		count := 0
		for _, prefix := range []string{backupKeyPrefix, archiveKeyPrefix} {
			objects, err := store.List(ctx, prefix+rec.ID+"/")
			if err != nil {
				return err
			}
			for _, obj := range objects {
				if err := store.Delete(ctx, obj.Key); err != nil {
					return err
				}
				count++
			}
		}
		regionCounts[region] = count
	}

	var destroyedPaths []string
	for _, path := range rec.LocalArtifactPaths() {
		if err := overwriteAndRemove(path); err != nil {
			return err
		}
		destroyedPaths = append(destroyedPaths, path)
	}

	if err := m.keys.Shred(rec.ID); err != nil {
		return err
	}

	reason := fmt.Sprintf("retention deadline %s reached", deadline.Format(time.RFC3339))
	cert := newDeletionCertificate(rec, regionCounts, destroyedPaths, true, reason)
	if err := m.certs.Write(cert); err != nil {
		return err
	}

	if err := m.mutateRegistry(ctx, func(registry *record.BackupRegistry) error {
		registry.Remove(rec.ID)
		return nil
	}); err != nil {
		return err
	}

	level := record.LevelInternal
	if rec.Classification != nil {
		level = rec.Classification.Level
	}
	m.logger.LogRetentionAction(rec.ID, "deleted", string(level), reason)

	event := notify.NewEvent(notify.EventRetentionDeletion, notify.SeverityInfo,
		"Backup deleted by retention policy", fmt.Sprintf("backup %s destroyed: %s", rec.ID, reason))
	event.Target = rec.ID
	if err := m.notifier.Notify(ctx, event); err != nil {
		m.logger.Errorf("Failed to notify operators of retention deletion: %v", err)
	}
	return nil
}

func (m *Manager) mutateRegistry(ctx context.Context, fn func(*record.BackupRegistry) error) error {
	err := m.state.Update(ctx, statestore.KeyBackupRegistry, func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewBackupRegistry()
		if raw != nil {
			if err := json.Unmarshal(raw, registry); err != nil {
				return nil, err
			}
		}
		if err := fn(registry); err != nil {
			return nil, err
		}
		return registry, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to update backup registry", err)
	}
	return nil
}

func (m *Manager) mutateRecord(ctx context.Context, backupID string, fn func(*record.BackupRecord) error) error {
	return m.mutateRegistry(ctx, func(registry *record.BackupRegistry) error {
		stored := registry.Get(backupID)
		if stored == nil {
			return apperrors.NewNotFoundError("backup "+backupID+" is not in the registry", nil)
		}
		return fn(stored)
	})
}

// overwriteAndRemove destroys the file contents with random data before
// unlinking, so freed blocks never hold recoverable ciphertext
func overwriteAndRemove(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	noise := make([]byte, info.Size())
	for pass := 0; pass < overwritePasses; pass++ {
		if _, err := io.ReadFull(rand.Reader, noise); err != nil {
			f.Close()
			return err
		}
		if _, err := f.WriteAt(noise, 0); err != nil {
			f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
