package retention

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "drguard/internal/errors"
	"drguard/internal/record"
)

// DeletionCertificate is the permanent proof that a backup was destroyed:
// which copies existed, how each was removed, and under which policy.
// Certificates are written once and never modified.
type DeletionCertificate struct {
	ID                   string                     `json:"id"`
	BackupID             string                     `json:"backup_id"`
	BackupType           record.BackupType          `json:"backup_type"`
	BackupCreatedAt      time.Time                  `json:"backup_created_at"`
	Classification       record.ClassificationLevel `json:"classification"`
	Frameworks           []record.Framework         `json:"frameworks,omitempty"`
	RetentionDays        int                        `json:"retention_days"`
	DeletedAt            time.Time                  `json:"deleted_at"`
	RegionObjectsDeleted map[string]int             `json:"region_objects_deleted"`
	LocalPathsDestroyed  []string                   `json:"local_paths_destroyed,omitempty"`
	KeyShredded          bool                       `json:"key_shredded"`
	Reason               string                     `json:"reason"`
}

// newDeletionCertificate builds a certificate for the destroyed record
func newDeletionCertificate(rec *record.BackupRecord, regionCounts map[string]int, localPaths []string, keyShredded bool, reason string) *DeletionCertificate {
	cert := &DeletionCertificate{
		ID:                   "cert-" + uuid.New().String(),
		BackupID:             rec.ID,
		BackupType:           rec.Type,
		BackupCreatedAt:      rec.CreatedAt,
		DeletedAt:            time.Now().UTC(),
		RegionObjectsDeleted: regionCounts,
		LocalPathsDestroyed:  localPaths,
		KeyShredded:          keyShredded,
		Reason:               reason,
	}
	if rec.Classification != nil {
		cert.Classification = rec.Classification.Level
		cert.Frameworks = rec.Classification.Frameworks
		cert.RetentionDays = rec.Classification.RetentionDays
	}
	sort.Strings(cert.LocalPathsDestroyed)
	return cert
}

// CertificateStore persists deletion certificates as write-once files
type CertificateStore struct {
	dir string
}

// NewCertificateStore creates a certificate store rooted at dir
func NewCertificateStore(dir string) (*CertificateStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, apperrors.NewConfigurationError("failed to create certificate directory", err)
	}
	return &CertificateStore{dir: dir}, nil
}

func (cs *CertificateStore) path(backupID string) string {
	return filepath.Join(cs.dir, backupID+".json")
}

// Write persists the certificate. A certificate already on disk for the
// same backup is never overwritten.
func (cs *CertificateStore) Write(cert *DeletionCertificate) error {
	data, err := json.MarshalIndent(cert, "", "  ")
	if err != nil {
		return apperrors.NewStateError("failed to marshal deletion certificate for "+cert.BackupID, err)
	}

	f, err := os.OpenFile(cs.path(cert.BackupID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o400)
	if err != nil {
		if os.IsExist(err) {
			return apperrors.NewComplianceViolationError("deletion certificate already exists for "+cert.BackupID, err)
		}
		return apperrors.NewStateError("failed to create deletion certificate for "+cert.BackupID, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return apperrors.NewStateError("failed to write deletion certificate for "+cert.BackupID, err)
	}
	return f.Sync()
}

// Load reads the certificate for backupID
func (cs *CertificateStore) Load(backupID string) (*DeletionCertificate, error) {
	data, err := os.ReadFile(cs.path(backupID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("no deletion certificate for backup "+backupID, err)
		}
		return nil, apperrors.NewStateError("failed to read deletion certificate for "+backupID, err)
	}
	var cert DeletionCertificate
	if err := json.Unmarshal(data, &cert); err != nil {
		return nil, apperrors.NewStateError("corrupt deletion certificate for "+backupID, err)
	}
	return &cert, nil
}

// List returns all persisted certificates ordered by deletion time
func (cs *CertificateStore) List() ([]*DeletionCertificate, error) {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		return nil, apperrors.NewStateError("failed to list deletion certificates", err)
	}

	var certs []*DeletionCertificate
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		cert, err := cs.Load(entry.Name()[:len(entry.Name())-len(".json")])
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	sort.Slice(certs, func(i, j int) bool {
		return certs[i].DeletedAt.Before(certs[j].DeletedAt)
	})
	return certs, nil
}
