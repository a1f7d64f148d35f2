// Package record defines the persistent data model shared by the backup,
// validation, replication, failover, and retention components.
package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BackupType identifies the scope of a backup run
type BackupType string

const (
	BackupTypeIncremental  BackupType = "incremental"
	BackupTypeDifferential BackupType = "differential"
	BackupTypeFull         BackupType = "full"
)

// AllBackupTypes lists the backup types in dispatch tie-break order
var AllBackupTypes = []BackupType{BackupTypeIncremental, BackupTypeDifferential, BackupTypeFull}

// IsValid reports whether t is a known backup type
func (t BackupType) IsValid() bool {
	switch t {
	case BackupTypeIncremental, BackupTypeDifferential, BackupTypeFull:
		return true
	}
	return false
}

// BasePriority returns the scheduling base priority for the type. More
// recent-data-valuable types rank higher.
func (t BackupType) BasePriority() int {
	switch t {
	case BackupTypeIncremental:
		return 70
	case BackupTypeDifferential:
		return 50
	case BackupTypeFull:
		return 30
	}
	return 0
}

// Order returns the tie-break position of the type for equal priorities
func (t BackupType) Order() int {
	for i, bt := range AllBackupTypes {
		if bt == t {
			return i
		}
	}
	return len(AllBackupTypes)
}

// Artifact describes one backup output file and its storage locations
type Artifact struct {
	Name       string            `json:"name"`
	LocalPath  string            `json:"local_path,omitempty"`
	RegionURIs map[string]string `json:"region_uris,omitempty"`
	Checksum   string            `json:"checksum"`
	Encrypted  bool              `json:"encrypted"`
	SizeBytes  int64             `json:"size_bytes"`
}

// BackupRecord is the registry entry for one completed backup
type BackupRecord struct {
	ID                string           `json:"id"`
	Type              BackupType       `json:"type"`
	CreatedAt         time.Time        `json:"created_at"`
	SizeBytes         int64            `json:"size_bytes"`
	Duration          time.Duration    `json:"duration_ns"`
	ConsistencyMarker string           `json:"consistency_marker,omitempty"`
	Artifacts         []Artifact       `json:"artifacts"`
	ValidationStatus  ValidationStatus `json:"validation_status"`
	LastValidatedAt   *time.Time       `json:"last_validated_at,omitempty"`
	Classification    *Classification  `json:"classification,omitempty"`
	Archived          bool             `json:"archived"`
	ArchiveLocation   string           `json:"archive_location,omitempty"`
	RetentionDeadline *time.Time       `json:"retention_deadline,omitempty"`
	KeySalt           string           `json:"key_salt,omitempty"`
}

// NewBackupRecord creates an unvalidated record for a just-started backup
func NewBackupRecord(backupType BackupType) *BackupRecord {
	return &BackupRecord{
		ID:               GenerateBackupID(backupType),
		Type:             backupType,
		CreatedAt:        time.Now().UTC(),
		ValidationStatus: ValidationUntested,
	}
}

// GenerateBackupID produces an opaque identifier combining the type, a
// sortable timestamp, and a random suffix
func GenerateBackupID(backupType BackupType) string {
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s-%s-%s", backupType, time.Now().UTC().Format("20060102-150405"), suffix)
}

// Age returns how long ago the backup was created
func (r *BackupRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.CreatedAt)
}

// MarkArchived records the archive location and flips the archived flag.
// The location must be known before any local artifact can be purged.
func (r *BackupRecord) MarkArchived(location string) error {
	if location == "" {
		return fmt.Errorf("archive location is required before marking record %s archived", r.ID)
	}
	r.ArchiveLocation = location
	r.Archived = true
	return nil
}

// CanPurgeLocal reports whether local artifacts may be removed
func (r *BackupRecord) CanPurgeLocal() bool {
	return r.Archived && r.ArchiveLocation != ""
}

// LocalArtifactPaths returns the non-empty local paths of all artifacts
func (r *BackupRecord) LocalArtifactPaths() []string {
	var paths []string
	for _, a := range r.Artifacts {
		if a.LocalPath != "" {
			paths = append(paths, a.LocalPath)
		}
	}
	return paths
}

// Validate checks structural invariants of the record
func (r *BackupRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("backup record ID is required")
	}
	if !r.Type.IsValid() {
		return fmt.Errorf("backup record %s has unknown type %q", r.ID, r.Type)
	}
	if r.Archived && r.ArchiveLocation == "" {
		return fmt.Errorf("backup record %s is archived without an archive location", r.ID)
	}
	for _, a := range r.Artifacts {
		if a.Name == "" {
			return fmt.Errorf("backup record %s has an unnamed artifact", r.ID)
		}
		if a.Checksum == "" {
			return fmt.Errorf("backup record %s artifact %s is missing a checksum", r.ID, a.Name)
		}
	}
	return nil
}

// Job is the scheduler's transient bookkeeping entry for one dispatched task
type Job struct {
	ID        string     `json:"id"`
	Kind      JobKind    `json:"kind"`
	Priority  int        `json:"priority"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Status    JobStatus  `json:"status"`
	Error     string     `json:"error,omitempty"`
}

// JobKind identifies what a scheduler job does
type JobKind string

const (
	JobKindBackup     JobKind = "backup"
	JobKindValidation JobKind = "validation"
	JobKindCleanup    JobKind = "cleanup"
)

// JobStatus tracks a job's lifecycle
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// NewJob creates a queued job of the given kind
func NewJob(kind JobKind, priority int) *Job {
	return &Job{
		ID:       uuid.New().String(),
		Kind:     kind,
		Priority: priority,
		Status:   JobStatusQueued,
	}
}

// Complete finishes the job with the outcome of err
func (j *Job) Complete(err error) {
	now := time.Now().UTC()
	j.EndedAt = &now
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = err.Error()
		return
	}
	j.Status = JobStatusSucceeded
}
