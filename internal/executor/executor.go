// Package executor performs single backup operations against the primary
// data stores: dump, compress, encrypt, checksum, upload, self-test, and
// registry commit. A failure at any step aborts the whole operation with
// no partial registry entry.
package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/logging"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

// Config configures the backup executor
type Config struct {
	WorkDir          string          `json:"work_dir" yaml:"work_dir"`
	MinFreeDiskBytes uint64          `json:"min_free_disk_bytes" yaml:"min_free_disk_bytes"`
	Compression      CompressionType `json:"compression" yaml:"compression"`
	CompressionLevel int             `json:"compression_level" yaml:"compression_level"`
	PrimaryRegion    string          `json:"primary_region" yaml:"primary_region"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.Compression == "" {
		c.Compression = CompressionTypeZstd
	}
	if c.MinFreeDiskBytes == 0 {
		c.MinFreeDiskBytes = 1 << 30
	}
}

// CleanupFunc is invoked after a successful backup to purge records past
// their retention deadline
type CleanupFunc func(ctx context.Context)

// Executor runs backup operations
type Executor struct {
	logger      *logging.Logger
	config      Config
	dumper      Dumper
	snapshotter Snapshotter
	stores      map[string]storage.ObjectStore
	keys        *KeyStore
	compression *CompressionManager
	encryptor   *Encryptor
	state       statestore.Store
	cleanup     CleanupFunc
}

// NewExecutor creates a backup executor
func NewExecutor(logger *logging.Logger, config Config, dumper Dumper, snapshotter Snapshotter,
	stores map[string]storage.ObjectStore, keys *KeyStore, state statestore.Store) (*Executor, error) {
	config.SetDefaults()
	if config.WorkDir == "" {
		return nil, apperrors.NewConfigurationError("executor work directory is required", nil)
	}
	if _, ok := stores[config.PrimaryRegion]; !ok {
		return nil, apperrors.NewConfigurationError("no object store configured for primary region "+config.PrimaryRegion, nil)
	}
	if err := os.MkdirAll(config.WorkDir, 0o755); err != nil {
		return nil, apperrors.NewConfigurationError("failed to create work directory", err)
	}

	return &Executor{
		logger:      logger,
		config:      config,
		dumper:      dumper,
		snapshotter: snapshotter,
		stores:      stores,
		keys:        keys,
		compression: NewCompressionManager(),
		encryptor:   NewEncryptor(),
		state:       state,
	}, nil
}

// SetCleanupFunc registers the retention cleanup trigger
func (e *Executor) SetCleanupFunc(fn CleanupFunc) {
	e.cleanup = fn
}

// Run executes one backup of the given type
func (e *Executor) Run(ctx context.Context, backupType record.BackupType) (*record.BackupRecord, error) {
	start := time.Now()
	rec := record.NewBackupRecord(backupType)
	stagingDir := filepath.Join(e.config.WorkDir, rec.ID)

	e.logger.WithFields(map[string]interface{}{
		"backup_id":   rec.ID,
		"backup_type": string(backupType),
	}).Info("Starting backup")

	result, err := e.run(ctx, rec, stagingDir)
	duration := time.Since(start)
	if err != nil {
		os.RemoveAll(stagingDir)
		if shredErr := e.keys.Shred(rec.ID); shredErr != nil {
			e.logger.Warnf("Failed to shred key material for aborted backup %s: %v", rec.ID, shredErr)
		}
		e.logger.LogBackupOperation(rec.ID, string(backupType), 0, duration, err)
		return nil, err
	}

	e.logger.LogBackupOperation(rec.ID, string(backupType), result.SizeBytes, duration, nil)

	if e.cleanup != nil {
		e.cleanup(ctx)
	}
	return result, nil
}

func (e *Executor) run(ctx context.Context, rec *record.BackupRecord, stagingDir string) (*record.BackupRecord, error) {
	start := time.Now()

	if err := e.preflight(ctx); err != nil {
		return nil, err
	}

	marker, err := e.dumper.ConsistencyMarker(ctx)
	if err != nil {
		return nil, err
	}
	rec.ConsistencyMarker = marker

	if err := os.MkdirAll(stagingDir, 0o700); err != nil {
		return nil, apperrors.NewDumpError("failed to create staging directory", err)
	}

	since, err := e.dumpBaseline(ctx, rec.Type)
	if err != nil {
		return nil, err
	}

	dumpPath := filepath.Join(stagingDir, "mysql.sql")
	tableCount, err := e.dumper.Dump(ctx, rec.Type, since, dumpPath)
	if err != nil {
		return nil, err
	}

	rdbPath := filepath.Join(stagingDir, "redis.rdb")
	if err := e.snapshotter.Snapshot(ctx, rdbPath); err != nil {
		return nil, err
	}

	key, salt, err := e.keys.CreateKey(rec.ID)
	if err != nil {
		return nil, err
	}
	rec.KeySalt = salt

	for _, name := range []string{"mysql.sql", "redis.rdb"} {
		artifact, err := e.packageArtifact(stagingDir, name, key)
		if err != nil {
			return nil, err
		}
		rec.Artifacts = append(rec.Artifacts, *artifact)
		rec.SizeBytes += artifact.SizeBytes
	}

	if err := e.upload(ctx, rec); err != nil {
		return nil, err
	}

	if err := e.selfTest(rec, key, tableCount); err != nil {
		return nil, err
	}

	rec.Duration = time.Since(start)
	if err := e.commit(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// preflight verifies connectivity to every dependency and minimum free
// disk space before any work starts
func (e *Executor) preflight(ctx context.Context) error {
	if err := e.dumper.Ping(ctx); err != nil {
		return err
	}
	if err := e.snapshotter.Ping(ctx); err != nil {
		return err
	}
	if err := e.stores[e.config.PrimaryRegion].HealthCheck(ctx); err != nil {
		return err
	}

	var stat syscall.Statfs_t
	if err := syscall.Statfs(e.config.WorkDir, &stat); err != nil {
		return apperrors.NewResourceExhaustionError("failed to stat work directory filesystem", err)
	}
	free := stat.Bavail * uint64(stat.Bsize)
	if free < e.config.MinFreeDiskBytes {
		return apperrors.NewInsufficientSpaceError(
			fmt.Sprintf("only %d bytes free in work directory, %d required", free, e.config.MinFreeDiskBytes), nil)
	}
	return nil
}

// dumpBaseline returns the change horizon for incremental and
// differential dumps
func (e *Executor) dumpBaseline(ctx context.Context, backupType record.BackupType) (time.Time, error) {
	if backupType == record.BackupTypeFull {
		return time.Time{}, nil
	}

	var registry record.BackupRegistry
	if err := e.state.Load(ctx, statestore.KeyBackupRegistry, &registry); err != nil {
		if err == statestore.ErrNotFound {
			return time.Time{}, nil
		}
		return time.Time{}, apperrors.NewStateError("failed to load backup registry", err)
	}

	switch backupType {
	case record.BackupTypeDifferential:
		// Differential captures everything since the last full backup
		if last := registry.LatestOfType(record.BackupTypeFull); last != nil {
			return last.CreatedAt, nil
		}
	case record.BackupTypeIncremental:
		var latest time.Time
		for _, r := range registry.Records {
			if r.CreatedAt.After(latest) {
				latest = r.CreatedAt
			}
		}
		return latest, nil
	}
	return time.Time{}, nil
}

// packageArtifact compresses, encrypts, and checksums one dump file,
// removing the plaintext intermediates
func (e *Executor) packageArtifact(stagingDir, name string, key []byte) (*record.Artifact, error) {
	rawPath := filepath.Join(stagingDir, name)
	compressedPath := rawPath + e.config.Compression.Extension()
	finalPath := compressedPath + ".enc"

	if _, err := e.compression.CompressFile(rawPath, compressedPath, e.config.Compression, e.config.CompressionLevel); err != nil {
		return nil, err
	}
	if err := e.encryptor.EncryptFile(compressedPath, finalPath, key); err != nil {
		return nil, err
	}

	os.Remove(rawPath)
	os.Remove(compressedPath)

	checksum, size, err := fileChecksum(finalPath)
	if err != nil {
		return nil, err
	}

	return &record.Artifact{
		Name:       filepath.Base(finalPath),
		LocalPath:  finalPath,
		RegionURIs: make(map[string]string),
		Checksum:   checksum,
		Encrypted:  true,
		SizeBytes:  size,
	}, nil
}

// upload pushes every artifact to the primary region and all replicas.
// A primary failure aborts the backup; replica failures are logged and
// left for the replication monitor to repair.
func (e *Executor) upload(ctx context.Context, rec *record.BackupRecord) error {
	tags := map[string]string{
		"backup-id":   rec.ID,
		"backup-type": string(rec.Type),
		"created-at":  rec.CreatedAt.Format(time.RFC3339),
	}

	for i := range rec.Artifacts {
		artifact := &rec.Artifacts[i]
		objectKey := fmt.Sprintf("backups/%s/%s", rec.ID, artifact.Name)

		for region, store := range e.stores {
			f, err := os.Open(artifact.LocalPath)
			if err != nil {
				return apperrors.NewUploadError("failed to open artifact "+artifact.Name, err)
			}
			putErr := store.Put(ctx, objectKey, f, storage.PutOptions{
				Tags:         tags,
				StorageClass: storage.ClassStandard,
			})
			f.Close()

			if putErr != nil {
				if region == e.config.PrimaryRegion {
					return putErr
				}
				e.logger.WithFields(map[string]interface{}{
					"backup_id": rec.ID,
					"region":    region,
					"artifact":  artifact.Name,
					"error":     putErr.Error(),
				}).Warn("Replica upload failed, replication sync will retry")
				continue
			}
			artifact.RegionURIs[region] = store.URI(objectKey)
		}

		if _, ok := artifact.RegionURIs[e.config.PrimaryRegion]; !ok {
			return apperrors.NewUploadError("artifact "+artifact.Name+" missing from primary region", nil)
		}
	}

	// Persist a checksum manifest alongside the artifacts
	manifest, err := json.MarshalIndent(rec.Artifacts, "", "  ")
	if err != nil {
		return apperrors.NewUploadError("failed to marshal checksum manifest", err)
	}
	manifestKey := fmt.Sprintf("backups/%s/manifest.json", rec.ID)
	if err := e.stores[e.config.PrimaryRegion].Put(ctx, manifestKey, strings.NewReader(string(manifest)), storage.PutOptions{
		Tags:        tags,
		ContentType: "application/json",
	}); err != nil {
		return apperrors.NewUploadError("failed to upload checksum manifest", err)
	}
	return nil
}

// selfTest decrypts and decompresses the relational dump and confirms
// the expected table count before the backup is declared good
func (e *Executor) selfTest(rec *record.BackupRecord, key []byte, expectedTables int) error {
	var sqlArtifact *record.Artifact
	for i := range rec.Artifacts {
		if strings.HasPrefix(rec.Artifacts[i].Name, "mysql.sql") {
			sqlArtifact = &rec.Artifacts[i]
			break
		}
	}
	if sqlArtifact == nil {
		return apperrors.NewSelfTestError("no relational artifact to self-test", nil)
	}

	sealed, err := os.ReadFile(sqlArtifact.LocalPath)
	if err != nil {
		return apperrors.NewSelfTestError("failed to read artifact for self-test", err)
	}

	checksum := sha256.Sum256(sealed)
	if hex.EncodeToString(checksum[:]) != sqlArtifact.Checksum {
		return apperrors.NewSelfTestError("artifact checksum mismatch during self-test", nil)
	}

	compressed, err := e.encryptor.Decrypt(sealed, key)
	if err != nil {
		return apperrors.NewSelfTestError("artifact failed to decrypt during self-test", err)
	}
	plain, err := e.compression.Decompress(compressed, e.config.Compression)
	if err != nil {
		return apperrors.NewSelfTestError("artifact failed to decompress during self-test", err)
	}

	created := strings.Count(string(plain), "CREATE TABLE")
	if created != expectedTables {
		return apperrors.NewSelfTestError(
			fmt.Sprintf("self-test found %d tables in dump, expected %d", created, expectedTables), nil)
	}
	return nil
}

// commit writes the finished record into the backup registry
func (e *Executor) commit(ctx context.Context, rec *record.BackupRecord) error {
	if err := rec.Validate(); err != nil {
		return apperrors.NewStateError("refusing to commit invalid backup record", err)
	}

	err := e.state.Update(ctx, statestore.KeyBackupRegistry, func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewBackupRegistry()
		if raw != nil {
			if err := json.Unmarshal(raw, registry); err != nil {
				return nil, err
			}
		}
		registry.Put(rec)
		return registry, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to commit backup record", err)
	}
	return nil
}

func fileChecksum(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, apperrors.NewIntegrityError("failed to open file for checksum", err)
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return "", 0, apperrors.NewIntegrityError("failed to checksum file", err)
	}
	return hex.EncodeToString(h.Sum(nil)), size, nil
}
