// Package validation verifies that backups are actually restorable:
// checksums, decryption, bounded restore into a throwaway database, and
// structural checks on the cache snapshot.
package validation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	apperrors "drguard/internal/errors"
	"drguard/internal/executor"
	"drguard/internal/logging"
	"drguard/internal/record"
	"drguard/internal/statestore"
	"drguard/internal/storage"
)

var rdbMagic = []byte("REDIS")

// RelationshipCheck names the sampled parent/child relationship used for
// the referential-integrity spot check
type RelationshipCheck struct {
	ChildTable   string `json:"child_table" yaml:"child_table"`
	ChildColumn  string `json:"child_column" yaml:"child_column"`
	ParentTable  string `json:"parent_table" yaml:"parent_table"`
	ParentColumn string `json:"parent_column" yaml:"parent_column"`
}

// Config configures the validation engine
type Config struct {
	// SandboxDSN points at the scratch MySQL server restores run against
	SandboxDSN           string                   `json:"sandbox_dsn" yaml:"sandbox_dsn"`
	RTOTarget            time.Duration            `json:"rto_target" yaml:"rto_target"`
	Timeout              time.Duration            `json:"timeout" yaml:"timeout"`
	MaxRestoreStatements int                      `json:"max_restore_statements" yaml:"max_restore_statements"`
	MinArtifactBytes     int64                    `json:"min_artifact_bytes" yaml:"min_artifact_bytes"`
	Compression          executor.CompressionType `json:"compression" yaml:"compression"`
	Relationship         *RelationshipCheck       `json:"relationship,omitempty" yaml:"relationship,omitempty"`
}

// SetDefaults fills unset fields with safe values
func (c *Config) SetDefaults() {
	if c.RTOTarget == 0 {
		c.RTOTarget = 15 * time.Minute
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Minute
	}
	if c.MaxRestoreStatements == 0 {
		c.MaxRestoreStatements = 500
	}
	if c.MinArtifactBytes == 0 {
		c.MinArtifactBytes = 64
	}
	if c.Compression == "" {
		c.Compression = executor.CompressionTypeZstd
	}
}

// Engine validates backups
type Engine struct {
	logger        *logging.Logger
	config        Config
	state         statestore.Store
	keys          *executor.KeyStore
	stores        map[string]storage.ObjectStore
	primaryRegion string
	sandboxes     SandboxFactory
	compression   *executor.CompressionManager
	encryptor     *executor.Encryptor
}

// NewEngine creates a validation engine
func NewEngine(logger *logging.Logger, config Config, state statestore.Store, keys *executor.KeyStore,
	stores map[string]storage.ObjectStore, primaryRegion string, sandboxes SandboxFactory) *Engine {
	config.SetDefaults()
	return &Engine{
		logger:        logger,
		config:        config,
		state:         state,
		keys:          keys,
		stores:        stores,
		primaryRegion: primaryRegion,
		sandboxes:     sandboxes,
		compression:   executor.NewCompressionManager(),
		encryptor:     executor.NewEncryptor(),
	}
}

// Validate runs the test battery against the identified backup and
// writes the verdict back into the registry
func (e *Engine) Validate(ctx context.Context, backupID string, full bool) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	rec, err := e.loadRecord(ctx, backupID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		BackupID:       backupID,
		StartedAt:      time.Now().UTC(),
		FullValidation: full,
		RTOTarget:      e.config.RTOTarget,
	}

	e.runTests(ctx, rec, report, full)

	report.Duration = time.Since(report.StartedAt)
	report.RTOCompliant = report.Duration <= e.config.RTOTarget
	report.computeVerdict()

	if err := e.persistVerdict(ctx, backupID, report); err != nil {
		return report, err
	}

	e.logger.LogValidationRun(backupID, string(report.Verdict), report.RTOCompliant, report.Duration)
	return report, nil
}

func (e *Engine) runTests(ctx context.Context, rec *record.BackupRecord, report *Report, full bool) {
	report.add(e.testMetadata(rec))

	artifacts, presence := e.testArtifactPresence(ctx, rec)
	report.add(presence)
	if presence.Status == TestFailed {
		return
	}

	report.add(e.testChecksums(rec, artifacts))

	key, decryption := e.testDecryption(rec, artifacts)
	report.add(decryption)
	if decryption.Status == TestFailed {
		return
	}

	if full {
		restore, integrity := e.testRestore(ctx, rec, artifacts, key)
		report.add(restore)
		if integrity != nil {
			report.add(*integrity)
		}
	}

	report.add(e.testCacheStructure(rec, artifacts, key))
	report.add(TestResult{
		Name:     "cache_restore",
		Status:   TestSkipped,
		Required: false,
		Detail:   "full key-level cache restore requires a service restart and is not performed",
	})
}

func (e *Engine) testMetadata(rec *record.BackupRecord) TestResult {
	start := time.Now()
	result := TestResult{Name: "metadata", Required: true, Status: TestPassed}

	if err := rec.Validate(); err != nil {
		result.Status = TestFailed
		result.Detail = err.Error()
	} else if rec.ConsistencyMarker == "" {
		result.Status = TestWarning
		result.Detail = "no consistency marker recorded, point-in-time recovery is not possible"
	}
	result.Duration = time.Since(start)
	return result
}

// testArtifactPresence fetches every artifact's bytes and checks the
// required set is present with sane sizes
func (e *Engine) testArtifactPresence(ctx context.Context, rec *record.BackupRecord) (map[string][]byte, TestResult) {
	start := time.Now()
	result := TestResult{Name: "artifact_presence", Required: true, Status: TestPassed}
	artifacts := make(map[string][]byte)

	var problems []string
	foundSQL, foundRDB := false, false
	for _, artifact := range rec.Artifacts {
		data, err := e.fetchArtifact(ctx, rec.ID, artifact)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", artifact.Name, err))
			continue
		}
		if int64(len(data)) < e.config.MinArtifactBytes {
			problems = append(problems, fmt.Sprintf("%s: %d bytes is below the minimum plausible size", artifact.Name, len(data)))
			continue
		}
		artifacts[artifact.Name] = data
		if strings.HasPrefix(artifact.Name, "mysql.sql") {
			foundSQL = true
		}
		if strings.HasPrefix(artifact.Name, "redis.rdb") {
			foundRDB = true
		}
	}

	if !foundSQL {
		problems = append(problems, "relational dump artifact is missing")
	}
	if !foundRDB {
		problems = append(problems, "cache snapshot artifact is missing")
	}
	if len(problems) > 0 {
		result.Status = TestFailed
		result.Detail = strings.Join(problems, "; ")
	}
	result.Duration = time.Since(start)
	return artifacts, result
}

// fetchArtifact reads an artifact from its local path, falling back to
// the primary object store
func (e *Engine) fetchArtifact(ctx context.Context, backupID string, artifact record.Artifact) ([]byte, error) {
	if artifact.LocalPath != "" {
		if data, err := os.ReadFile(artifact.LocalPath); err == nil {
			return data, nil
		}
	}

	store, ok := e.stores[e.primaryRegion]
	if !ok {
		return nil, apperrors.NewNotFoundError("artifact unavailable locally and no primary store configured", nil)
	}
	r, err := store.Get(ctx, fmt.Sprintf("backups/%s/%s", backupID, artifact.Name))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (e *Engine) testChecksums(rec *record.BackupRecord, artifacts map[string][]byte) TestResult {
	start := time.Now()
	result := TestResult{Name: "checksum", Required: true, Status: TestPassed}

	var mismatches []string
	for _, artifact := range rec.Artifacts {
		data, ok := artifacts[artifact.Name]
		if !ok {
			continue
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != artifact.Checksum {
			mismatches = append(mismatches, artifact.Name)
		}
	}

	if len(mismatches) > 0 {
		result.Status = TestFailed
		result.Detail = "checksum mismatch: " + strings.Join(mismatches, ", ")
	}
	result.Duration = time.Since(start)
	return result
}

// testDecryption re-derives the backup key and opens the relational
// artifact, returning the key for downstream tests
func (e *Engine) testDecryption(rec *record.BackupRecord, artifacts map[string][]byte) ([]byte, TestResult) {
	start := time.Now()
	result := TestResult{Name: "decryption", Required: true, Status: TestPassed}

	key, err := e.keys.Key(rec.ID)
	if err != nil {
		result.Status = TestFailed
		result.Detail = "encryption key unavailable: " + err.Error()
		result.Duration = time.Since(start)
		return nil, result
	}

	sample, ok := e.sqlArtifact(artifacts)
	if !ok {
		result.Status = TestFailed
		result.Detail = "no relational artifact available for decryption test"
		result.Duration = time.Since(start)
		return key, result
	}

	if _, err := e.encryptor.Decrypt(sample, key); err != nil {
		result.Status = TestFailed
		result.Detail = "decryption failed: " + err.Error()
	}
	result.Duration = time.Since(start)
	return key, result
}

// testRestore restores a bounded prefix of the dump into a sandbox and
// verifies the expected tables exist. Integrity findings downgrade to
// warnings because a partial restore is incomplete by construction.
func (e *Engine) testRestore(ctx context.Context, rec *record.BackupRecord, artifacts map[string][]byte, key []byte) (TestResult, *TestResult) {
	start := time.Now()
	result := TestResult{Name: "restore", Required: true, Status: TestPassed}

	sealed, ok := e.sqlArtifact(artifacts)
	if !ok {
		result.Status = TestFailed
		result.Detail = "no relational artifact available for restore"
		result.Duration = time.Since(start)
		return result, nil
	}

	plain, err := e.openArtifact(sealed, key)
	if err != nil {
		result.Status = TestFailed
		result.Detail = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}

	statements := splitStatements(string(plain))
	if len(statements) > e.config.MaxRestoreStatements {
		statements = statements[:e.config.MaxRestoreStatements]
	}
	expectedTables := countCreateTables(statements)

	sandbox, err := e.sandboxes.Acquire(ctx)
	if err != nil {
		result.Status = TestFailed
		result.Detail = "failed to acquire restore sandbox: " + err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}
	defer func() {
		if err := sandbox.Teardown(); err != nil {
			e.logger.WithField("backup_id", rec.ID).Warnf("Sandbox teardown failed: %v", err)
		}
	}()

	if err := sandbox.ExecuteSQL(ctx, statements); err != nil {
		result.Status = TestFailed
		result.Detail = "restore execution failed: " + err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}

	tables, err := sandbox.TableCount(ctx)
	if err != nil {
		result.Status = TestFailed
		result.Detail = err.Error()
		result.Duration = time.Since(start)
		return result, nil
	}
	if tables != expectedTables {
		result.Status = TestFailed
		result.Detail = fmt.Sprintf("sandbox holds %d tables, restore prefix created %d", tables, expectedTables)
		result.Duration = time.Since(start)
		return result, nil
	}
	result.Duration = time.Since(start)

	integrity := e.testReferentialIntegrity(ctx, sandbox)
	return result, &integrity
}

func (e *Engine) testReferentialIntegrity(ctx context.Context, sandbox Sandbox) TestResult {
	start := time.Now()
	result := TestResult{Name: "referential_integrity", Required: false, Status: TestPassed}

	if e.config.Relationship == nil {
		result.Status = TestSkipped
		result.Detail = "no relationship configured for the spot check"
		result.Duration = time.Since(start)
		return result
	}

	rel := e.config.Relationship
	orphans, err := sandbox.OrphanCount(ctx, rel.ChildTable, rel.ChildColumn, rel.ParentTable, rel.ParentColumn)
	if err != nil {
		result.Status = TestWarning
		result.Detail = "spot check could not run: " + err.Error()
	} else if orphans > 0 {
		// Expected for a bounded prefix restore, so a warning, not a failure
		result.Status = TestWarning
		result.Detail = fmt.Sprintf("%d orphaned rows in %s", orphans, rel.ChildTable)
	}
	result.Duration = time.Since(start)
	return result
}

func (e *Engine) testCacheStructure(rec *record.BackupRecord, artifacts map[string][]byte, key []byte) TestResult {
	start := time.Now()
	result := TestResult{Name: "cache_structure", Required: true, Status: TestPassed}

	var sealed []byte
	for name, data := range artifacts {
		if strings.HasPrefix(name, "redis.rdb") {
			sealed = data
			break
		}
	}
	if sealed == nil {
		result.Status = TestFailed
		result.Detail = "no cache snapshot artifact available"
		result.Duration = time.Since(start)
		return result
	}

	plain, err := e.openArtifact(sealed, key)
	if err != nil {
		result.Status = TestFailed
		result.Detail = err.Error()
	} else if !bytes.HasPrefix(plain, rdbMagic) {
		result.Status = TestFailed
		result.Detail = "cache snapshot does not start with the RDB magic header"
	}
	result.Duration = time.Since(start)
	return result
}

// openArtifact decrypts then decompresses one sealed artifact
func (e *Engine) openArtifact(sealed, key []byte) ([]byte, error) {
	compressed, err := e.encryptor.Decrypt(sealed, key)
	if err != nil {
		return nil, apperrors.NewIntegrityError("artifact failed to decrypt", err)
	}
	plain, err := e.compression.Decompress(compressed, e.config.Compression)
	if err != nil {
		return nil, apperrors.NewIntegrityError("artifact failed to decompress", err)
	}
	return plain, nil
}

func (e *Engine) sqlArtifact(artifacts map[string][]byte) ([]byte, bool) {
	for name, data := range artifacts {
		if strings.HasPrefix(name, "mysql.sql") {
			return data, true
		}
	}
	return nil, false
}

func (e *Engine) loadRecord(ctx context.Context, backupID string) (*record.BackupRecord, error) {
	var registry record.BackupRegistry
	if err := e.state.Load(ctx, statestore.KeyBackupRegistry, &registry); err != nil {
		return nil, apperrors.NewStateError("failed to load backup registry", err)
	}
	rec := registry.Get(backupID)
	if rec == nil {
		return nil, apperrors.NewNotFoundError("backup "+backupID+" is not in the registry", nil)
	}
	return rec, nil
}

func (e *Engine) persistVerdict(ctx context.Context, backupID string, report *Report) error {
	err := e.state.Update(ctx, statestore.KeyBackupRegistry, func(raw json.RawMessage) (interface{}, error) {
		registry := record.NewBackupRegistry()
		if raw != nil {
			if err := json.Unmarshal(raw, registry); err != nil {
				return nil, err
			}
		}
		rec := registry.Get(backupID)
		if rec == nil {
			return nil, apperrors.NewNotFoundError("backup "+backupID+" disappeared from the registry", nil)
		}
		if err := rec.SetValidationStatus(report.Verdict); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		rec.LastValidatedAt = &now
		return registry, nil
	})
	if err != nil {
		return apperrors.NewStateError("failed to persist validation verdict", err)
	}
	return nil
}

func splitStatements(dump string) []string {
	var statements []string
	for _, part := range strings.Split(dump, ";\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		statements = append(statements, trimmed)
	}
	return statements
}

func countCreateTables(statements []string) int {
	count := 0
	for _, stmt := range statements {
		if strings.HasPrefix(strings.ToUpper(stmt), "CREATE TABLE") {
			count++
		}
	}
	return count
}
